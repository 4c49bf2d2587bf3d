package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/irctrakz/tunsnoop/pkg/capture"
	"github.com/irctrakz/tunsnoop/pkg/logging"
)

type stateResponse struct {
	State           string `json:"state"`
	Interface       string `json:"interface,omitempty"`
	Index           string `json:"index"`
	AddressAssigned bool   `json:"address_assigned"`
	RouteInstalled  bool   `json:"route_installed"`
	Restored        bool   `json:"restored"`
}

func newStatusRouter(src *statusSource) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", src.healthHandler).Methods(http.MethodGet)
	r.HandleFunc("/metrics", src.metricsHandler).Methods(http.MethodGet)
	r.HandleFunc("/state", src.stateHandler).Methods(http.MethodGet)
	return r
}

// healthHandler reports 200 while the loop is capturing.
func (s *statusSource) healthHandler(w http.ResponseWriter, r *http.Request) {
	state := capture.StateIdle
	if s.loop != nil {
		state = s.loop.State()
	}
	if state != capture.StateCapturing {
		http.Error(w, state.String(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *statusSource) metricsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.snapshot(time.Now()))
}

func (s *statusSource) stateHandler(w http.ResponseWriter, r *http.Request) {
	resp := stateResponse{State: capture.StateIdle.String(), Index: "unknown"}
	if s.loop != nil {
		resp.State = s.loop.State().String()
	}
	if s.session != nil {
		resp.Interface = s.session.Name()
	}
	if s.index != nil {
		resp.Index = s.index.Get().String()
	}
	if s.guard != nil {
		if snap := s.guard.Snapshot(); snap != nil {
			resp.AddressAssigned = snap.AddressAssigned
			resp.RouteInstalled = snap.RouteInstalled
		}
	}
	if s.flag != nil {
		resp.Restored = s.flag.IsSet()
	}
	writeJSON(w, resp)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// runStatusServer serves h on addr until ctx is done.
func runStatusServer(ctx context.Context, addr string, h http.Handler) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logging.Infof("Status server listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			logging.Warnf("Status server on %s failed: %v", addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
