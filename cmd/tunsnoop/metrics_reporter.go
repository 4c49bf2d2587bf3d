package main

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"time"

	"github.com/irctrakz/tunsnoop/pkg/capture"
	"github.com/irctrakz/tunsnoop/pkg/core"
	"github.com/irctrakz/tunsnoop/pkg/logging"
	"github.com/irctrakz/tunsnoop/pkg/netstate"
	"github.com/irctrakz/tunsnoop/pkg/pcapdump"
	"github.com/irctrakz/tunsnoop/pkg/sniff"
)

// statusSource gathers everything the reporter and the status endpoint
// expose. Nil members are omitted.
type statusSource struct {
	loop     *capture.Loop
	metrics  *capture.Metrics
	sniffer  *sniff.Sniffer
	session  core.Session
	index    *netstate.SharedIndex
	guard    *netstate.Guard
	flag     *netstate.RestorationFlag
	recorder *pcapdump.Writer
	async    *capture.AsyncObserver
}

type metricsSnapshot struct {
	Timestamp string            `json:"ts"`
	Capture   map[string]uint64 `json:"capture"`
	Sniffer   map[string]uint64 `json:"sniffer,omitempty"`
	Session   map[string]uint64 `json:"session,omitempty"`
	PCAP      map[string]uint64 `json:"pcap,omitempty"`
	Observer  map[string]uint64 `json:"observer,omitempty"`
	RT        map[string]uint64 `json:"rt"`
}

func (s *statusSource) snapshot(now time.Time) metricsSnapshot {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	snap := metricsSnapshot{
		Timestamp: now.UTC().Format(time.RFC3339),
		Capture:   map[string]uint64{},
		RT: map[string]uint64{
			"heap_alloc": ms.HeapAlloc,
			"heap_inuse": ms.HeapInuse,
			"num_gc":     uint64(ms.NumGC),
			"goroutines": uint64(runtime.NumGoroutine()),
		},
	}
	if s.metrics != nil {
		snap.Capture = s.metrics.Map()
	}
	if s.sniffer != nil {
		snap.Sniffer = s.sniffer.Metrics()
	}
	if s.session != nil {
		sm := s.session.Metrics()
		snap.Session = map[string]uint64{
			"pkts_recv":  sm.PacketsReceived,
			"bytes_recv": sm.BytesReceived,
			"errors":     sm.Errors,
		}
	}
	if s.recorder != nil {
		snap.PCAP = s.recorder.Metrics()
	}
	if s.async != nil {
		snap.Observer = s.async.Metrics()
	}
	return snap
}

func runMetricsReporter(ctx context.Context, src *statusSource, interval time.Duration, format string) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			logging.Infof("metrics: %s", formatMetrics(src.snapshot(now), format))
		}
	}
}

func formatMetrics(snap metricsSnapshot, format string) string {
	if format == "json" {
		b, err := json.Marshal(snap)
		if err != nil {
			return fmt.Sprintf("marshal failed: %v", err)
		}
		return string(b)
	}
	c := snap.Capture
	return fmt.Sprintf("ts=%s frames=%d bytes=%d rxerr=%d degraded=%d | tcp=%d udp=%d other=%d | http: req=%d resp=%d inc=%d | dns=%d sniff_err=%d | session: pkts=%d err=%d | pcap: frames=%d err=%d | obs: drops=%d | rt: heap=%dMi gor=%d gc=%d",
		snap.Timestamp,
		c["frames"], c["bytes"], c["receive_errors"], c["degraded"],
		c["tcp"], c["udp"], c["other"],
		c["http_requests"], c["http_responses"], c["http_incomplete"],
		c["dns"], c["sniff_errors"],
		snap.Session["pkts_recv"], snap.Session["errors"],
		snap.PCAP["frames"], snap.PCAP["errors"],
		c["observer_drops"],
		snap.RT["heap_alloc"]/(1024*1024), snap.RT["goroutines"], snap.RT["num_gc"],
	)
}
