package capture

import (
	"encoding/hex"
	"fmt"
	"io"
	"net/netip"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/irctrakz/tunsnoop/pkg/core"
	"github.com/irctrakz/tunsnoop/pkg/logging"
)

// AsyncObserver decouples observers from the capture goroutine with a
// bounded queue served by a worker pool. Summaries are dropped when the
// queue is full.
type AsyncObserver struct {
	next        core.Observer
	workerCount int
	queue       chan *core.PacketSummary
	wg          sync.WaitGroup

	// mu guards queue against a send after close.
	mu      sync.RWMutex
	stopped bool

	delivered uint64
	dropped   uint64
	metrics   *Metrics
	launch    core.Launcher
}

// AsyncOption configures an AsyncObserver.
type AsyncOption func(*AsyncObserver)

// WithLauncher starts the workers through l, typically the shutdown
// coordinator's Go.
func WithLauncher(l core.Launcher) AsyncOption {
	return func(a *AsyncObserver) { a.launch = l }
}

// NewAsyncObserver creates an AsyncObserver in front of next. Dropped
// summaries are also counted in metrics when it is non-nil.
func NewAsyncObserver(next core.Observer, workerCount, queueCap int, metrics *Metrics, opts ...AsyncOption) *AsyncObserver {
	if workerCount <= 0 {
		workerCount = 1
	}
	if queueCap <= 0 {
		queueCap = 1000
	}
	a := &AsyncObserver{
		next:        next,
		workerCount: workerCount,
		queue:       make(chan *core.PacketSummary, queueCap),
		metrics:     metrics,
		launch:      core.Go,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start starts the worker pool.
func (a *AsyncObserver) Start() {
	a.wg.Add(a.workerCount)
	for i := 0; i < a.workerCount; i++ {
		id := i
		a.launch(func() { a.worker(id) })
	}
	logging.Debugf("Async observer started with %d workers", a.workerCount)
}

// Stop drains the queue and waits for the workers.
func (a *AsyncObserver) Stop() {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	a.stopped = true
	close(a.queue)
	a.mu.Unlock()

	a.wg.Wait()
	logging.Debugf("Async observer stopped")
}

// Observe implements core.Observer. It never blocks.
func (a *AsyncObserver) Observe(s *core.PacketSummary) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.stopped {
		a.drop()
		return
	}
	select {
	case a.queue <- s:
	default:
		a.drop()
	}
}

func (a *AsyncObserver) drop() {
	atomic.AddUint64(&a.dropped, 1)
	if a.metrics != nil {
		atomic.AddUint64(&a.metrics.ObserverDrops, 1)
	}
}

func (a *AsyncObserver) worker(id int) {
	defer a.wg.Done()
	for s := range a.queue {
		a.next.Observe(s)
		atomic.AddUint64(&a.delivered, 1)
	}
	logging.Debugf("Async observer worker %d stopped", id)
}

// Metrics returns metrics for the observer queue.
func (a *AsyncObserver) Metrics() map[string]uint64 {
	return map[string]uint64{
		"delivered": atomic.LoadUint64(&a.delivered),
		"dropped":   atomic.LoadUint64(&a.dropped),
		"queued":    uint64(len(a.queue)),
	}
}

// LogObserver renders summaries as structured log lines on its own logger,
// separate from the diagnostic log.
type LogObserver struct {
	log *logrus.Logger
}

// NewLogObserver writes summaries to out (stdout when nil). format is
// "text" or "json".
func NewLogObserver(out io.Writer, format string) *LogObserver {
	if out == nil {
		out = os.Stdout
	}
	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(logrus.InfoLevel)
	if format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableColors: true})
	}
	return &LogObserver{log: l}
}

// Observe implements core.Observer.
func (o *LogObserver) Observe(s *core.PacketSummary) {
	o.log.WithFields(SummaryFields(s)).WithTime(s.Timestamp).Info(SummaryLine(s))
}

// SummaryLine returns a one-line description such as
// "TCP 10.0.0.1:51000 -> 93.184.216.34:80 [PA]".
func SummaryLine(s *core.PacketSummary) string {
	var b strings.Builder
	b.WriteString(s.Transport.String())
	if s.Transport == core.TransportOther {
		fmt.Fprintf(&b, "(%d)", s.Protocol)
	}
	fmt.Fprintf(&b, " %s -> %s", endpoint(s.Src, s.SrcPort, s.Transport), endpoint(s.Dst, s.DstPort, s.Transport))
	if s.Transport == core.TransportTCP {
		fmt.Fprintf(&b, " [%s]", flagString(s.Flags))
	}
	if s.App != nil {
		b.WriteString(" ")
		b.WriteString(appLine(s.App))
	}
	return b.String()
}

// SummaryFields returns the logrus fields for a summary.
func SummaryFields(s *core.PacketSummary) logrus.Fields {
	f := logrus.Fields{
		"ip":      s.IPVersion,
		"len":     s.Length,
		"ttl":     s.TTL,
		"payload": s.PayloadLen,
	}
	switch s.Transport {
	case core.TransportTCP:
		f["seq"] = s.Seq
		f["ack"] = s.Ack
		f["win"] = s.Window
	case core.TransportUDP:
		f["udp_len"] = s.UDPLength
	}
	if s.Degraded != "" {
		f["degraded"] = s.Degraded
	}
	if len(s.Preview) > 0 {
		f["hex"] = hex.EncodeToString(s.Preview)
		if utf8.Valid(s.Preview) {
			f["text"] = string(s.Preview)
		}
	}
	if a := s.App; a != nil {
		f["app"] = string(a.Kind)
		f["app_status"] = a.Status.String()
		if a.Err != nil {
			f["app_error"] = a.Err.Error()
		}
		for _, h := range a.Headers {
			if strings.EqualFold(h.Name, "Host") {
				f["host"] = h.Value
			}
		}
	}
	return f
}

func endpoint(addr netip.Addr, port uint16, t core.Transport) string {
	switch {
	case !addr.IsValid() && t == core.TransportOther:
		return "?"
	case !addr.IsValid():
		return fmt.Sprintf("?:%d", port)
	case t == core.TransportOther:
		return addr.String()
	default:
		return netip.AddrPortFrom(addr, port).String()
	}
}

func flagString(f core.TCPFlags) string {
	var b strings.Builder
	for _, x := range []struct {
		on bool
		c  byte
	}{{f.SYN, 'S'}, {f.FIN, 'F'}, {f.RST, 'R'}, {f.PSH, 'P'}, {f.ACK, 'A'}} {
		if x.on {
			b.WriteByte(x.c)
		}
	}
	if b.Len() == 0 {
		return "."
	}
	return b.String()
}

func appLine(a *core.AppSummary) string {
	switch {
	case a.Status == core.StatusIncomplete:
		return "HTTP (incomplete)"
	case a.Status == core.StatusError:
		return fmt.Sprintf("%s (unparsed)", strings.ToUpper(string(a.Kind)))
	case a.Kind == core.AppHTTPRequest:
		return fmt.Sprintf("HTTP %s %s %s", a.Method, a.Path, a.Version)
	case a.Kind == core.AppHTTPResponse:
		return fmt.Sprintf("HTTP %s %d %s", a.Version, a.Code, a.Reason)
	case a.Kind == core.AppDNS && a.DNS != nil:
		dir := "query"
		if a.DNS.Response {
			dir = "response"
		}
		return fmt.Sprintf("DNS %s id=%d %s answers=%d rcode=%s", dir, a.DNS.ID, strings.Join(a.DNS.Questions, ","), a.DNS.Answers, a.DNS.RCode)
	default:
		return string(a.Kind)
	}
}
