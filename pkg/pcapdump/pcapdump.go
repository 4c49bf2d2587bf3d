// Package pcapdump records captured frames to a PCAP file (LINKTYPE_RAW).
package pcapdump

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/pkg/errors"
)

// Snaplen is the capture length recorded in the file header.
const Snaplen = 65535

// Writer appends raw IP frames to a PCAP stream. It is safe for concurrent
// use.
type Writer struct {
	mu     sync.Mutex
	out    io.Writer
	closer io.Closer
	buf    *bufio.Writer
	pw     *pcapgo.Writer

	frames uint64
	bytes  uint64
	errors uint64
}

// Create creates (or truncates) path and writes the file header.
func Create(path string) (*Writer, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.Wrap(err, "pcap directory")
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "create pcap file")
	}
	w, err := NewWriter(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.closer = f
	return w, nil
}

// NewWriter writes the file header to out.
func NewWriter(out io.Writer) (*Writer, error) {
	buf := bufio.NewWriter(out)
	pw := pcapgo.NewWriter(buf)
	if err := pw.WriteFileHeader(Snaplen, layers.LinkTypeRaw); err != nil {
		return nil, errors.Wrap(err, "write pcap header")
	}
	return &Writer{out: out, buf: buf, pw: pw}, nil
}

// WritePacket records frame captured at ts. Frames longer than Snaplen are
// truncated in the file.
func (w *Writer) WritePacket(ts time.Time, frame []byte) error {
	if len(frame) == 0 {
		return nil
	}
	data := frame
	if len(data) > Snaplen {
		data = data[:Snaplen]
	}
	ci := gopacket.CaptureInfo{
		Timestamp:     ts,
		CaptureLength: len(data),
		Length:        len(frame),
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pw == nil {
		return errors.New("pcap writer closed")
	}
	if err := w.pw.WritePacket(ci, data); err != nil {
		atomic.AddUint64(&w.errors, 1)
		return errors.Wrap(err, "write pcap packet")
	}
	atomic.AddUint64(&w.frames, 1)
	atomic.AddUint64(&w.bytes, uint64(len(frame)))
	return nil
}

// Flush writes buffered records to the underlying writer.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf == nil {
		return nil
	}
	return w.buf.Flush()
}

// Close flushes and closes the file if the Writer owns one.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pw == nil {
		return nil
	}
	err := w.buf.Flush()
	if w.closer != nil {
		if cerr := w.closer.Close(); err == nil {
			err = cerr
		}
	}
	w.pw = nil
	w.buf = nil
	return err
}

// Metrics returns recording counters.
func (w *Writer) Metrics() map[string]uint64 {
	return map[string]uint64{
		"frames": atomic.LoadUint64(&w.frames),
		"bytes":  atomic.LoadUint64(&w.bytes),
		"errors": atomic.LoadUint64(&w.errors),
	}
}
