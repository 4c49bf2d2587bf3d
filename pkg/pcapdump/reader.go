package pcapdump

import (
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/pkg/errors"
)

// Reader yields IP frames from a PCAP stream. Files written by Writer use
// LINKTYPE_RAW; Ethernet captures are accepted and non-IP frames skipped.
type Reader struct {
	r      *pcapgo.Reader
	link   layers.LinkType
	eth    layers.Ethernet
	closer io.Closer
}

// Open opens the PCAP file at path.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open pcap file")
	}
	r, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// NewReader reads the file header from in.
func NewReader(in io.Reader) (*Reader, error) {
	pr, err := pcapgo.NewReader(in)
	if err != nil {
		return nil, errors.Wrap(err, "read pcap header")
	}
	switch lt := pr.LinkType(); lt {
	case layers.LinkTypeRaw, layers.LinkTypeEthernet:
		return &Reader{r: pr, link: lt}, nil
	default:
		return nil, errors.Errorf("unsupported pcap link type %s", lt)
	}
}

// Next returns the next IP frame and its capture time. It returns io.EOF
// after the last record.
func (r *Reader) Next() (time.Time, []byte, error) {
	for {
		data, ci, err := r.r.ReadPacketData()
		if err != nil {
			if err == io.EOF {
				return time.Time{}, nil, io.EOF
			}
			return time.Time{}, nil, errors.Wrap(err, "read pcap record")
		}
		if r.link == layers.LinkTypeEthernet {
			if err := r.eth.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
				continue
			}
			if r.eth.EthernetType != layers.EthernetTypeIPv4 && r.eth.EthernetType != layers.EthernetTypeIPv6 {
				continue
			}
			data = r.eth.Payload
		}
		return ci.Timestamp, data, nil
	}
}

// Close closes the file if the Reader owns one.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
