// Package tun attaches capture sessions to virtual interfaces through the
// wireguard-go tun driver.
package tun

import (
	"net"

	"github.com/pkg/errors"
	wtun "golang.zx2c4.com/wireguard/tun"

	"github.com/irctrakz/tunsnoop/pkg/core"
	"github.com/irctrakz/tunsnoop/pkg/logging"
)

// DefaultMTU is the MTU requested for created interfaces.
const DefaultMTU = 1500

// Driver implements core.Driver on top of wtun.CreateTUN.
type Driver struct {
	mtu       int
	ringBytes int
	opts      []Option

	create func(name string, mtu int) (wtun.Device, error)
	exists func(name string) bool
}

// NewDriver creates a Driver. Zero values select DefaultMTU and
// DefaultRingBytes. opts apply to every session the driver starts.
func NewDriver(mtu, ringBytes int, opts ...Option) *Driver {
	if mtu <= 0 {
		mtu = DefaultMTU
	}
	if ringBytes <= 0 {
		ringBytes = DefaultRingBytes
	}
	return &Driver{
		mtu:       mtu,
		ringBytes: ringBytes,
		opts:      opts,
		create:    wtun.CreateTUN,
		exists: func(name string) bool {
			_, err := net.InterfaceByName(name)
			return err == nil
		},
	}
}

// Open attaches to an existing interface, or returns core.ErrNotFound.
func (d *Driver) Open(name string) (core.Session, error) {
	if !d.exists(name) {
		return nil, errors.Wrapf(core.ErrNotFound, "open %s", name)
	}
	dev, err := d.create(name, d.mtu)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", name)
	}
	logging.Infof("Attached to existing interface %s", name)
	return d.session(dev)
}

// Create creates the interface and starts a session on it.
func (d *Driver) Create(name, description string) (core.Session, error) {
	dev, err := d.create(name, d.mtu)
	if err != nil {
		return nil, errors.Wrapf(err, "create %s", name)
	}
	logging.InfoWithFields(map[string]interface{}{
		"interface":   name,
		"description": description,
		"mtu":         d.mtu,
	}, "Created interface")
	return d.session(dev)
}

func (d *Driver) session(dev wtun.Device) (core.Session, error) {
	s, err := NewSession(dev, d.ringBytes, d.opts...)
	if err != nil {
		dev.Close()
		return nil, err
	}
	return s, nil
}
