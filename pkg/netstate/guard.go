package netstate

import (
	"context"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/irctrakz/tunsnoop/pkg/core"
	"github.com/irctrakz/tunsnoop/pkg/logging"
)

// DefaultRouteMetric is the metric of the installed default route.
const DefaultRouteMetric = 1

// Option configures a Guard.
type Option func(*Guard)

// WithRouteMetric sets the default route metric.
func WithRouteMetric(metric int) Option {
	return func(g *Guard) {
		if metric > 0 {
			g.metric = metric
		}
	}
}

// WithResolver replaces the index resolver.
func WithResolver(r *Resolver) Option {
	return func(g *Guard) { g.resolver = r }
}

// Guard provisions the virtual interface and restores the host afterwards.
type Guard struct {
	exec     core.CommandExecutor
	flag     *RestorationFlag
	resolver *Resolver
	metric   int
	log      *logrus.Entry

	// mu is held for the whole of Provision so Restore sees a settled
	// snapshot.
	mu       sync.Mutex
	snapshot *Snapshot
}

// NewGuard creates a Guard. flag is shared with every other party that may
// trigger restoration.
func NewGuard(exec core.CommandExecutor, flag *RestorationFlag, opts ...Option) *Guard {
	g := &Guard{
		exec:   exec,
		flag:   flag,
		metric: DefaultRouteMetric,
		log:    logging.WithComponent("netstate"),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.resolver == nil {
		g.resolver = NewResolver(exec)
	}
	return g
}

// Snapshot returns a copy of the recorded changes, or nil if none were made.
func (g *Guard) Snapshot() *Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.snapshot == nil {
		return nil
	}
	s := *g.snapshot
	return &s
}

// Provision assigns address/mask to the interface, resolves its index and
// installs a default route through it. Failures are *core.ProvisionError;
// the returned handle carries whatever was resolved.
func (g *Guard) Provision(ctx context.Context, name, address, mask string) (InterfaceHandle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	handle := InterfaceHandle{Name: name}
	log := g.log.WithField("interface", name)

	if g.flag.IsSet() {
		return handle, core.ErrRestored
	}
	_, err := g.exec.Run(ctx, "netsh", "interface", "ipv4", "set", "address",
		"name="+name, "source=static", "addr="+address, "mask="+mask, "gateway=none")
	if err != nil {
		return handle, &core.ProvisionError{Stage: core.StageAddress, Err: err}
	}
	g.snapshot = &Snapshot{Interface: name, AddressAssigned: true}
	log.Infof("Assigned %s/%s", address, mask)

	if g.flag.IsSet() {
		return handle, core.ErrRestored
	}
	idx, err := g.resolver.Resolve(ctx, name)
	if err != nil {
		return handle, &core.ProvisionError{Stage: core.StageIndex, Err: err}
	}
	handle.Index = idx
	g.snapshot.Index = idx

	if g.flag.IsSet() {
		return handle, core.ErrRestored
	}
	_, err = g.exec.Run(ctx, "route", "add", "0.0.0.0", "mask", "0.0.0.0", "0.0.0.0",
		"metric", strconv.Itoa(g.metric), "if", idx.String())
	if err != nil {
		return handle, &core.ProvisionError{Stage: core.StageRoute, Err: err}
	}
	g.snapshot.RouteInstalled = true
	log.WithField("index", idx.String()).Infof("Installed default route (metric %d)", g.metric)

	return handle, nil
}

// Restore reverts the host changes for the physical adapter. Only the first
// call does anything; later and concurrent calls return immediately. Step
// failures are logged and the remaining steps still run.
func (g *Guard) Restore(ctx context.Context, physical string, index Index) {
	if !g.flag.TestAndSet() {
		return
	}

	g.mu.Lock()
	snap := g.snapshot
	g.mu.Unlock()

	if snap == nil {
		g.log.Debug("No host changes recorded, nothing to restore")
		return
	}
	if !index.Known() {
		index = snap.Index
	}

	log := g.log.WithField("physical", physical)
	log.Info("Restoring host network configuration")

	if v, ok := index.Get(); ok {
		g.step(ctx, "route", "route", "delete", "0.0.0.0", "mask", "0.0.0.0", "0.0.0.0", "if", strconv.FormatUint(uint64(v), 10))
	} else {
		// Removes every default route, including ones this process never added.
		log.Warn("Interface index unknown, deleting all default routes")
		g.step(ctx, "route", "route", "delete", "0.0.0.0")
	}
	g.step(ctx, "address", "netsh", "interface", "ipv4", "set", "address", "name="+physical, "source=dhcp")
	g.step(ctx, "dns", "netsh", "interface", "ipv4", "set", "dns", "name="+physical, "source=dhcp")
	g.step(ctx, "renew", "ipconfig", "/renew")

	log.Info("Host network configuration restored")
}

func (g *Guard) step(ctx context.Context, step, name string, args ...string) {
	if _, err := g.exec.Run(ctx, name, args...); err != nil {
		g.log.Warn((&core.RestoreError{Step: step, Err: err}).Error())
	}
}
