package capture

import (
	"context"

	"github.com/pkg/errors"

	"github.com/irctrakz/tunsnoop/pkg/core"
	"github.com/irctrakz/tunsnoop/pkg/logging"
	"github.com/irctrakz/tunsnoop/pkg/netstate"
)

// Provisioner applies host configuration for the virtual interface.
type Provisioner interface {
	Provision(ctx context.Context, name, address, mask string) (netstate.InterfaceHandle, error)
}

// Interceptor brings up the virtual interface and routes host traffic
// through it.
type Interceptor struct {
	cfg    core.InterceptorConfig
	driver core.Driver
	guard  Provisioner
	index  *netstate.SharedIndex
}

// NewInterceptor creates an Interceptor. The resolved interface index is
// published to index for the shutdown paths.
func NewInterceptor(cfg core.InterceptorConfig, driver core.Driver, guard Provisioner, index *netstate.SharedIndex) *Interceptor {
	return &Interceptor{cfg: cfg, driver: driver, guard: guard, index: index}
}

// Start opens the adapter (creating it when it does not exist) and
// provisions it. Provisioning failures are logged and capture continues
// without the default route. Only a failure to obtain a session is
// returned, along with core.ErrRestored when shutdown already began.
func (i *Interceptor) Start(ctx context.Context) (core.Session, error) {
	log := logging.WithComponent("interceptor").WithField("interface", i.cfg.TUNName)

	session, err := i.driver.Open(i.cfg.TUNName)
	if errors.Is(err, core.ErrNotFound) {
		log.Info("Adapter not found, creating it")
		session, err = i.driver.Create(i.cfg.TUNName, i.cfg.TUNDescription)
	}
	if err != nil {
		return nil, errors.Wrap(err, "start capture session")
	}

	if i.cfg.ReadOnly {
		log.Info("Read-only mode, host routing left unchanged")
		return session, nil
	}

	handle, err := i.guard.Provision(ctx, session.Name(), i.cfg.TUNIP, i.cfg.TUNMask)
	if i.index != nil {
		i.index.Set(handle.Index)
	}
	switch {
	case err == nil:
		log.WithField("index", handle.Index.String()).Info("Interface provisioned")
	case errors.Is(err, core.ErrRestored):
		session.Close()
		return nil, err
	default:
		var pe *core.ProvisionError
		if errors.As(err, &pe) {
			log.WithField("stage", pe.Stage).Warnf("Provisioning failed, capturing without default route: %v", pe.Err)
		} else {
			log.Warnf("Provisioning failed, capturing without default route: %v", err)
		}
	}
	return session, nil
}
