package capture

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irctrakz/tunsnoop/pkg/core"
	"github.com/irctrakz/tunsnoop/pkg/netstate"
	"github.com/irctrakz/tunsnoop/pkg/tun"
)

type fakeProvisioner struct {
	handle netstate.InterfaceHandle
	err    error
	calls  []string
}

func (f *fakeProvisioner) Provision(_ context.Context, name, address, mask string) (netstate.InterfaceHandle, error) {
	f.calls = append(f.calls, name+" "+address+" "+mask)
	h := f.handle
	h.Name = name
	return h, f.err
}

func testInterceptorConfig() core.InterceptorConfig {
	return core.InterceptorConfig{
		TUNName:        "tunsnoop0",
		TUNIP:          "10.0.0.1",
		TUNMask:        "255.255.255.0",
		TUNDescription: "capture",
	}
}

func TestInterceptor_CreatesMissingAdapter(t *testing.T) {
	drv := tun.NewMockDriver("tunsnoop0", false)
	prov := &fakeProvisioner{handle: netstate.InterfaceHandle{Index: netstate.KnownIndex(17)}}
	idx := &netstate.SharedIndex{}

	session, err := NewInterceptor(testInterceptorConfig(), drv, prov, idx).Start(context.Background())
	require.NoError(t, err)
	defer session.Close()

	opens, creates := drv.Calls()
	assert.Equal(t, 1, opens)
	assert.Equal(t, 1, creates)
	assert.Equal(t, []string{"tunsnoop0 10.0.0.1 255.255.255.0"}, prov.calls)

	v, ok := idx.Get().Get()
	assert.True(t, ok)
	assert.Equal(t, uint32(17), v)
}

func TestInterceptor_OpensExistingAdapter(t *testing.T) {
	drv := tun.NewMockDriver("tunsnoop0", true)
	session, err := NewInterceptor(testInterceptorConfig(), drv, &fakeProvisioner{}, nil).Start(context.Background())
	require.NoError(t, err)
	defer session.Close()

	_, creates := drv.Calls()
	assert.Zero(t, creates)
}

func TestInterceptor_ReadOnlySkipsProvisioning(t *testing.T) {
	cfg := testInterceptorConfig()
	cfg.ReadOnly = true
	prov := &fakeProvisioner{}

	session, err := NewInterceptor(cfg, tun.NewMockDriver("tunsnoop0", true), prov, nil).Start(context.Background())
	require.NoError(t, err)
	defer session.Close()
	assert.Empty(t, prov.calls)
}

func TestInterceptor_ProvisionFailureKeepsCapturing(t *testing.T) {
	prov := &fakeProvisioner{err: &core.ProvisionError{Stage: core.StageRoute, Err: errors.New("denied")}}
	idx := &netstate.SharedIndex{}

	session, err := NewInterceptor(testInterceptorConfig(), tun.NewMockDriver("tunsnoop0", true), prov, idx).Start(context.Background())
	require.NoError(t, err)
	require.NotNil(t, session)
	defer session.Close()
	assert.False(t, idx.Get().Known())
}

func TestInterceptor_RestoredClosesSession(t *testing.T) {
	drv := tun.NewMockDriver("tunsnoop0", true)
	prov := &fakeProvisioner{err: core.ErrRestored}

	session, err := NewInterceptor(testInterceptorConfig(), drv, prov, nil).Start(context.Background())
	assert.ErrorIs(t, err, core.ErrRestored)
	assert.Nil(t, session)
	assert.Error(t, drv.Device.SimulatePacketReceived([]byte{0x45}), "device closed with the session")
}

func TestInterceptor_CreateFailureIsFatal(t *testing.T) {
	drv := tun.NewMockDriver("tunsnoop0", false)
	drv.CreateErr = errors.New("driver not installed")

	_, err := NewInterceptor(testInterceptorConfig(), drv, &fakeProvisioner{}, nil).Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "driver not installed")
}

func TestInterceptor_OpenErrorDoesNotCreate(t *testing.T) {
	drv := tun.NewMockDriver("tunsnoop0", false)
	drv.OpenErr = errors.New("access denied")

	_, err := NewInterceptor(testInterceptorConfig(), drv, &fakeProvisioner{}, nil).Start(context.Background())
	require.Error(t, err)
	_, creates := drv.Calls()
	assert.Zero(t, creates)
}

// scriptedExecutor fails every command whose line starts with one of the
// given prefixes.
type scriptedExecutor struct {
	mu    sync.Mutex
	fail  []string
	calls []string
}

func (s *scriptedExecutor) Run(_ context.Context, name string, args ...string) (core.CommandResult, error) {
	line := strings.Join(append([]string{name}, args...), " ")
	s.mu.Lock()
	s.calls = append(s.calls, line)
	s.mu.Unlock()
	for _, p := range s.fail {
		if strings.HasPrefix(line, p) {
			return core.CommandResult{ExitStatus: 1}, &core.CommandError{Name: name, Args: args, ExitStatus: 1}
		}
	}
	return core.CommandResult{}, nil
}

func (s *scriptedExecutor) lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func TestInterceptor_UnresolvedIndexThenRestore(t *testing.T) {
	exec := &scriptedExecutor{fail: []string{"powershell", "netsh interface ipv4 show interfaces"}}
	flag := &netstate.RestorationFlag{}
	guard := netstate.NewGuard(exec, flag)
	idx := &netstate.SharedIndex{}
	drv := tun.NewMockDriver("tunsnoop0", false)

	session, err := NewInterceptor(testInterceptorConfig(), drv, guard, idx).Start(context.Background())
	require.NoError(t, err)

	l := NewLoop(NewProcessor(core.CaptureConfig{}, nil, nil), nil, 0)
	done := startLoop(t, context.Background(), l, session)

	l.Stop()
	require.NoError(t, waitRun(t, done))
	guard.Restore(context.Background(), "Ethernet", idx.Get())
	guard.Restore(context.Background(), "Ethernet", idx.Get())

	assert.Equal(t, []string{
		"netsh interface ipv4 set address name=tunsnoop0 source=static addr=10.0.0.1 mask=255.255.255.0 gateway=none",
		`powershell -NoProfile -Command (Get-NetAdapter -Name 'tunsnoop0' -ErrorAction Stop).IfIndex`,
		"netsh interface ipv4 show interfaces",
		"route delete 0.0.0.0",
		"netsh interface ipv4 set address name=Ethernet source=dhcp",
		"netsh interface ipv4 set dns name=Ethernet source=dhcp",
		"ipconfig /renew",
	}, exec.lines())
	assert.True(t, flag.IsSet())
}
