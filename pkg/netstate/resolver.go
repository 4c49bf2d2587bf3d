package netstate

import (
	"bufio"
	"context"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/irctrakz/tunsnoop/pkg/core"
	"github.com/irctrakz/tunsnoop/pkg/logging"
)

// Strategy is one way of resolving an interface name to its index.
type Strategy interface {
	Name() string
	Resolve(ctx context.Context, exec core.CommandExecutor, iface string) (uint32, error)
}

// Resolver tries its strategies in order and returns the first index found.
type Resolver struct {
	exec       core.CommandExecutor
	strategies []Strategy
}

// NewResolver creates a Resolver. With no strategies it uses the PowerShell
// query followed by the netsh interface listing.
func NewResolver(exec core.CommandExecutor, strategies ...Strategy) *Resolver {
	if len(strategies) == 0 {
		strategies = []Strategy{PowerShellStrategy{}, NetshListStrategy{}}
	}
	return &Resolver{exec: exec, strategies: strategies}
}

// Resolve returns the index of iface. The error of the last strategy is
// returned when all fail.
func (r *Resolver) Resolve(ctx context.Context, iface string) (Index, error) {
	log := logging.WithComponent("netstate")
	err := errors.New("no index strategies configured")
	for _, s := range r.strategies {
		var idx uint32
		idx, err = s.Resolve(ctx, r.exec, iface)
		if err == nil {
			log.WithField("strategy", s.Name()).Debugf("Resolved %s to index %d", iface, idx)
			return KnownIndex(idx), nil
		}
		log.WithField("strategy", s.Name()).Warnf("Index lookup for %s failed: %v", iface, err)
	}
	return UnknownIndex, err
}

// PowerShellStrategy asks Get-NetAdapter for the IfIndex.
type PowerShellStrategy struct{}

func (PowerShellStrategy) Name() string { return "powershell" }

func (PowerShellStrategy) Resolve(ctx context.Context, exec core.CommandExecutor, iface string) (uint32, error) {
	script := "(Get-NetAdapter -Name '" + strings.ReplaceAll(iface, "'", "''") + "' -ErrorAction Stop).IfIndex"
	res, err := exec.Run(ctx, "powershell", "-NoProfile", "-Command", script)
	if err != nil {
		return 0, err
	}
	out := strings.TrimSpace(res.Stdout)
	if out == "" {
		return 0, errors.Errorf("Get-NetAdapter returned no index for %q", iface)
	}
	idx, err := strconv.ParseUint(out, 10, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "parse Get-NetAdapter output %q", out)
	}
	return uint32(idx), nil
}

// NetshListStrategy scans `netsh interface ipv4 show interfaces`.
type NetshListStrategy struct{}

func (NetshListStrategy) Name() string { return "netsh" }

func (NetshListStrategy) Resolve(ctx context.Context, exec core.CommandExecutor, iface string) (uint32, error) {
	res, err := exec.Run(ctx, "netsh", "interface", "ipv4", "show", "interfaces")
	if err != nil {
		return 0, err
	}
	if idx, ok := ParseInterfaceList(res.Stdout, iface); ok {
		return idx, nil
	}
	return 0, errors.Errorf("interface %q not found in netsh listing", iface)
}

// ParseInterfaceList finds iface in netsh interface listing output. A row
// whose name column equals iface wins; otherwise the first row containing
// iface is used. Rows whose first field is not an integer are skipped.
func ParseInterfaceList(out, iface string) (uint32, bool) {
	var (
		first uint32
		found bool
	)
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		if !strings.Contains(line, iface) {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		idx, err := strconv.ParseUint(fields[0], 10, 32)
		if err != nil {
			continue
		}
		// Idx Met MTU State Name...
		if len(fields) >= 5 && strings.Join(fields[4:], " ") == iface {
			return uint32(idx), true
		}
		if !found {
			first, found = uint32(idx), true
		}
	}
	return first, found
}
