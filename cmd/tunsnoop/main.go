package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/irctrakz/tunsnoop/pkg/shutdown"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(shutdown.ExitStartup)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tunsnoop",
		Short: "Transparent traffic interceptor on a virtual interface",
		Long: `tunsnoop routes host traffic through a virtual network interface and
reports every packet it sees: addresses, ports, TCP flags, a payload preview
and any recognized HTTP or DNS message.

The host's network configuration is restored on exit, including on interrupt,
termination and fatal faults.`,
		SilenceUsage: true,
	}
	root.AddCommand(newRunCmd(), newReplayCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tunsnoop %s (%s/%s)\n", version, runtime.GOOS, runtime.GOARCH)
		},
	}
}
