package main

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/irctrakz/tunsnoop/pkg/capture"
	"github.com/irctrakz/tunsnoop/pkg/config"
	"github.com/irctrakz/tunsnoop/pkg/core"
	"github.com/irctrakz/tunsnoop/pkg/logging"
	"github.com/irctrakz/tunsnoop/pkg/netstate"
	"github.com/irctrakz/tunsnoop/pkg/pcapdump"
	"github.com/irctrakz/tunsnoop/pkg/shutdown"
	"github.com/irctrakz/tunsnoop/pkg/sniff"
	"github.com/irctrakz/tunsnoop/pkg/tun"
)

type runOptions struct {
	configPath string
	debug      bool
	readOnly   bool
	pcapFile   string
}

func newRunCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start intercepting traffic",
		Long: `
Create (or attach to) the virtual interface, route the host's default traffic
through it and print a summary for every captured packet until interrupted.

Examples:
  tunsnoop run                              # Defaults, summaries to stdout
  tunsnoop run -c tunsnoop.yaml             # Load configuration from a file
  tunsnoop run --read-only --pcap out.pcap  # Leave routing alone, record frames
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				logging.Errorf("Configuration: %v", err)
				return err
			}
			if opts.debug {
				cfg.Logging.Level = "debug"
			}
			if opts.readOnly {
				cfg.Interceptor.ReadOnly = true
			}
			if opts.pcapFile != "" {
				cfg.Capture.PCAPFile = opts.pcapFile
			}
			if err := cfg.ApplyLogging(); err != nil {
				logging.Errorf("Logging: %v", err)
				return err
			}
			runInterceptor(cfg)
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Path to a YAML or JSON configuration file")
	cmd.Flags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	cmd.Flags().BoolVar(&opts.readOnly, "read-only", false, "Capture without changing host addresses or routes")
	cmd.Flags().StringVar(&opts.pcapFile, "pcap", "", "Record every captured frame to this pcap file")
	return cmd
}

// runInterceptor never returns: every path ends in the coordinator's exit.
func runInterceptor(cfg *config.Config) {
	ic := cfg.Interceptor

	exec := netstate.NewExecutor(time.Duration(ic.CommandTimeoutMs) * time.Millisecond)
	flag := &netstate.RestorationFlag{}
	guard := netstate.NewGuard(exec, flag, netstate.WithRouteMetric(ic.RouteMetric))
	index := &netstate.SharedIndex{}

	coord := shutdown.New(guard, ic.PhysicalInterface, index)
	defer coord.RecoverFault()
	coord.Install()

	out, err := openOutput(cfg.Output.File)
	if err != nil {
		logging.Errorf("Summary output: %v", err)
		coord.Shutdown(shutdown.ExitStartup)
		return
	}
	coord.OnExit(func() { out.Close() })

	metrics := &capture.Metrics{}
	var observer core.Observer = capture.NewLogObserver(out, cfg.Output.Format)
	var async *capture.AsyncObserver
	if cfg.Capture.ObserverQueue > 0 {
		async = capture.NewAsyncObserver(observer, 1, cfg.Capture.ObserverQueue, metrics,
			capture.WithLauncher(coord.Go))
		async.Start()
		coord.OnExit(async.Stop)
		observer = async
	}

	popts := []capture.ProcessorOption{capture.WithMetrics(metrics)}
	var recorder *pcapdump.Writer
	if cfg.Capture.PCAPFile != "" {
		recorder, err = pcapdump.Create(cfg.Capture.PCAPFile)
		if err != nil {
			logging.Errorf("PCAP recorder: %v", err)
			coord.Shutdown(shutdown.ExitStartup)
			return
		}
		coord.OnExit(func() { recorder.Close() })
		popts = append(popts, capture.WithRecorder(recorder))
		logging.Infof("Recording frames to %s", cfg.Capture.PCAPFile)
	}

	sniffer := sniff.New(cfg.Sniffer)
	processor := capture.NewProcessor(cfg.Capture, sniffer, observer, popts...)
	loop := capture.NewLoop(processor, metrics, time.Duration(cfg.Capture.RetryBackoffMs)*time.Millisecond)
	loop.SetLauncher(coord.Go)
	coord.SetLoop(loop)

	driver := tun.NewDriver(ic.TUNMTU, cfg.Capture.RingBytes, tun.WithLauncher(coord.Go))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session, err := capture.NewInterceptor(ic, driver, guard, index).Start(ctx)
	if err != nil {
		logging.Errorf("Startup failed: %v", err)
		coord.Shutdown(shutdown.ExitStartup)
		return
	}

	src := &statusSource{
		loop:     loop,
		metrics:  metrics,
		sniffer:  sniffer,
		session:  session,
		index:    index,
		guard:    guard,
		flag:     flag,
		recorder: recorder,
		async:    async,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer coord.RecoverFault()
		defer cancel()
		return loop.Run(gctx, session)
	})
	if iv := cfg.Status.MetricsInterval; iv > 0 {
		g.Go(func() error {
			defer coord.RecoverFault()
			runMetricsReporter(gctx, src, time.Duration(iv)*time.Second, cfg.Status.MetricsFormat)
			return nil
		})
	}
	if addr := cfg.Status.Listen; addr != "" {
		g.Go(func() error {
			defer coord.RecoverFault()
			return runStatusServer(gctx, addr, newStatusRouter(src))
		})
	}

	code := shutdown.ExitOK
	if err := g.Wait(); err != nil {
		logging.Errorf("Capture ended: %v", err)
		code = shutdown.ExitFault
	}
	coord.Shutdown(code)
}

func openOutput(path string) (io.WriteCloser, error) {
	if path == "" {
		return nopCloser{os.Stdout}, nil
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
