package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/irctrakz/tunsnoop/pkg/capture"
	"github.com/irctrakz/tunsnoop/pkg/config"
	"github.com/irctrakz/tunsnoop/pkg/core"
	"github.com/irctrakz/tunsnoop/pkg/pcapdump"
	"github.com/irctrakz/tunsnoop/pkg/sniff"
)

func newReplayCmd() *cobra.Command {
	var (
		configPath string
		format     string
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "replay FILE",
		Short: "Summarize the frames of a pcap file offline",
		Long: `
Feed a recorded capture through the decoder and sniffers without touching the
host network, printing the same summaries "run" would.

Examples:
  tunsnoop replay out.pcap
  tunsnoop replay -n 100 --format json out.pcap
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultConfig()
			if configPath != "" {
				var err error
				if cfg, err = config.Load(configPath); err != nil {
					return err
				}
			}
			if format == "" {
				format = cfg.Output.Format
			}
			r, err := pcapdump.Open(args[0])
			if err != nil {
				return err
			}
			defer r.Close()

			m, err := replay(r, cfg, capture.NewLogObserver(cmd.OutOrStdout(), format), limit)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "replayed %d frames: tcp=%d udp=%d other=%d degraded=%d http=%d/%d dns=%d\n",
				m.Frames, m.TCP, m.UDP, m.Other, m.Degraded, m.HTTPRequests, m.HTTPResponses, m.DNS)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Configuration file for capture and sniffer settings")
	cmd.Flags().StringVar(&format, "format", "", "Summary format: text or json")
	cmd.Flags().IntVarP(&limit, "count", "n", 0, "Stop after this many frames (0 = all)")
	return cmd
}

// replay processes every frame from r, stamping summaries with the recorded
// capture time.
func replay(r *pcapdump.Reader, cfg *config.Config, obs core.Observer, limit int) (capture.Metrics, error) {
	var ts time.Time
	metrics := &capture.Metrics{}
	p := capture.NewProcessor(cfg.Capture, sniff.New(cfg.Sniffer), obs,
		capture.WithMetrics(metrics),
		capture.WithClock(func() time.Time { return ts }))

	for n := 0; limit <= 0 || n < limit; n++ {
		var frame []byte
		var err error
		ts, frame, err = r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return metrics.Snapshot(), err
		}
		_ = p.ProcessPacket(core.NewPacket(frame))
	}
	return metrics.Snapshot(), nil
}
