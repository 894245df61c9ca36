package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tturner/servobus/internal/app"
)

type captureDumpFlags struct {
	limit int
}

func newCaptureCmd(bus *busFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Inspect recorded bus captures",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "summary <file.pcap>",
		Short: "Count frames by kind, port and source node",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			if len(args) == 0 {
				return missingFlagError(cmd, "<file.pcap>")
			}
			return app.CaptureSummary(args[0], cmd.OutOrStdout())
		},
	})

	flags := &captureDumpFlags{}
	dump := &cobra.Command{
		Use:   "dump <file.pcap>",
		Short: "Print every frame with its decoded id and tail byte",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			if len(args) == 0 {
				return missingFlagError(cmd, "<file.pcap>")
			}
			return app.CaptureDump(args[0], cmd.OutOrStdout(), flags.limit)
		},
	}
	dump.Flags().IntVar(&flags.limit, "limit", 0, "Stop after this many frames (0 prints all)")
	cmd.AddCommand(dump)
	cmd.AddCommand(newCaptureReplayCmd(bus))
	return cmd
}

func newMetricsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Summarize request metrics files",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "report <metrics.csv>...",
		Short: "Print RTT and outcome statistics from one or more CSV files",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			if len(args) == 0 {
				return missingFlagError(cmd, "<metrics.csv>")
			}
			return app.MetricsReport(args, cmd.OutOrStdout())
		},
	})
	return cmd
}

type captureReplayFlags struct {
	speed  float64
	source int
	limit  int
	quiet  bool
}

func newCaptureReplayCmd(bus *busFlags) *cobra.Command {
	flags := &captureReplayFlags{}
	cmd := &cobra.Command{
		Use:   "replay <file.pcap>",
		Short: "Transmit a recorded capture onto the bus",
		Long: `Send every frame of a capture through the configured driver, keeping the
recorded gaps scaled by --speed. --speed 0 sends back to back.`,
		Example: `  servobus --driver socketcan -i can0 capture replay bus.pcap
  servobus --driver slcan -i /dev/ttyACM0 capture replay --source 5 --speed 2 bus.pcap`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			if len(args) == 0 {
				return missingFlagError(cmd, "<file.pcap>")
			}
			if flags.speed < 0 {
				return fmt.Errorf("--speed must not be negative")
			}
			if bus.replay != "" {
				return fmt.Errorf("capture replay transmits onto a live bus; drop --replay")
			}
			opts := app.ReplayOptions{Speed: flags.speed, Source: flags.source, Limit: flags.limit}
			if !flags.quiet {
				opts.Progress = cmd.ErrOrStderr()
			}
			return withSession(bus, func(ctx context.Context, s *app.Session) error {
				n, err := app.CaptureReplay(ctx, s, args[0], opts)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "replayed %d frames\n", n)
				return nil
			})
		},
	}
	cmd.Flags().Float64Var(&flags.speed, "speed", 1, "Timing scale (0 disables pacing)")
	cmd.Flags().IntVar(&flags.source, "source", -1, "Only replay frames sent by this node")
	cmd.Flags().IntVar(&flags.limit, "limit", 0, "Stop after this many frames")
	cmd.Flags().BoolVar(&flags.quiet, "quiet", false, "Do not draw a progress bar")
	return cmd
}
