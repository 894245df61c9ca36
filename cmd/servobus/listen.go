package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tturner/servobus/internal/app"
	"github.com/tturner/servobus/internal/cyphal"
	"github.com/tturner/servobus/internal/digitalservo"
	"github.com/tturner/servobus/internal/tui"
)

type statusFlags struct {
	timeoutMs int
}

func newStatusCmd(bus *busFlags) *cobra.Command {
	flags := &statusFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Wait for the next general status byte",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(bus, func(ctx context.Context, s *app.Session) error {
				st, err := app.WaitStatus(ctx, s, time.Duration(flags.timeoutMs)*time.Millisecond)
				if err != nil {
					return err
				}
				if st == digitalservo.StatusUnknown {
					return fmt.Errorf("no status received within %dms", flags.timeoutMs)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "status 0x%02X\n", st)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&flags.timeoutMs, "timeout-ms", 1000, "Give up after this long")
	return cmd
}

type listenFlags struct {
	channel    int
	status     bool
	events     bool
	intervalMs int
}

func newListenCmd(bus *busFlags) *cobra.Command {
	flags := &listenFlags{channel: -1}
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Print key/value traffic until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.channel > cyphal.NodeIDMax {
				return fmt.Errorf("invalid channel %d (want 0-%d)", flags.channel, cyphal.NodeIDMax)
			}
			return withSession(bus, func(ctx context.Context, s *app.Session) error {
				return app.Listen(ctx, s, cmd.OutOrStdout(), app.ListenOptions{
					Interval: time.Duration(flags.intervalMs) * time.Millisecond,
					Channel:  flags.channel,
					Status:   flags.status,
					Events:   flags.events,
				})
			})
		},
	}
	cmd.Flags().IntVar(&flags.channel, "channel", -1, "Only print transfers from this node")
	cmd.Flags().BoolVar(&flags.status, "status", false, "Also print general status changes")
	cmd.Flags().BoolVar(&flags.events, "events", false, "Also print dropped, rejected and corrupt transfers")
	cmd.Flags().IntVar(&flags.intervalMs, "interval-ms", 10, "Bus poll interval")
	return cmd
}

type monitorFlags struct {
	ports      []uint
	maxRows    int
	intervalMs int
}

func newMonitorCmd(bus *busFlags) *cobra.Command {
	flags := &monitorFlags{}
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Live full-screen view of assembled transfers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ports := make([]uint16, 0, len(flags.ports))
			for _, p := range flags.ports {
				if p > cyphal.SubjectIDMax {
					return fmt.Errorf("invalid port %d (want 0-%d)", p, cyphal.SubjectIDMax)
				}
				ports = append(ports, uint16(p))
			}
			return withSession(bus, func(ctx context.Context, s *app.Session) error {
				return tui.Run(s.Bus, tui.Options{
					Interval: time.Duration(flags.intervalMs) * time.Millisecond,
					MaxRows:  flags.maxRows,
					Ports:    ports,
				})
			})
		},
	}
	cmd.Flags().UintSliceVar(&flags.ports, "port", nil, "Only show these port ids (repeatable)")
	cmd.Flags().IntVar(&flags.maxRows, "max-rows", 1000, "Rows kept in the table")
	cmd.Flags().IntVar(&flags.intervalMs, "interval-ms", 20, "Bus poll interval")
	return cmd
}
