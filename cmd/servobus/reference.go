package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tturner/servobus/internal/app"
)

type referenceFlags struct {
	channel int
}

func newVelocityCmd(bus *busFlags) *cobra.Command {
	flags := &referenceFlags{channel: -1}
	cmd := &cobra.Command{
		Use:   "velocity <value>",
		Short: "Send a velocity reference (cmdval) to one channel",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			channel, err := requireChannel(cmd, flags.channel)
			if err != nil {
				return err
			}
			if len(args) == 0 {
				return missingFlagError(cmd, "<value>")
			}
			v, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return fmt.Errorf("invalid velocity %q: %w", args[0], err)
			}
			return withSession(bus, func(ctx context.Context, s *app.Session) error {
				return s.Servo.SendVelocityReference(channel, v)
			})
		},
	}
	cmd.Flags().IntVar(&flags.channel, "channel", -1, "Destination node id (required)")
	return cmd
}

func newMotionCmd(bus *busFlags) *cobra.Command {
	flags := &referenceFlags{channel: -1}
	cmd := &cobra.Command{
		Use:   "motion <v0> <v1> <v2> <v3>",
		Short: "Send a four-element motion reference (cmdarray) to one channel",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			channel, err := requireChannel(cmd, flags.channel)
			if err != nil {
				return err
			}
			if len(args) != 4 {
				return fmt.Errorf("motion needs exactly 4 values, got %d", len(args))
			}
			var ref [4]float64
			for i, a := range args {
				if ref[i], err = strconv.ParseFloat(a, 64); err != nil {
					return fmt.Errorf("invalid motion value %q: %w", a, err)
				}
			}
			return withSession(bus, func(ctx context.Context, s *app.Session) error {
				return s.Servo.SendMotionReference(channel, ref)
			})
		},
	}
	cmd.Flags().IntVar(&flags.channel, "channel", -1, "Destination node id (required)")
	return cmd
}
