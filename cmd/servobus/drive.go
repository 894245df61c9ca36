package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tturner/servobus/internal/app"
)

type driveFlags struct {
	channel int
	all     bool
}

func newDriveCmd(bus *busFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drive",
		Short: "Enable or disable servo drives",
	}
	cmd.AddCommand(newDriveStepCmd(bus, true))
	cmd.AddCommand(newDriveStepCmd(bus, false))
	return cmd
}

func newDriveStepCmd(bus *busFlags, enable bool) *cobra.Command {
	flags := &driveFlags{channel: -1}
	use, short := "disable", "Disable the drive, then zero the command value"
	if enable {
		use, short = "enable", "Zero the command value, then enable the drive"
	}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.all && flags.channel >= 0 {
				return fmt.Errorf("--channel and --all are mutually exclusive")
			}
			var channel uint8
			if !flags.all {
				ch, err := requireChannel(cmd, flags.channel)
				if err != nil {
					return err
				}
				channel = ch
			}
			return withSession(bus, func(ctx context.Context, s *app.Session) error {
				var err error
				switch {
				case enable && flags.all:
					err = s.Servo.DriveEnableAll(ctx)
				case enable:
					err = s.Servo.DriveEnable(ctx, channel)
				case flags.all:
					err = s.Servo.DriveDisableAll(ctx)
				default:
					err = s.Servo.DriveDisable(ctx, channel)
				}
				if err != nil {
					return err
				}
				target := "all channels"
				if !flags.all {
					target = "channel " + strconv.Itoa(int(channel))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "drive %sd on %s\n", use, target)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&flags.channel, "channel", -1, "Destination node id")
	cmd.Flags().BoolVar(&flags.all, "all", false, "Broadcast to every channel")
	return cmd
}
