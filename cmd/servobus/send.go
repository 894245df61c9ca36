package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tturner/servobus/internal/app"
	"github.com/tturner/servobus/internal/digitalservo"
)

type sendFlags struct {
	channel   int
	valueType string
}

func newSendCmd(bus *busFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a raw key/value message, response or request",
		Long: `Send one transfer without waiting for an answer. Use "set" and "get" for
correlated exchanges.`,
	}
	cmd.AddCommand(newSendMessageCmd(bus))
	cmd.AddCommand(newSendResponseCmd(bus))
	cmd.AddCommand(newSendRequestCmd(bus))
	return cmd
}

func newSendMessageCmd(bus *busFlags) *cobra.Command {
	flags := &sendFlags{}
	cmd := &cobra.Command{
		Use:   "message <key> <value>...",
		Short: "Broadcast a key/value message on the message subject",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			d, err := dictFromArgs(cmd, flags.valueType, args)
			if err != nil {
				return err
			}
			return withSession(bus, func(ctx context.Context, s *app.Session) error {
				if err := s.Servo.SendMessage(d); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "sent message %s\n", d)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&flags.valueType, "type", "float", "Value type: float|int|bool")
	return cmd
}

func newSendResponseCmd(bus *busFlags) *cobra.Command {
	flags := &sendFlags{channel: -1}
	cmd := &cobra.Command{
		Use:   "response <key> <value>...",
		Short: "Send a key/value response to one channel",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			channel, err := requireChannel(cmd, flags.channel)
			if err != nil {
				return err
			}
			d, err := dictFromArgs(cmd, flags.valueType, args)
			if err != nil {
				return err
			}
			return withSession(bus, func(ctx context.Context, s *app.Session) error {
				if err := s.Servo.SendResponse(channel, d); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "sent response %s to channel %d\n", d, channel)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&flags.channel, "channel", -1, "Destination node id (required)")
	cmd.Flags().StringVar(&flags.valueType, "type", "float", "Value type: float|int|bool")
	return cmd
}

func newSendRequestCmd(bus *busFlags) *cobra.Command {
	flags := &sendFlags{channel: -1}
	cmd := &cobra.Command{
		Use:   "request <key>",
		Short: "Send a request naming a key to one channel",
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
				return missingFlagError(cmd, "<key>")
			}
			key := args[0]
			return withSession(bus, func(ctx context.Context, s *app.Session) error {
				if err := s.Servo.SendRequest(channel, key); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "sent request %q to channel %d\n", key, channel)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&flags.channel, "channel", -1, "Destination node id (required)")
	return cmd
}

// dictFromArgs builds a Dict from "<key> <value>..." arguments.
func dictFromArgs(cmd *cobra.Command, valueType string, args []string) (digitalservo.Dict, error) {
	if len(args) < 2 {
		return digitalservo.Dict{}, missingFlagError(cmd, "<key> <value>")
	}
	typ, err := digitalservo.ParseValueType(valueType)
	if err != nil {
		return digitalservo.Dict{}, err
	}
	return digitalservo.ParseDict(args[0], typ, args[1:])
}
