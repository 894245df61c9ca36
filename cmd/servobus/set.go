package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/tturner/servobus/internal/app"
	"github.com/tturner/servobus/internal/digitalservo"
	servoErrors "github.com/tturner/servobus/internal/errors"
)

type setFlags struct {
	channel   int
	valueType string
	timeoutMs int
}

// runSetForm is replaced in tests.
var runSetForm = promptSetValue

func newSetCmd(bus *busFlags) *cobra.Command {
	flags := &setFlags{channel: -1}
	cmd := &cobra.Command{
		Use:   "set [key] [value]...",
		Short: "Set a value on one channel and wait for it to be accepted",
		Long: `Send a set-value request and wait for the channel to publish the accepted
status code. Without a key an interactive form asks for the key, type and values.`,
		Example: `  servobus set --channel 5 cmdval 1.5
  servobus set --channel 5 --type bool drive true
  servobus set --channel 5`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			channel, err := requireChannel(cmd, flags.channel)
			if err != nil {
				return err
			}
			if len(args) < 2 {
				key := ""
				if len(args) == 1 {
					key = args[0]
				}
				values := ""
				if err := runSetForm(&key, &flags.valueType, &values); err != nil {
					return err
				}
				args = append([]string{key}, strings.Fields(values)...)
			}
			d, err := dictFromArgs(cmd, flags.valueType, args)
			if err != nil {
				return err
			}
			return withSession(bus, func(ctx context.Context, s *app.Session) error {
				timeout := time.Duration(flags.timeoutMs) * time.Millisecond
				if err := s.Servo.SetValueWithTimeout(ctx, channel, d, timeout); err != nil {
					return servoErrors.WrapRequestError(err, channel, d.Key)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "channel %d accepted %s\n", channel, d)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&flags.channel, "channel", -1, "Destination node id (required)")
	cmd.Flags().StringVar(&flags.valueType, "type", "float", "Value type: float|int|bool")
	cmd.Flags().IntVar(&flags.timeoutMs, "timeout-ms", 0, "Wait this long for the accepted status (0 uses the config)")
	return cmd
}

func promptSetValue(key, valueType, values *string) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Key").
				Description("e.g. cmdval, cmdarray, drive").
				Value(key).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("key is required")
					}
					return nil
				}),
			huh.NewSelect[string]().
				Title("Type").
				Options(
					huh.NewOption(digitalservo.TypeFloat.String(), digitalservo.TypeFloat.String()),
					huh.NewOption(digitalservo.TypeInt.String(), digitalservo.TypeInt.String()),
					huh.NewOption(digitalservo.TypeBool.String(), digitalservo.TypeBool.String()),
				).
				Value(valueType),
			huh.NewInput().
				Title("Values").
				Description("Space separated").
				Value(values).
				Validate(func(s string) error {
					if len(strings.Fields(s)) == 0 {
						return fmt.Errorf("at least one value is required")
					}
					return nil
				}),
		),
	)
	if err := form.Run(); err != nil {
		return fmt.Errorf("set form: %w", err)
	}
	*key = strings.TrimSpace(*key)
	return nil
}

type getFlags struct {
	channel   int
	timeoutMs int
}

func newGetCmd(bus *busFlags) *cobra.Command {
	flags := &getFlags{channel: -1}
	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Read a value from one channel",
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
				timeout := time.Duration(flags.timeoutMs) * time.Millisecond
				d, err := s.Servo.GetValueWithTimeout(ctx, channel, key, timeout)
				if err != nil {
					return servoErrors.WrapRequestError(err, channel, key)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n", d)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&flags.channel, "channel", -1, "Destination node id (required)")
	cmd.Flags().IntVar(&flags.timeoutMs, "timeout-ms", 0, "Wait this long for the answer (0 uses the config)")
	return cmd
}
