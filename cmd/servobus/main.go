package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &busFlags{}
	rootCmd := &cobra.Command{
		Use:   "servobus",
		Short: "Command servo nodes over Cyphal/CAN-FD",
		Long: `servobus talks to digital servo nodes on a CAN-FD bus using Cyphal
transfers. It sets and reads values, sequences drive enable/disable, listens to
key/value traffic and records or replays bus captures.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags.register(rootCmd)

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newInterfacesCmd())
	rootCmd.AddCommand(newSendCmd(flags))
	rootCmd.AddCommand(newSetCmd(flags))
	rootCmd.AddCommand(newGetCmd(flags))
	rootCmd.AddCommand(newDriveCmd(flags))
	rootCmd.AddCommand(newVelocityCmd(flags))
	rootCmd.AddCommand(newMotionCmd(flags))
	rootCmd.AddCommand(newStatusCmd(flags))
	rootCmd.AddCommand(newListenCmd(flags))
	rootCmd.AddCommand(newMonitorCmd(flags))
	rootCmd.AddCommand(newCaptureCmd(flags))
	rootCmd.AddCommand(newMetricsCmd())

	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		if cmd != rootCmd {
			fmt.Fprint(cmd.OutOrStdout(), cmd.UsageString())
			return
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Usage:\n  %s <command> [arguments] [options]\n\n", cmd.Name())
		fmt.Fprintf(cmd.OutOrStdout(), "Available Commands:\n")
		for _, subCmd := range cmd.Commands() {
			if !subCmd.Hidden {
				fmt.Fprintf(cmd.OutOrStdout(), "  %-15s %s\n", subCmd.Name(), subCmd.Short)
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\nUse \"%s help <command>\" for more information about a command.\n", cmd.Name())
	})

	return rootCmd
}
