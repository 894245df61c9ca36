package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tturner/servobus/internal/netdetect"
)

var listInterfaces = netdetect.ListInterfaces

func newInterfacesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "interfaces",
		Short: "List SocketCAN interfaces and USB serial CAN adapters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := listInterfaces()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintln(out, "No CAN interfaces or USB serial adapters found.")
				return nil
			}
			for _, info := range list {
				state := "down"
				if info.IsUp {
					state = "up"
				}
				fmt.Fprintf(out, "%-16s %-10s %-5s %s\n", info.Name, info.Kind, state, info.Description)
			}
			return nil
		},
	}
}
