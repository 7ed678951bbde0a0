package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Connect to the daemon and print the negotiated protocol version",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := connect(cmd)
		if err != nil {
			return err
		}
		defer client.Close()

		// Ping reports the handshake info captured at connect time; no
		// further operation is sent, so there is nothing for opContext to
		// bound here.
		info := client.Info()
		fmt.Fprintf(cmd.OutOrStdout(), "protocol version: %d.%d\n", info.Version>>8, info.Version&0xff)
		fmt.Fprintf(cmd.OutOrStdout(), "daemon version:   %s\n", info.DaemonNixVersion)
		fmt.Fprintf(cmd.OutOrStdout(), "trust:            %s\n", info.Trust)

		return nil
	},
}
