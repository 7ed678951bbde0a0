package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var queryPathInfoCmd = &cobra.Command{
	Use:   "query-path-info <store-path>",
	Short: "Print metadata about a store path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg, err := connect(cmd)
		if err != nil {
			return err
		}
		defer client.Close()

		if err := validateStorePath(cfg, args[0]); err != nil {
			return fmt.Errorf("query-path-info: %w", err)
		}

		ctx, cancel := opContext(cmd, cfg)
		defer cancel()

		info, err := client.QueryPathInfo(ctx, args[0])
		if err != nil {
			return fmt.Errorf("query-path-info: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "path:        %s\n", info.StorePath)
		fmt.Fprintf(out, "deriver:     %s\n", info.Deriver)
		fmt.Fprintf(out, "narHash:     %s\n", info.NarHash)
		fmt.Fprintf(out, "narSize:     %d\n", info.NarSize)
		fmt.Fprintf(out, "references:  %s\n", strings.Join(info.References, ", "))
		fmt.Fprintf(out, "trust:       %s\n", info.Trust)

		if info.CA != "" {
			if info.ContentAddressErr != nil {
				fmt.Fprintf(out, "ca:          %s (unparsed: %v)\n", info.CA, info.ContentAddressErr)
			} else {
				fmt.Fprintf(out, "ca:          %s\n", info.CA)
			}
		}

		return nil
	},
}
