package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var isValidPathCmd = &cobra.Command{
	Use:   "is-valid-path <store-path>",
	Short: "Check whether a store path is registered valid",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg, err := connect(cmd)
		if err != nil {
			return err
		}
		defer client.Close()

		if err := validateStorePath(cfg, args[0]); err != nil {
			return fmt.Errorf("is-valid-path: %w", err)
		}

		ctx, cancel := opContext(cmd, cfg)
		defer cancel()

		valid, err := client.IsValidPath(ctx, args[0])
		if err != nil {
			return fmt.Errorf("is-valid-path: %w", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), valid)

		return nil
	},
}
