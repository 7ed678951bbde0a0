package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var verifyStoreCheckContents bool

var verifyStoreCmd = &cobra.Command{
	Use:   "verify-store",
	Short: "Ask the daemon to verify the store database, and optionally path contents",
	Long: `verify-store asks the daemon to check the consistency of its store
database. Repairing the store is not supported over the remote protocol
from this client; pass neither --repair nor ask for one, only
--check-contents is exposed here.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg, err := connect(cmd)
		if err != nil {
			return err
		}
		defer client.Close()

		ctx, cancel := opContext(cmd, cfg)
		defer cancel()

		errorsFound, err := client.VerifyStore(ctx, verifyStoreCheckContents, false)
		if err != nil {
			return fmt.Errorf("verify-store: %w", err)
		}

		if errorsFound {
			fmt.Fprintln(cmd.OutOrStdout(), "errors found")
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
		}

		return nil
	},
}

func init() {
	verifyStoreCmd.Flags().BoolVar(&verifyStoreCheckContents, "check-contents", false, "also verify the contents of each path's NAR hash")
}
