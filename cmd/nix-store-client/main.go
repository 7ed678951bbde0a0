// Command nix-store-client is a thin CLI over the nix-store-client library,
// for poking at a running Nix daemon without pulling in the real Nix tools.
package main

import (
	"fmt"
	"os"

	"github.com/Enzime/hnix-store/cmd/nix-store-client/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
