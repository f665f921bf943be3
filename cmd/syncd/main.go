// Command syncd runs the offline sync daemon and the operator commands that
// talk to it over the loopback API.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	// A missing .env is normal on devices; real environment wins either way.
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "syncd",
		Short:         "Offline operation queue and replay daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	addr := os.Getenv("SYNC_HTTP_ADDR")
	if addr == "" {
		addr = "127.0.0.1:8765"
	}
	root.PersistentFlags().String("addr", addr, "Loopback API address of the running daemon")

	root.AddCommand(newServeCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newSyncCmd())
	root.AddCommand(newErrorsCmd())
	root.AddCommand(newResolveCmd())
	return root
}
