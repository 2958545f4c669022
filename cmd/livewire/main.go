// Command livewire opens a resilient message channel to a WebSocket peer.
//
//	livewire tap --config configs/livewire.yaml
//	livewire send --url ws://localhost:8080/ws --type get_quote --payload '{"symbol":"X"}' --await
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rickgao/livewire/internal/version"
)

var (
	rootCmd = &cobra.Command{
		Use:   "livewire",
		Short: "resilient bidirectional message channel",
		Long: `livewire keeps one WebSocket channel to a peer alive: it reconnects with
exponential backoff, detects stale connections with heartbeats, and resends
unanswered requests after a reconnect.`,
		SilenceUsage: true,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version of livewire",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "livewire", version.String())
		},
	}
)

func init() {
	rootCmd.PersistentFlags().String("config", "", "path to config file (YAML)")
	rootCmd.PersistentFlags().String("url", "", "peer URL; overrides channel.url from the config")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(tapCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
