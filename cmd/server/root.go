package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "relaychat",
		Short:         "Real-time WebSocket message relay",
		Long:          "relaychat accepts WebSocket connections for authenticated users, relays direct messages between them, keeps the conversation history and broadcasts who is online.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	serve := newServeCmd()
	rootCmd.RunE = serve.RunE
	rootCmd.AddCommand(
		serve,
		newTokenCmd(),
	)
	return rootCmd
}
