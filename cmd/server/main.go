package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	serve := newServeCommand()

	root := &cobra.Command{
		Use:           "todo-api",
		Short:         "Owner-scoped task API behind an external identity provider",
		SilenceUsage:  true,
		// Running the binary without a subcommand starts the server.
		RunE: serve.RunE,
	}

	root.AddCommand(
		serve,
		newMigrateCommand(),
		newHealthcheckCommand(),
	)

	return root
}
