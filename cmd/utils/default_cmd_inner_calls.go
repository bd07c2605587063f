package utils

import (
	"fmt"

	"github.com/spf13/cobra"
)

// PropagatePersistentPreRun runs the parent command's PersistentPreRun, so
// nested commands keep the config ingestion chain of their ancestors.
func PropagatePersistentPreRun(cmd *cobra.Command, args []string) {
	if cmd.Parent().PersistentPreRun != nil {
		cmd.Parent().PersistentPreRun(cmd.Parent(), args)
	}
}

// CallHelpCommand prints the command's help. Used as the RunE of commands that
// only group subcommands.
func CallHelpCommand(cmd *cobra.Command, _ []string) error {
	if err := cmd.Help(); err != nil {
		return fmt.Errorf("calling help command: %w", err)
	}
	return nil
}
