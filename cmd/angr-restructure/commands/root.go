package commands

import (
	"github.com/spf13/cobra"
)

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "angr-restructure",
	Short: "angr-restructure - Control flow structure recovery",
	Long: `angr-restructure recovers high-level control flow structure from
control flow graph region documents: loops are classified as while or
do-while, branches become if/else constructs, and loop exits become
break statements.

Commands:
  structure   Structure a region document into high-level control flow
  init        Initialize configuration interactively

Use "angr-restructure [command] --help" for more information about a command.`,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return RootCmd.Execute()
}

func init() {
	RootCmd.AddCommand(structureCmd)
	RootCmd.AddCommand(initCmd)
}
