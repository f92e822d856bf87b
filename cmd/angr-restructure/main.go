// Package main implements the angr-restructure CLI. It reads control flow
// region documents and recovers high-level control flow structure: loops,
// conditionals, breaks, and straight-line sequences.
package main

import (
	"os"

	"github.com/harry1080/angr/cmd/angr-restructure/commands"
)

var version = "dev"

func main() {
	commands.RootCmd.Version = version
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
