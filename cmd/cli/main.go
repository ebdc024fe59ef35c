// Package main is the entry point for boltctl, the boltrunner CLI.
package main

import (
	"os"

	"boltrunner/cmd/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
