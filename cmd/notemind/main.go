// Package main provides the entry point for the notemind CLI.
package main

import (
	"os"

	"github.com/haruki-endo/notemind/cmd/notemind/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
