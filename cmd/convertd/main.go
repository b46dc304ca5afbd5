// Package main is the entry point for the convertd daemon.
package main

import (
	"os"

	"github.com/convertworks/convertd/cmd/convertd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
