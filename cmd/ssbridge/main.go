// Package main is the entry point for the ssbridge application.
package main

import (
	"os"

	"github.com/jmylchreest/ssbridge/cmd/ssbridge/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
