// Package main is the entry point for the storyloom application.
package main

import (
	"os"

	"github.com/storyloom/storyloom/cmd/storyloom/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
