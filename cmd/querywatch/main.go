// Package main provides the entry point for the querywatch CLI.
package main

import (
	"os"

	"github.com/querywatch/querywatch/cmd/querywatch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
