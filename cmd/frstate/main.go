// Package main provides the frstate CLI.
package main

import (
	"os"

	"github.com/born-ml/frstate/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
