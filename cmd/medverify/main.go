// Package main provides the entry point for the medverify CLI.
package main

import (
	"os"

	"github.com/medverify/medverify/cmd/medverify/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
