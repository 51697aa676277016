// Package main is the entry point for the sybilscan CLI.
package main

import (
	"os"

	"github.com/mrz1836/sybilscan/internal/cli"
)

// Set by the linker at build time.
//
//nolint:gochecknoglobals // ldflags injection targets
var (
	version = ""
	commit  = ""
	date    = ""
)

func main() {
	if err := cli.Execute(cli.BuildInfo{Version: version, Commit: commit, Date: date}); err != nil {
		os.Exit(cli.ExitCode(err))
	}
}
