// Command mill watches a multi-module web project and rebuilds its assets
// incrementally as files change.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/mill/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "mill:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
