package main

import (
	"fmt"
	"os"

	"github.com/axelsamuelson/crowdvine-sub005/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand(nil)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "palletctl:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
