package main

import (
	"fmt"
	"os"

	"wabulk/cmd/wabulk/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(commands.ExitCode(err))
	}
}
