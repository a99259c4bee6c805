package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	os.Exit(run())
}

func run() int {
	err := newRootCommand().Execute()
	if err == nil {
		return 0
	}
	// Ctrl-C during a long-running command is not worth reporting.
	if !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "lectern:", err)
	}
	return 1
}
