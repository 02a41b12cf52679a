// Package main is the entry point for the tomlkit CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	err := NewRootCmd().ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "tomlkit:", err)
	}
	cancel()
	os.Exit(ExitCodeFromError(err))
}
