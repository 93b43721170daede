package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Exit codes: 1 for usage, config and transport errors, 2 when a job ran but
// did not produce an artifact, 130 when interrupted.
const (
	exitError       = 1
	exitJobFailed   = 2
	exitInterrupted = 130
)

func main() {
	loadDotEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()

	switch {
	case err == nil:
		return
	case errors.Is(err, context.Canceled):
		os.Exit(exitInterrupted)
	case errors.Is(err, errJobFailed):
		fmt.Fprintln(os.Stderr, "tubemux:", err)
		os.Exit(exitJobFailed)
	default:
		fmt.Fprintln(os.Stderr, "tubemux:", err)
		os.Exit(exitError)
	}
}
