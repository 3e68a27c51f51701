// Package main is the sweeper CLI: it purges stale users and decommissioned
// hosts across a Falcon parent tenant and its children.
//
// Usage:
//
//	sweeper users --file users.txt --action simulate
//	sweeper hosts --hosts web-01,web-02 --action delete --connect-child
//
// Status lines go to stdout, logs to stderr. The exit status is 1 when the
// sweep could not start (configuration, authentication) and 2 when at least
// one key failed.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

const (
	exitOK           = 0
	exitSetupFailure = 1
	exitKeyFailures  = 2
)

// exitError carries the process exit status out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd(stdout, stderr)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}

	var ee *exitError
	if errors.As(err, &ee) {
		fmt.Fprintf(stderr, "error: %v\n", ee.err)
		return ee.code
	}
	fmt.Fprintf(stderr, "error: %v\n", err)
	return exitSetupFailure
}
