package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/muxctl/internal/cli"
	"github.com/danmuck/muxctl/internal/logging"
)

func main() {
	logging.ConfigureRuntime()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cli.Execute(ctx, os.Args[1:])
	stop()
	if err == nil {
		return
	}
	var exit *cli.ExitError
	if !errors.As(err, &exit) {
		fmt.Fprintf(os.Stderr, "muxctl: %v\n", err)
	}
	os.Exit(cli.ExitCode(err))
}
