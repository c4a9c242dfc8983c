// The main package for the planwatch executable.
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/seractech/planwatch/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	cmd.Execute(ctx)
}
