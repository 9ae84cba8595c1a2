package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/illarion/vaultshell/cmd"
)

func main() {
	// SIGINT is bound per command; the shell uses it for back navigation.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx); err != nil {
		stop()
		cmd.HandleError(err)
	}
}
