package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := App().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "mediaflow:", err)
		os.Exit(1)
	}
}
