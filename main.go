package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/storacha/deal-ingester/cmd/cli"
)

// errInterrupted is the cancellation cause reported when the process receives
// an interrupt.
var errInterrupted = errors.New("interrupted by signal")

func main() {
	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		cancel(errInterrupted)
		// a second signal terminates immediately
		signal.Stop(sigs)
	}()

	cli.ExecuteContext(ctx)
}
