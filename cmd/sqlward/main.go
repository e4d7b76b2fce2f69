package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sqlward/sqlward/cmd/sqlward/commands"

	// Engine adapters register themselves.
	_ "github.com/sqlward/sqlward/pkg/engine/postgres"
	_ "github.com/sqlward/sqlward/pkg/engine/sqlite"
)

// Version is set via ldflags during build.
var Version = "dev"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cancel the run on interrupt; the orchestrator stops between
	// changes and rolls back the one in flight.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	if err := commands.Execute(ctx, Version); err != nil {
		fmt.Fprintf(os.Stderr, "sqlward: %v\n", err)
		os.Exit(commands.ExitCode(err))
	}
}
