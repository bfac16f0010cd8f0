// Command mcpops serves the operator introspection tools over stdio, for an
// editor or assistant to call against a running bus's own state. It shares
// the state root with cmd/bus and cmd/worker but opens no lock and starts no
// transport; it only reads the spool directories.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/arborist-dev/quiescebus/internal/mcpops"
	"github.com/arborist-dev/quiescebus/internal/paths"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "mcpops: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	stateRoot := os.Getenv("QUIESCEBUS_STATE_ROOT")
	if stateRoot == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolve default state root: %w", err)
		}
		stateRoot = filepath.Join(home, ".quiescebus")
	}
	layout, err := paths.NewLayout(stateRoot)
	if err != nil {
		return fmt.Errorf("resolve state root: %w", err)
	}
	if err := layout.EnsureAll(); err != nil {
		return fmt.Errorf("create spool directories: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	return mcpops.New(layout).Run(ctx)
}
