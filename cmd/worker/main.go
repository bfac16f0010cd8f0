// Command worker is the one-shot orchestrator invoked by the bus for
// exactly one selection or legacy approval file (spec §5, §6: "worker
// <absolute-path-to-selection-or-approval-file>"). Exit codes: 0 success,
// 1 unrecoverable error (registry load failure, input validation,
// subprocess error) — the wire contract is the execution file the worker
// writes, not stdout/stderr, which are for humans only.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/arborist-dev/quiescebus/internal/eventlog"
	"github.com/arborist-dev/quiescebus/internal/orchestrator"
	"github.com/arborist-dev/quiescebus/internal/paths"
	"github.com/arborist-dev/quiescebus/internal/registry"
)

const defaultCLITimeout = 300 * time.Second

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: worker <absolute-path-to-selection-or-approval-file>")
		os.Exit(1)
	}
	inputPath := os.Args[1]
	if !filepath.IsAbs(inputPath) {
		fmt.Fprintf(os.Stderr, "worker: input path must be absolute, got %q\n", inputPath)
		os.Exit(1)
	}

	if err := run(inputPath); err != nil {
		fmt.Fprintf(os.Stderr, "worker: %v\n", err)
		os.Exit(1)
	}
}

func run(inputPath string) error {
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

	timeout := defaultCLITimeout
	if raw := os.Getenv("CLAUDE_CLI_TIMEOUT"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid CLAUDE_CLI_TIMEOUT %q: %w", raw, err)
		}
		timeout = time.Duration(secs) * time.Second
	}

	// Workflow registry load failure is a fail-fast condition for the
	// worker too (spec §4.8/§7 "Worker loads the workflow registry at
	// entry and holds nothing else process-wide").
	wfReg, err := registry.LoadWorkflowRegistry(layout.WorkflowRegistry())
	if err != nil {
		return fmt.Errorf("load workflow registry: %w", err)
	}

	events, err := eventlog.Open(layout.EventsDB())
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer events.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	w := orchestrator.New(layout, events, timeout, wfReg)
	return w.Run(ctx, inputPath)
}
