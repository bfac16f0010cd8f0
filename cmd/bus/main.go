// Command bus runs the long-lived quiescebus event loop (spec §4.8): it
// owns the chat-transport connection, scans the spool directories, and
// spawns the worker one-shot per user selection. Grounded on
// cmd/ricochet/main.go's process shape (signal handling, config.Load,
// transport construction) generalized to the bus/registry/pidlock wiring
// this spec's Bus needs; the cobra command surface itself follows
// tombee-conductor's CLI, the richest cobra example in the retrieval pack.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/arborist-dev/quiescebus/internal/bus"
	"github.com/arborist-dev/quiescebus/internal/callback"
	"github.com/arborist-dev/quiescebus/internal/config"
	"github.com/arborist-dev/quiescebus/internal/dedup"
	"github.com/arborist-dev/quiescebus/internal/eventlog"
	"github.com/arborist-dev/quiescebus/internal/paths"
	"github.com/arborist-dev/quiescebus/internal/pidlock"
	"github.com/arborist-dev/quiescebus/internal/registry"
	"github.com/arborist-dev/quiescebus/internal/tracking"
	"github.com/arborist-dev/quiescebus/internal/transport"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "bus",
		Short: "quiescebus bus: the long-lived workflow-orchestration event loop",
	}
	root.AddCommand(runCmd(), versionCmd(), doctorCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the bus version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}

func runCmd() *cobra.Command {
	var workerBinary string
	c := &cobra.Command{
		Use:   "run",
		Short: "start the bus event loop (spec §4.8)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBus(cmd.Context(), workerBinary)
		},
	}
	c.Flags().StringVar(&workerBinary, "worker-binary", "", "path to the worker executable (default: sibling of this binary, or $QUIESCEBUS_WORKER_BINARY)")
	return c
}

// doctorCmd reports lock and registry health without taking the lock or
// starting the loop — an operator-facing diagnostic, not part of the spec's
// control plane proper.
func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "report PID-lock and registry health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				fmt.Fprintf(os.Stderr, "config: %v\n", err)
			}
			stateRoot := os.Getenv("QUIESCEBUS_STATE_ROOT")
			if stateRoot == "" && cfg != nil {
				stateRoot = cfg.StateRoot
			}
			layout, err := paths.NewLayout(stateRoot)
			if err != nil {
				return fmt.Errorf("doctor: resolve state root: %w", err)
			}
			fmt.Printf("state root: %s\n", layout.Root)

			if pid, locked := pidHeld(layout.PIDFile()); locked {
				fmt.Printf("bot.pid: held by pid %d\n", pid)
			} else {
				fmt.Println("bot.pid: not held")
			}

			if _, err := registry.LoadWorkflowRegistry(layout.WorkflowRegistry()); err != nil {
				fmt.Printf("workflow registry: INVALID (%v)\n", err)
			} else {
				fmt.Println("workflow registry: ok")
			}
			if _, err := registry.LoadWorkspaceRegistry(layout.WorkspaceRegistry()); err != nil {
				fmt.Printf("workspace registry: INVALID (%v)\n", err)
			} else {
				fmt.Println("workspace registry: ok")
			}
			return nil
		},
	}
}

func pidHeld(path string) (int, bool) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	var pid int
	if _, err := fmt.Sscanf(string(raw), "%d", &pid); err != nil {
		return 0, false
	}
	return pid, true
}

func runBus(ctx context.Context, workerBinaryFlag string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	layout, err := paths.NewLayout(cfg.StateRoot)
	if err != nil {
		return fmt.Errorf("resolve state root: %w", err)
	}
	if err := layout.EnsureAll(); err != nil {
		return fmt.Errorf("create spool directories: %w", err)
	}

	lock, err := pidlock.Acquire(layout.PIDFile(), "bus")
	if err != nil {
		return fmt.Errorf("acquire pid lock: %w", err)
	}
	defer lock.Release()

	wfReg, err := registry.LoadWorkflowRegistry(layout.WorkflowRegistry())
	if err != nil {
		return fmt.Errorf("load workflow registry: %w", err)
	}
	wsReg, err := registry.LoadWorkspaceRegistry(layout.WorkspaceRegistry())
	if err != nil {
		return fmt.Errorf("load workspace registry: %w", err)
	}

	events, err := eventlog.Open(layout.EventsDB())
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer events.Close()

	dedupStore := dedup.NewStore(layout.Dedup())
	trackingStore := tracking.NewStore(layout.Tracking())
	callbackStore := callback.NewStore(layout.Callbacks())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	xport, stop, err := buildTransport(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build chat transport: %w", err)
	}
	defer stop()

	adapter := transport.NewAdapter(xport, dedupStore)

	workerBinary := resolveWorkerBinary(workerBinaryFlag)
	spawnLog := filepath.Join(layout.Root, "worker-spawn.log")

	b := bus.New(layout, cfg, wsReg, wfReg, adapter, dedupStore, trackingStore, callbackStore, events, workerBinary, spawnLog)

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(b.Metrics.Registry, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("bus: metrics server: %v", err)
			}
		}()
		go func() {
			<-ctx.Done()
			srv.Close()
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("bus: shutdown signal received")
		cancel()
	}()

	if err := events.Log(ctx, "startup", "", "", eventlog.ComponentBot, eventlog.EventBotStarted, map[string]any{"version": version}); err != nil {
		return fmt.Errorf("log bot.started: %w", err)
	}
	log.Printf("bus: started, state root %s", layout.Root)

	runErr := b.Run(ctx)

	if err := events.Log(context.Background(), "shutdown", "", "", eventlog.ComponentBot, eventlog.EventBotShutdown, nil); err != nil {
		log.Printf("bus: log bot.shutdown: %v", err)
	}
	return runErr
}

// buildTransport picks Telegram, Discord, or a cloud-bridge relay client
// depending on which config fields are set, preferring a direct transport
// over the relay when both are configured (spec §4.6: the adapter is
// transport-agnostic; selection among backends is an operator choice, not
// a spec requirement). Returns a stop func that tears down whatever was
// started.
func buildTransport(ctx context.Context, cfg *config.Config) (transport.Transport, func(), error) {
	if cfg.CloudBridgeURL != "" && cfg.TelegramToken == "" && cfg.DiscordToken == "" {
		client, err := transport.DialBridge(ctx, cfg.CloudBridgeURL, transport.TelegramHTML{})
		if err != nil {
			return nil, nil, fmt.Errorf("dial cloud bridge: %w", err)
		}
		return client, func() { client.Close() }, nil
	}

	if cfg.TelegramToken != "" {
		tg, err := transport.NewTelegram(cfg.TelegramToken, cfg.AllowedUserIDs)
		if err != nil {
			return nil, nil, fmt.Errorf("construct telegram transport: %w", err)
		}
		go func() {
			if err := tg.Start(ctx); err != nil && ctx.Err() == nil {
				log.Printf("bus: telegram transport stopped: %v", err)
			}
		}()
		return tg, func() {}, nil
	}

	if cfg.DiscordToken != "" {
		dc, err := transport.NewDiscord(cfg.DiscordToken, cfg.DiscordGuildID)
		if err != nil {
			return nil, nil, fmt.Errorf("construct discord transport: %w", err)
		}
		go func() {
			if err := dc.Start(ctx); err != nil && ctx.Err() == nil {
				log.Printf("bus: discord transport stopped: %v", err)
			}
		}()
		return dc, func() {}, nil
	}

	return nil, nil, fmt.Errorf("no chat transport configured: set TELEGRAM_BOT_TOKEN, DISCORD_BOT_TOKEN, or QUIESCEBUS_CLOUD_URL")
}

// resolveWorkerBinary picks, in order: an explicit --worker-binary flag,
// $QUIESCEBUS_WORKER_BINARY, or a "worker" binary next to this executable.
func resolveWorkerBinary(flagVal string) string {
	if flagVal != "" {
		return flagVal
	}
	if v := os.Getenv("QUIESCEBUS_WORKER_BINARY"); v != "" {
		return v
	}
	if exe, err := os.Executable(); err == nil {
		sibling := filepath.Join(filepath.Dir(exe), "worker")
		if _, err := os.Stat(sibling); err == nil {
			return sibling
		}
	}
	return "worker"
}
