// Package bus implements the long-lived event loop (spec §4.8): a set of
// scanner goroutines, a callback router and an idle timer that turn inbound
// summary files
// into chat menus, relays Worker progress into message edits, and routes
// inbound button presses. Grounded on the teacher's overall process shape
// (cmd/ricochet/main.go's signal handling, internal/state's in-memory
// registries) generalized into a polling scanner loop, since the teacher
// itself has no equivalent "scan a spool directory on an interval" loop —
// that shape is new here, built to the spec's contract.
package bus

import (
	"context"
	"fmt"
	"log"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/arborist-dev/quiescebus/internal/callback"
	"github.com/arborist-dev/quiescebus/internal/config"
	"github.com/arborist-dev/quiescebus/internal/dedup"
	"github.com/arborist-dev/quiescebus/internal/eventlog"
	"github.com/arborist-dev/quiescebus/internal/model"
	"github.com/arborist-dev/quiescebus/internal/paths"
	"github.com/arborist-dev/quiescebus/internal/registry"
	"github.com/arborist-dev/quiescebus/internal/tracking"
	"github.com/arborist-dev/quiescebus/internal/transport"
)

// summaryKey is how the Bus caches the last SessionSummary seen for a
// (workspace, session) pair, so a callback press can rebuild a
// WorkflowSelection without re-reading a file that's already been consumed
// (spec §3: "summary_data is embedded so the Worker does not depend on the
// summary file still existing").
type summaryKey struct {
	WorkspaceID string
	SessionID   string
}

// Bus is the event loop. Run starts each scanner, the callback router and
// the idle timer in its own goroutine, so the mutable fields below are
// touched concurrently and each sits behind its own mutex. The tracking and
// dedup stores it wraps keep
// their own sync.Mutex; the callback store holds no in-memory state and
// works on its files directly.
type Bus struct {
	Layout     paths.Layout
	Cfg        *config.Config
	WSRegistry model.WorkspaceRegistry
	WFRegistry model.WorkflowRegistry

	Adapter       *transport.Adapter
	Dedup         *dedup.Store
	Tracking      *tracking.Store
	Callbacks     *callback.Store
	Events        *eventlog.Logger
	Metrics       *Metrics
	WorkerBinary  string
	SpawnLogPath  string

	summaryMu    sync.Mutex
	summaryCache map[summaryKey]model.SessionSummary

	activityMu   sync.Mutex
	lastActivity time.Time

	shutdownMu sync.Mutex
	shutdown   bool
}

// New wires a Bus from its already-open dependencies. Registries must
// already be loaded (New does not fail-fast on registry errors — that
// happens one layer up, in cmd/bus, per spec §4.8 step 2).
func New(layout paths.Layout, cfg *config.Config, wsReg model.WorkspaceRegistry, wfReg model.WorkflowRegistry, adapter *transport.Adapter, dedupStore *dedup.Store, trackingStore *tracking.Store, callbackStore *callback.Store, events *eventlog.Logger, workerBinary, spawnLogPath string) *Bus {
	return &Bus{
		Layout:       layout,
		Cfg:          cfg,
		WSRegistry:   wsReg,
		WFRegistry:   wfReg,
		Adapter:      adapter,
		Dedup:        dedupStore,
		Tracking:     trackingStore,
		Callbacks:    callbackStore,
		Events:       events,
		Metrics:      NewMetrics(),
		WorkerBinary: workerBinary,
		SpawnLogPath: spawnLogPath,
		summaryCache: make(map[summaryKey]model.SessionSummary),
		lastActivity: time.Now(),
	}
}

// touchActivity records that something happened, resetting the idle timer
// (spec §4.8 "Idle timer").
func (b *Bus) touchActivity() {
	b.activityMu.Lock()
	b.lastActivity = time.Now()
	b.activityMu.Unlock()
}

func (b *Bus) idleSince() time.Duration {
	b.activityMu.Lock()
	defer b.activityMu.Unlock()
	return time.Since(b.lastActivity)
}

func (b *Bus) requestShutdown() {
	b.shutdownMu.Lock()
	b.shutdown = true
	b.shutdownMu.Unlock()
}

func (b *Bus) shuttingDown() bool {
	b.shutdownMu.Lock()
	defer b.shutdownMu.Unlock()
	return b.shutdown
}

func (b *Bus) cacheSummary(s model.SessionSummary) {
	b.summaryMu.Lock()
	b.summaryCache[summaryKey{WorkspaceID: s.WorkspaceID, SessionID: s.SessionID}] = s
	b.summaryMu.Unlock()
}

func (b *Bus) cachedSummary(workspaceID, sessionID string) (model.SessionSummary, bool) {
	b.summaryMu.Lock()
	defer b.summaryMu.Unlock()
	s, ok := b.summaryCache[summaryKey{WorkspaceID: workspaceID, SessionID: sessionID}]
	return s, ok
}

// Run executes the startup sequence (spec §4.8 step 3-6; step 1, the PID
// lock, and step 2, loading the registries, are done by the caller before
// Run so the caller can report lock contention distinctly) and then the scanner loops plus idle timer, until
// ctx is cancelled or the idle threshold is reached.
func (b *Bus) Run(ctx context.Context) error {
	badTracking, err := b.restoreState()
	if err != nil {
		return fmt.Errorf("bus: restore state: %w", err)
	}
	for _, path := range badTracking {
		log.Printf("bus: skipped corrupt tracking file %s during restore", path)
	}

	if err := b.processLeftovers(ctx); err != nil {
		log.Printf("bus: error processing pre-existing spool files: %v", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	trig := b.startFSWatcher(ctx)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() { defer wg.Done(); b.runScanner(ctx, "menu", b.Cfg.MenuPollInterval, trig.menus, b.scanMenus) }()
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.runScanner(ctx, "progress", b.Cfg.ProgressPollInterval, trig.progress, b.scanProgress)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.runScanner(ctx, "execution", b.Cfg.MenuPollInterval, trig.executions, b.scanExecutions)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.runScanner(ctx, "notification", b.Cfg.MenuPollInterval, trig.notifications, b.scanNotifications)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.runScanner(ctx, "completion", b.Cfg.MenuPollInterval, trig.completions, b.scanCompletions)
	}()
	wg.Add(1)
	go func() { defer wg.Done(); b.runCallbackRouter(ctx) }()
	wg.Add(1)
	go func() { defer wg.Done(); b.runIdleTimer(ctx, cancel) }()

	wg.Wait()
	return nil
}

func (b *Bus) restoreState() ([]string, error) {
	var bad []string
	if err := b.Tracking.Restore(func(path string, err error) {
		bad = append(bad, path)
	}); err != nil {
		return bad, fmt.Errorf("restore tracking: %w", err)
	}
	if _, err := b.Dedup.RestoreAll(); err != nil {
		return bad, fmt.Errorf("restore dedup: %w", err)
	}
	return bad, nil
}

// processLeftovers runs one pass of every scanner immediately at startup,
// so files written while Bus was down are not left waiting for the first
// poll tick (spec §4.8 step 5).
func (b *Bus) processLeftovers(ctx context.Context) error {
	if err := b.scanMenus(ctx); err != nil {
		return err
	}
	if err := b.scanNotifications(ctx); err != nil {
		return err
	}
	if err := b.scanCompletions(ctx); err != nil {
		return err
	}
	if err := b.scanExecutions(ctx); err != nil {
		return err
	}
	return b.scanProgress(ctx)
}

// runScanner ticks fn on interval until ctx is done, logging (not
// aborting on) a single pass's error so one bad file never stops the
// scanner — consistent with the "skip this record, keep going" rule
// (spec §7). trigger, when non-nil, fires an out-of-cycle pass on an
// fsnotify hit (see startFSWatcher); the ticker remains the correctness
// guarantee, so a nil or never-firing trigger degrades to pure polling.
func (b *Bus) runScanner(ctx context.Context, name string, interval time.Duration, trigger <-chan struct{}, fn func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	pass := func() {
		if b.shuttingDown() {
			return
		}
		if err := fn(ctx); err != nil {
			log.Printf("bus: %s scan: %v", name, err)
		}
		b.Metrics.ScansTotal.WithLabelValues(name).Inc()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pass()
		case <-trigger:
			pass()
		}
	}
}

// fsTriggers carries one buffered wake-up channel per spool directory the
// Bus scans, fed by startFSWatcher.
type fsTriggers struct {
	menus, progress, executions, notifications, completions chan struct{}
}

// startFSWatcher layers an fsnotify watch under the spec's mandated polling
// cadence (§4.8): a write/create/rename event in a spool directory wakes
// its scanner immediately instead of waiting for the next tick. The poll
// ticker in runScanner is still the correctness guarantee — a coalesced or
// missed fsnotify event (or a watch that fails to establish, e.g. on an
// unsupported filesystem) never stalls a scanner past its next scheduled
// pass, so a nil/closed watcher here is harmless.
func (b *Bus) startFSWatcher(ctx context.Context) fsTriggers {
	trig := fsTriggers{
		menus:         make(chan struct{}, 1),
		progress:      make(chan struct{}, 1),
		executions:    make(chan struct{}, 1),
		notifications: make(chan struct{}, 1),
		completions:   make(chan struct{}, 1),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("bus: fsnotify unavailable, falling back to polling only: %v", err)
		return trig
	}

	byDir := map[string]chan struct{}{
		b.Layout.Summaries():     trig.menus,
		b.Layout.Progress():      trig.progress,
		b.Layout.Executions():    trig.executions,
		b.Layout.Notifications(): trig.notifications,
		b.Layout.Completions():   trig.completions,
	}
	for dir := range byDir {
		if err := watcher.Add(dir); err != nil {
			log.Printf("bus: fsnotify watch %s: %v", dir, err)
		}
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ch, found := byDir[filepath.Dir(ev.Name)]; found {
					select {
					case ch <- struct{}{}:
					default:
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("bus: fsnotify watcher error: %v", err)
			}
		}
	}()
	return trig
}

func (b *Bus) runIdleTimer(ctx context.Context, cancel context.CancelFunc) {
	ticker := time.NewTicker(b.Cfg.IdleCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if b.idleSince() >= b.Cfg.IdleShutdown {
				log.Printf("bus: idle for %s, shutting down", b.Cfg.IdleShutdown)
				b.requestShutdown()
				cancel()
				return
			}
		}
	}
}

// spawnWorker fires a detached Worker process against path (a selection or
// legacy approval file) with stdio redirected to an append-only log, and
// does not wait for it (spec §4.8 "fire-and-forget").
func (b *Bus) spawnWorker(path string) error {
	logFile, err := openAppendLog(b.SpawnLogPath)
	if err != nil {
		return fmt.Errorf("open worker spawn log: %w", err)
	}

	cmd := exec.Command(b.WorkerBinary, path)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	if err := cmd.Start(); err != nil {
		logFile.Close()
		return fmt.Errorf("start worker: %w", err)
	}
	go func() {
		cmd.Wait()
		logFile.Close()
	}()
	return nil
}
