package trigger

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ritzau/deps-validator/pkg/logging"
)

var log = logging.New("trigger")

const (
	savePrefix = "save:"
	idleKey    = "idle"
	bulkKey    = "bulk"
)

// Handler performs the passes a trigger decides to run
type Handler interface {
	RevalidateFile(ctx context.Context, path string) error
	RevalidateBatch(ctx context.Context, paths []string) error
	CheckStaleness(ctx context.Context) (bool, error)
	FullRegenerate(ctx context.Context) error
	InitWorkspace(ctx context.Context) error
}

// Options holds the trigger windows
type Options struct {
	SaveDelay time.Duration // Per-path debounce before a save is revalidated
	IdleDelay time.Duration // Quiet time before the opportunistic staleness check
}

// Trigger debounces saves per path and runs idle and bulk regeneration.
// Idle and bulk runs share one in-progress flag and never overlap; per-file
// save passes do not take the flag.
type Trigger struct {
	ctx     context.Context
	handler Handler
	opts    Options
	sched   *Scheduler

	busy atomic.Bool
	wg   sync.WaitGroup // Manual regenerations and initialization

	mu        sync.Mutex
	bulkPaths map[string]struct{}
}

// New creates a trigger. Passes run with ctx; cancelling it stops new work.
func New(ctx context.Context, handler Handler, opts Options) *Trigger {
	return &Trigger{
		ctx:       ctx,
		handler:   handler,
		opts:      opts,
		sched:     NewScheduler(),
		bulkPaths: make(map[string]struct{}),
	}
}

// Saved debounces a save of path. A later save of the same path before the
// window closes replaces this one.
func (t *Trigger) Saved(path string) {
	t.sched.Schedule(savePrefix+path, t.opts.SaveDelay, func() {
		if err := t.handler.RevalidateFile(t.ctx, path); err != nil {
			log.Warn("Revalidation failed", "path", path, "error", err)
		}
	})
	t.resetIdle()
}

// Edited records editor activity without revalidating anything
func (t *Trigger) Edited() {
	t.resetIdle()
}

// Bulk handles many changed files as one batch. Pending per-file saves for
// those paths are cancelled since the batch covers them.
func (t *Trigger) Bulk(paths []string) {
	t.mu.Lock()
	for _, p := range paths {
		t.bulkPaths[p] = struct{}{}
		t.sched.Cancel(savePrefix + p)
	}
	t.mu.Unlock()

	t.sched.Schedule(bulkKey, 0, t.runBulk)
	t.resetIdle()
}

func (t *Trigger) runBulk() {
	if !t.busy.CompareAndSwap(false, true) {
		// Retry once the running regeneration is done
		log.Debug("Regeneration in progress, deferring batch")
		t.sched.Schedule(bulkKey, t.opts.SaveDelay, t.runBulk)
		return
	}
	defer t.busy.Store(false)

	t.mu.Lock()
	paths := make([]string, 0, len(t.bulkPaths))
	for p := range t.bulkPaths {
		paths = append(paths, p)
	}
	clear(t.bulkPaths)
	t.mu.Unlock()

	if len(paths) == 0 {
		return
	}
	slices.Sort(paths)

	t.guard("bulk", func() error {
		return t.handler.RevalidateBatch(t.ctx, paths)
	})
}

func (t *Trigger) resetIdle() {
	t.sched.Schedule(idleKey, t.opts.IdleDelay, t.runIdle)
}

func (t *Trigger) runIdle() {
	if !t.busy.CompareAndSwap(false, true) {
		log.Debug("Skipping idle check, regeneration in progress")
		return
	}
	defer t.busy.Store(false)

	t.guard("idle", func() error {
		stale, err := t.handler.CheckStaleness(t.ctx)
		if err != nil || !stale {
			return err
		}
		log.Info("Workspace drifted while idle, regenerating")
		return t.handler.FullRegenerate(t.ctx)
	})
}

// Regenerate starts a full regeneration on request. It reports false when
// an idle, bulk or manual run already holds the in-progress flag.
func (t *Trigger) Regenerate() bool {
	return t.manual("manual", t.handler.FullRegenerate)
}

// Initialize creates the workspace cache and regenerates, under the same
// in-progress flag as Regenerate
func (t *Trigger) Initialize() bool {
	return t.manual("init", t.handler.InitWorkspace)
}

// manual runs fn in the background on the trigger's context, so a caller
// going away does not abort it halfway
func (t *Trigger) manual(kind string, fn func(context.Context) error) bool {
	if !t.busy.CompareAndSwap(false, true) {
		return false
	}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer t.busy.Store(false)
		t.guard(kind, func() error {
			return fn(t.ctx)
		})
	}()
	return true
}

// guard runs fn and turns a panic into a logged error so the in-progress
// flag is always released by the caller's deferred reset
func (t *Trigger) guard(kind string, fn func() error) {
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		err = fn()
	}()
	if err != nil {
		log.Error("Regeneration failed", "kind", kind, "error", err)
	}
}

// Busy reports whether an idle or bulk regeneration is running
func (t *Trigger) Busy() bool {
	return t.busy.Load()
}

// PendingSaves returns the paths waiting for their debounce window
func (t *Trigger) PendingSaves() []string {
	var paths []string
	for _, k := range t.sched.Pending() {
		if p, ok := strings.CutPrefix(k, savePrefix); ok {
			paths = append(paths, p)
		}
	}
	return paths
}

// Stop cancels pending work and waits for running passes
func (t *Trigger) Stop() {
	t.sched.Stop()
	t.wg.Wait()
}
