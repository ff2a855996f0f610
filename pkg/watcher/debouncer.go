package watcher

import (
	"context"
	"slices"
	"time"
)

// Batch is a set of file events collapsed to the last operation per path
type Batch struct {
	Changed   []string // Sorted
	Removed   []string // Sorted
	Timestamp time.Time
}

// Len returns the number of distinct paths in the batch
func (b Batch) Len() int {
	return len(b.Changed) + len(b.Removed)
}

// Debouncer batches rapid file events so a branch switch or formatter run
// arrives as one batch instead of hundreds of single events
type Debouncer struct {
	input       <-chan FileEvent
	output      chan Batch
	quietPeriod time.Duration
	maxWait     time.Duration
}

// NewDebouncer creates a new event debouncer. A batch is flushed after
// quietPeriod without events, or maxWait after its first event.
func NewDebouncer(input <-chan FileEvent, quietPeriod, maxWait time.Duration) *Debouncer {
	return &Debouncer{
		input:       input,
		output:      make(chan Batch, 10),
		quietPeriod: quietPeriod,
		maxWait:     maxWait,
	}
}

// Start begins processing events with debouncing
func (d *Debouncer) Start(ctx context.Context) {
	go d.run(ctx)
}

func (d *Debouncer) run(ctx context.Context) {
	defer close(d.output)

	var (
		quiet, deadline <-chan time.Time
		pending         = make(map[string]Op)
	)

	flush := func() {
		quiet, deadline = nil, nil
		if len(pending) == 0 {
			return
		}

		batch := Batch{Timestamp: time.Now()}
		for path, op := range pending {
			if op == OpRemoved {
				batch.Removed = append(batch.Removed, path)
			} else {
				batch.Changed = append(batch.Changed, path)
			}
		}
		slices.Sort(batch.Changed)
		slices.Sort(batch.Removed)
		clear(pending)

		log.Debug("Flushing file events", "changed", len(batch.Changed), "removed", len(batch.Removed))
		d.output <- batch
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case event, ok := <-d.input:
			if !ok {
				flush()
				return
			}

			pending[event.Path] = event.Op
			quiet = time.After(d.quietPeriod)
			if deadline == nil {
				deadline = time.After(d.maxWait)
			}

		case <-quiet:
			flush()

		case <-deadline:
			flush()
		}
	}
}

// Output returns the channel of debounced batches
func (d *Debouncer) Output() <-chan Batch {
	return d.output
}
