// Package progress carries progress reporting and cooperative cancellation
// for long-running core operations.
//
// Every codec and pipeline entry point accepts a Sink instead of emitting
// into a UI framework; callers bind whatever they need (a channel fan-out, a
// recording sink in tests, or Nop).
package progress

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Sink receives progress updates and answers cancellation polls. Long
// operations call Cancelled at every report boundary and abandon work when it
// returns true.
type Sink interface {
	Report(percent int, stage string)
	Cancelled() bool
}

type nopSink struct{}

func (nopSink) Report(int, string) {}
func (nopSink) Cancelled() bool    { return false }

// Nop returns a sink that discards updates and never cancels.
func Nop() Sink { return nopSink{} }

// State is the terminal state of an operation.
type State string

const (
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Update is one progress report tagged with its operation.
type Update struct {
	OperationID string
	Percent     int
	Stage       string
}

// Operation is a cancellable handle around a running core operation. It
// implements Sink so it can be handed directly to the codecs.
type Operation struct {
	id        string
	cancelled atomic.Bool

	mu      sync.Mutex
	state   State
	err     error
	updates chan<- Update
}

// NewOperation creates a running operation with a fresh id. If updates is
// non-nil, every Report is forwarded to it (dropped when the channel is full
// rather than blocking the worker).
func NewOperation(updates chan<- Update) *Operation {
	return &Operation{
		id:      uuid.New().String(),
		state:   StateRunning,
		updates: updates,
	}
}

// ID returns the operation's GUID.
func (o *Operation) ID() string { return o.id }

// Cancel requests cooperative cancellation. The operation observes it at its
// next poll boundary.
func (o *Operation) Cancel() { o.cancelled.Store(true) }

// Cancelled reports whether Cancel has been called.
func (o *Operation) Cancelled() bool { return o.cancelled.Load() }

// Report forwards a progress update.
func (o *Operation) Report(percent int, stage string) {
	o.mu.Lock()
	ch := o.updates
	o.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- Update{OperationID: o.id, Percent: percent, Stage: stage}:
	default:
	}
}

// Finish records the terminal state from the operation's result.
func (o *Operation) Finish(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch {
	case err == nil:
		o.state = StateSucceeded
	case o.cancelled.Load():
		o.state = StateCancelled
		o.err = err
	default:
		o.state = StateFailed
		o.err = err
	}
}

// State returns the operation's current state.
func (o *Operation) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Err returns the terminal error, nil while running or on success.
func (o *Operation) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

// Broadcaster fans updates out to any number of subscriber channels. It
// implements Sink and never cancels; wrap it in an Operation when the caller
// also needs cancellation.
type Broadcaster struct {
	mu   sync.Mutex
	subs []chan Update
}

// Subscribe returns a new buffered channel that receives every subsequent
// update. Slow subscribers miss updates rather than blocking the worker.
func (b *Broadcaster) Subscribe() <-chan Update {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Update, 16)
	b.subs = append(b.subs, ch)
	return ch
}

// Report forwards the update to every subscriber.
func (b *Broadcaster) Report(percent int, stage string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	u := Update{Percent: percent, Stage: stage}
	for _, ch := range b.subs {
		select {
		case ch <- u:
		default:
		}
	}
}

// Cancelled always reports false.
func (b *Broadcaster) Cancelled() bool { return false }

// Close closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}

// Recorder is a Sink for tests. It records every update and can be armed to
// cancel after a fixed number of reports.
type Recorder struct {
	mu sync.Mutex

	// CancelAfter, when > 0, makes Cancelled return true once that many
	// updates have been recorded.
	CancelAfter int

	updates []Update
}

// Report records the update.
func (r *Recorder) Report(percent int, stage string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, Update{Percent: percent, Stage: stage})
}

// Cancelled reports whether the recorder has been armed and tripped.
func (r *Recorder) Cancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.CancelAfter > 0 && len(r.updates) >= r.CancelAfter
}

// Updates returns a copy of the recorded updates.
func (r *Recorder) Updates() []Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Update, len(r.updates))
	copy(out, r.updates)
	return out
}
