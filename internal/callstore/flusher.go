package callstore

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultDebounce coalesces snapshot writes per call.
const DefaultDebounce = 5 * time.Second

// Flusher debounces snapshot writes for one call. Schedule keeps the latest
// snapshot and arms (or re-uses) a debounce timer; Flush writes immediately
// and disarms the timer. Store errors are logged, never returned to the
// dialog path.
type Flusher struct {
	store    Store
	log      *slog.Logger
	debounce time.Duration
	timeout  time.Duration

	mu     sync.Mutex
	latest Snapshot
	dirty  bool
	timer  *time.Timer
	closed bool
}

// NewFlusher creates a flusher writing to store with the given debounce.
func NewFlusher(store Store, log *slog.Logger, debounce time.Duration) *Flusher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Flusher{
		store:    store,
		log:      log,
		debounce: debounce,
		timeout:  10 * time.Second,
	}
}

// Schedule records snap as the pending write and arms the debounce timer if
// none is running.
func (f *Flusher) Schedule(snap Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.latest = snap
	f.dirty = true
	if f.timer == nil {
		f.timer = time.AfterFunc(f.debounce, f.fire)
	}
}

// Flush cancels the debounce and writes snap now. Used on confirmation,
// end-call, and close, where losing the write would lose the booking.
func (f *Flusher) Flush(ctx context.Context, snap Snapshot) {
	f.mu.Lock()
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
	f.latest = snap
	f.dirty = false
	f.mu.Unlock()

	f.write(ctx, snap)
}

// Close flushes any pending snapshot and stops the timer. The flusher
// accepts no further schedules.
func (f *Flusher) Close(ctx context.Context) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
	snap, dirty := f.latest, f.dirty
	f.dirty = false
	f.mu.Unlock()

	if dirty {
		f.write(ctx, snap)
	}
}

func (f *Flusher) fire() {
	f.mu.Lock()
	f.timer = nil
	snap, dirty := f.latest, f.dirty
	f.dirty = false
	f.mu.Unlock()

	if !dirty {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()
	f.write(ctx, snap)
}

func (f *Flusher) write(ctx context.Context, snap Snapshot) {
	if err := f.store.UpsertCall(ctx, snap); err != nil {
		f.log.Error("call snapshot write failed", "call_id", snap.CallID, "error", err)
	}
}
