package callstore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// recordingStore captures upserts for assertions.
type recordingStore struct {
	mu    sync.Mutex
	snaps []Snapshot
	err   error
}

func (r *recordingStore) UpsertCall(_ context.Context, snap Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, snap)
	return r.err
}

func (r *recordingStore) AppendAudioChunk(context.Context, string, []byte) error { return nil }

func (r *recordingStore) writes() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Snapshot(nil), r.snaps...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFlusher_DebounceCoalesces(t *testing.T) {
	t.Parallel()

	store := &recordingStore{}
	f := NewFlusher(store, testLogger(), 50*time.Millisecond)
	defer f.Close(context.Background())

	f.Schedule(Snapshot{CallID: "c1", Step: "pickup"})
	f.Schedule(Snapshot{CallID: "c1", Step: "destination"})
	f.Schedule(Snapshot{CallID: "c1", Step: "passengers"})

	time.Sleep(150 * time.Millisecond)

	writes := store.writes()
	if len(writes) != 1 {
		t.Fatalf("writes: want 1, got %d", len(writes))
	}
	if writes[0].Step != "passengers" {
		t.Errorf("want latest snapshot written, got step %q", writes[0].Step)
	}
}

func TestFlusher_FlushCancelsDebounce(t *testing.T) {
	t.Parallel()

	store := &recordingStore{}
	f := NewFlusher(store, testLogger(), 100*time.Millisecond)
	defer f.Close(context.Background())

	f.Schedule(Snapshot{CallID: "c1", Step: "pickup"})
	f.Flush(context.Background(), Snapshot{CallID: "c1", Step: "confirmed", Confirmed: true})

	time.Sleep(200 * time.Millisecond)

	writes := store.writes()
	if len(writes) != 1 {
		t.Fatalf("writes: want 1, got %d", len(writes))
	}
	if !writes[0].Confirmed {
		t.Error("immediate flush did not write the given snapshot")
	}
}

func TestFlusher_CloseFlushesPending(t *testing.T) {
	t.Parallel()

	store := &recordingStore{}
	f := NewFlusher(store, testLogger(), time.Minute)

	f.Schedule(Snapshot{CallID: "c1", Step: "time"})
	f.Close(context.Background())

	writes := store.writes()
	if len(writes) != 1 || writes[0].Step != "time" {
		t.Fatalf("close did not flush pending snapshot: %+v", writes)
	}

	// Post-close schedules are ignored.
	f.Schedule(Snapshot{CallID: "c1", Step: "late"})
	time.Sleep(50 * time.Millisecond)
	if len(store.writes()) != 1 {
		t.Error("schedule after close wrote a snapshot")
	}
}

func TestFlusher_StoreErrorDoesNotPropagate(t *testing.T) {
	t.Parallel()

	store := &recordingStore{err: errors.New("db down")}
	f := NewFlusher(store, testLogger(), 10*time.Millisecond)

	// Neither call may panic or surface the error.
	f.Schedule(Snapshot{CallID: "c1"})
	f.Flush(context.Background(), Snapshot{CallID: "c1"})
	f.Close(context.Background())
}
