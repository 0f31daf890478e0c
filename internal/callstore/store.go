// Package callstore persists call records and transcripts to Postgres. The
// dialog never depends on the store: write errors are logged and swallowed so
// a database outage cannot stall a live call.
package callstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Transcript is one persisted utterance.
type Transcript struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is the durable view of one call, written whole on every flush.
type Snapshot struct {
	CallID      string
	Phone       string
	Pickup      string
	Destination string
	Passengers  int
	PickupTime  string
	Step        string
	Fare        string
	Eta         string
	Status      string
	Confirmed   bool
	Transcripts []Transcript
}

// Store writes call snapshots somewhere durable. AppendAudioChunk feeds the
// monitoring stream: a throttled sample of the caller's audio kept alongside
// the call record.
type Store interface {
	UpsertCall(ctx context.Context, snap Snapshot) error
	AppendAudioChunk(ctx context.Context, callID string, chunk []byte) error
}

// PGStore is the Postgres-backed store.
type PGStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PGStore)(nil)

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, dsn string) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("callstore: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("callstore: ping: %w", err)
	}
	return &PGStore{pool: pool}, nil
}

// Migrate creates the calls table if it does not exist.
func (s *PGStore) Migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS calls (
	call_id      TEXT PRIMARY KEY,
	phone        TEXT NOT NULL DEFAULT '',
	pickup       TEXT NOT NULL DEFAULT '',
	destination  TEXT NOT NULL DEFAULT '',
	passengers   INT  NOT NULL DEFAULT 0,
	pickup_time  TEXT NOT NULL DEFAULT '',
	step         TEXT NOT NULL DEFAULT '',
	fare         TEXT NOT NULL DEFAULT '',
	eta          TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT '',
	confirmed    BOOLEAN NOT NULL DEFAULT FALSE,
	transcripts  JSONB NOT NULL DEFAULT '[]',
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
)`
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("callstore: migrate: %w", err)
	}

	const monitorSchema = `
CREATE TABLE IF NOT EXISTS call_audio_monitor (
	id         BIGSERIAL PRIMARY KEY,
	call_id    TEXT NOT NULL,
	chunk      BYTEA NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
	if _, err := s.pool.Exec(ctx, monitorSchema); err != nil {
		return fmt.Errorf("callstore: migrate monitor: %w", err)
	}
	return nil
}

// UpsertCall writes the full snapshot, replacing any prior row for the call.
func (s *PGStore) UpsertCall(ctx context.Context, snap Snapshot) error {
	transcripts := snap.Transcripts
	if transcripts == nil {
		transcripts = []Transcript{}
	}
	raw, err := json.Marshal(transcripts)
	if err != nil {
		return fmt.Errorf("callstore: marshal transcripts: %w", err)
	}

	const query = `
INSERT INTO calls (call_id, phone, pickup, destination, passengers, pickup_time,
                   step, fare, eta, status, confirmed, transcripts, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now())
ON CONFLICT (call_id) DO UPDATE SET
	phone = EXCLUDED.phone,
	pickup = EXCLUDED.pickup,
	destination = EXCLUDED.destination,
	passengers = EXCLUDED.passengers,
	pickup_time = EXCLUDED.pickup_time,
	step = EXCLUDED.step,
	fare = EXCLUDED.fare,
	eta = EXCLUDED.eta,
	status = EXCLUDED.status,
	confirmed = EXCLUDED.confirmed,
	transcripts = EXCLUDED.transcripts,
	updated_at = now()`

	_, err = s.pool.Exec(ctx, query,
		snap.CallID, snap.Phone, snap.Pickup, snap.Destination, snap.Passengers,
		snap.PickupTime, snap.Step, snap.Fare, snap.Eta, snap.Status,
		snap.Confirmed, raw)
	if err != nil {
		return fmt.Errorf("callstore: upsert %s: %w", snap.CallID, err)
	}
	return nil
}

// Ping verifies the database connection; used by the readiness probe.
func (s *PGStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("callstore: ping: %w", err)
	}
	return nil
}

// AppendAudioChunk stores one monitoring sample of caller audio.
func (s *PGStore) AppendAudioChunk(ctx context.Context, callID string, chunk []byte) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO call_audio_monitor (call_id, chunk) VALUES ($1, $2)`,
		callID, chunk)
	if err != nil {
		return fmt.Errorf("callstore: append audio chunk %s: %w", callID, err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PGStore) Close() { s.pool.Close() }

// NopStore discards every write; used when persistence is disabled.
type NopStore struct{}

var _ Store = NopStore{}

func (NopStore) UpsertCall(context.Context, Snapshot) error { return nil }

func (NopStore) AppendAudioChunk(context.Context, string, []byte) error { return nil }
