// Package postgres stores room records in a Postgres sessions table and uses
// LISTEN/NOTIFY as the change feed.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/heavenideas/dojo-server-go/internal/room"
)

// Channel is the notification channel upserts are announced on.
const Channel = "dojo_room_changes"

const sessionsSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	room_id    TEXT PRIMARY KEY,
	state      JSONB NOT NULL,
	revision   BIGINT NOT NULL,
	writer     TEXT COLLATE "C" NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const upsertSQL = `
INSERT INTO sessions (room_id, state, revision, writer, updated_at)
VALUES ($1, $2::jsonb, $3, $4, now())
ON CONFLICT (room_id) DO UPDATE SET
	state = EXCLUDED.state,
	revision = EXCLUDED.revision,
	writer = EXCLUDED.writer,
	updated_at = now()
WHERE sessions.revision < EXCLUDED.revision
   OR (sessions.revision = EXCLUDED.revision AND sessions.writer < EXCLUDED.writer)`

// notification is the pg_notify payload. The state itself is re-read on
// receipt because notify payloads are limited in size.
type notification struct {
	RoomID   string `json:"room_id"`
	Revision uint64 `json:"revision"`
	Writer   string `json:"writer"`
}

func parseNotification(payload string) (notification, error) {
	var n notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return notification{}, fmt.Errorf("decode notification: %w", err)
	}
	if n.RoomID == "" {
		return notification{}, errors.New("notification has no room id")
	}
	return n, nil
}

// Store implements room.Store on Postgres.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{pool: pool, logger: logger}
}

// Connect opens a pool for url and makes sure the schema exists.
func Connect(ctx context.Context, url string, maxConns int32, logger *zap.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := New(pool, logger)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the sessions table when missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, sessionsSchema); err != nil {
		return fmt.Errorf("create sessions table: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Fetch implements room.Store.
func (s *Store) Fetch(ctx context.Context, roomID string) (room.Record, error) {
	var (
		state    []byte
		revision int64
		writer   string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT state, revision, writer FROM sessions WHERE room_id = $1`,
		roomID,
	).Scan(&state, &revision, &writer)
	if errors.Is(err, pgx.ErrNoRows) {
		return room.Record{}, room.ErrNotFound
	}
	if err != nil {
		return room.Record{}, fmt.Errorf("select room %s: %w", roomID, err)
	}
	return room.Record{
		RoomID:   roomID,
		State:    json.RawMessage(state),
		Revision: uint64(revision),
		Writer:   writer,
	}, nil
}

// Upsert implements room.Store. The row write and the notification commit
// together.
func (s *Store) Upsert(ctx context.Context, rec room.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if rec.Revision > math.MaxInt64 {
		return fmt.Errorf("revision %d out of range", rec.Revision)
	}
	payload, err := json.Marshal(notification{RoomID: rec.RoomID, Revision: rec.Revision, Writer: rec.Writer})
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, upsertSQL, rec.RoomID, string(rec.State), int64(rec.Revision), rec.Writer)
	if err != nil {
		return fmt.Errorf("upsert room %s: %w", rec.RoomID, err)
	}
	if tag.RowsAffected() == 0 {
		return room.ErrStale
	}
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, Channel, string(payload)); err != nil {
		return fmt.Errorf("notify room %s: %w", rec.RoomID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit room %s: %w", rec.RoomID, err)
	}
	return nil
}

// Subscribe implements room.Store. It holds one pool connection for as long
// as ctx is alive.
func (s *Store) Subscribe(ctx context.Context, roomID string) (<-chan room.Record, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{Channel}.Sanitize()); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen on %s: %w", Channel, err)
	}

	out := make(chan room.Record, 16)
	go func() {
		defer close(out)
		defer func() {
			_, _ = conn.Exec(context.Background(), "UNLISTEN *")
			conn.Release()
		}()

		var last room.Record
		for {
			n, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Warn("room notification feed stopped",
						zap.String("room_id", roomID),
						zap.Error(err),
					)
				}
				return
			}
			note, err := parseNotification(n.Payload)
			if err != nil {
				s.logger.Warn("ignoring malformed room notification", zap.Error(err))
				continue
			}
			if note.RoomID != roomID {
				continue
			}

			rec, err := s.Fetch(ctx, roomID)
			if err != nil {
				s.logger.Warn("failed to load notified room",
					zap.String("room_id", roomID),
					zap.Uint64("revision", note.Revision),
					zap.Error(err),
				)
				continue
			}
			// Several notifications can resolve to the same stored row.
			if last.RoomID != "" && !room.Supersedes(rec, last) {
				continue
			}
			last = rec

			select {
			case out <- rec:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
