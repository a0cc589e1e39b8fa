// Package redis stores room records in Redis hashes and uses Redis pub/sub
// as the change feed.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	backend "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/heavenideas/dojo-server-go/internal/room"
)

// upsertScript writes the record only when it supersedes the stored one and
// publishes it on the room channel in the same step.
var upsertScript = backend.NewScript(`
local cur = redis.call('HMGET', KEYS[1], 'revision', 'writer')
local rev = tonumber(cur[1])
if rev then
	local incoming = tonumber(ARGV[2])
	local writer = cur[2] or ''
	if incoming < rev or (incoming == rev and ARGV[3] <= writer) then
		return 0
	end
end
redis.call('HSET', KEYS[1], 'state', ARGV[1], 'revision', ARGV[2], 'writer', ARGV[3])
redis.call('PUBLISH', KEYS[2], ARGV[4])
return 1
`)

// Store implements room.Store on Redis.
type Store struct {
	client *backend.Client
	prefix string
	logger *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix sets the key prefix for room hashes and channels.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithLogger sets the logger used for feed diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a store with its own client.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	s := &Store{
		client: client,
		prefix: "dojo:room:",
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) key(roomID string) string {
	return s.prefix + roomID
}

func (s *Store) channel(roomID string) string {
	return s.prefix + "changes:" + roomID
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Fetch implements room.Store.
func (s *Store) Fetch(ctx context.Context, roomID string) (room.Record, error) {
	fields, err := s.client.HGetAll(ctx, s.key(roomID)).Result()
	if err != nil {
		return room.Record{}, fmt.Errorf("failed to get room from redis: %w", err)
	}
	if len(fields) == 0 {
		return room.Record{}, room.ErrNotFound
	}
	rev, err := strconv.ParseUint(fields["revision"], 10, 64)
	if err != nil {
		return room.Record{}, fmt.Errorf("invalid revision for room %s: %w", roomID, err)
	}
	return room.Record{
		RoomID:   roomID,
		State:    json.RawMessage(fields["state"]),
		Revision: rev,
		Writer:   fields["writer"],
	}, nil
}

// Upsert implements room.Store.
func (s *Store) Upsert(ctx context.Context, rec room.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	applied, err := upsertScript.Run(ctx, s.client,
		[]string{s.key(rec.RoomID), s.channel(rec.RoomID)},
		string(rec.State), strconv.FormatUint(rec.Revision, 10), rec.Writer, string(payload),
	).Int()
	if err != nil {
		return fmt.Errorf("failed to upsert room in redis: %w", err)
	}
	if applied == 0 {
		return room.ErrStale
	}
	return nil
}

// Subscribe implements room.Store.
func (s *Store) Subscribe(ctx context.Context, roomID string) (<-chan room.Record, error) {
	pubsub := s.client.Subscribe(ctx, s.channel(roomID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to room %s: %w", roomID, err)
	}

	out := make(chan room.Record, 16)
	go func() {
		defer close(out)
		defer pubsub.Close()

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var rec room.Record
				if err := json.Unmarshal([]byte(msg.Payload), &rec); err != nil {
					s.logger.Warn("ignoring malformed room notification",
						zap.String("room_id", roomID),
						zap.Error(err),
					)
					continue
				}
				select {
				case out <- rec:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Delete removes a room.
func (s *Store) Delete(ctx context.Context, roomID string) error {
	return s.client.Del(ctx, s.key(roomID)).Err()
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
