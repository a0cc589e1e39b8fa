// Package memory provides an in-process room store.
package memory

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/heavenideas/dojo-server-go/internal/room"
)

const subscriberBuffer = 32

type subscriber struct {
	ch chan room.Record
}

// Store keeps records in a map and fans accepted upserts out to subscribers.
type Store struct {
	mu          sync.RWMutex
	records     map[string]room.Record
	subscribers map[string]map[*subscriber]struct{}
	logger      *zap.Logger
}

// New creates an empty store.
func New(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		records:     make(map[string]room.Record),
		subscribers: make(map[string]map[*subscriber]struct{}),
		logger:      logger,
	}
}

// Fetch implements room.Store.
func (s *Store) Fetch(ctx context.Context, roomID string) (room.Record, error) {
	if err := ctx.Err(); err != nil {
		return room.Record{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[roomID]
	if !ok {
		return room.Record{}, room.ErrNotFound
	}
	return rec, nil
}

// Upsert implements room.Store.
func (s *Store) Upsert(ctx context.Context, rec room.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := rec.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.records[rec.RoomID]; ok && !room.Supersedes(rec, cur) {
		return room.ErrStale
	}
	s.records[rec.RoomID] = rec

	for sub := range s.subscribers[rec.RoomID] {
		select {
		case sub.ch <- rec:
		default:
			s.logger.Warn("dropping room notification for slow subscriber",
				zap.String("room_id", rec.RoomID),
				zap.Uint64("revision", rec.Revision),
			)
		}
	}
	return nil
}

// Subscribe implements room.Store.
func (s *Store) Subscribe(ctx context.Context, roomID string) (<-chan room.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub := &subscriber{ch: make(chan room.Record, subscriberBuffer)}

	s.mu.Lock()
	if s.subscribers[roomID] == nil {
		s.subscribers[roomID] = make(map[*subscriber]struct{})
	}
	s.subscribers[roomID][sub] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subscribers[roomID], sub)
		if len(s.subscribers[roomID]) == 0 {
			delete(s.subscribers, roomID)
		}
		close(sub.ch)
		s.mu.Unlock()
	}()
	return sub.ch, nil
}

// Rooms returns the ids of every stored room.
func (s *Store) Rooms() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.records))
	for id := range s.records {
		out = append(out, id)
	}
	return out
}
