// Package history keeps a bounded linear undo log of encoded boards.
package history

import (
	"sync"

	"go.uber.org/zap"

	"github.com/heavenideas/dojo-server-go/internal/codec"
	"github.com/heavenideas/dojo-server-go/internal/game"
)

// DefaultCapacity bounds the undo log when no capacity is configured.
const DefaultCapacity = 250

// Stack is a ring buffer of boards encoded without their log. The oldest
// entry is evicted once capacity is reached.
type Stack struct {
	mu       sync.Mutex
	entries  [][]byte
	start    int
	size     int
	capacity int
	logger   *zap.Logger
}

// New creates an empty stack. A non-positive capacity uses DefaultCapacity.
func New(capacity int, logger *zap.Logger) *Stack {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stack{
		entries:  make([][]byte, capacity),
		capacity: capacity,
		logger:   logger,
	}
}

// Checkpoint records m. It satisfies game.Checkpointer.
func (s *Stack) Checkpoint(m *game.MatchState) {
	data, err := codec.Encode(m, false)
	if err != nil {
		s.logger.Warn("failed to encode history entry", zap.Error(err))
		return
	}
	s.Push(data)
}

// Push appends an encoded entry.
func (s *Stack) Push(entry []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.size < s.capacity {
		s.entries[(s.start+s.size)%s.capacity] = entry
		s.size++
		return
	}
	s.entries[s.start] = entry
	s.start = (s.start + 1) % s.capacity
}

func (s *Stack) pop() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.size == 0 {
		return nil, false
	}
	idx := (s.start + s.size - 1) % s.capacity
	entry := s.entries[idx]
	s.entries[idx] = nil
	s.size--
	return entry, true
}

// Undo removes the newest entry and rebuilds the board it holds. The
// returned board keeps current's log truncated to the length recorded with
// the entry. An entry that cannot be decoded is dropped and logged.
func (s *Stack) Undo(current *game.MatchState) (*game.MatchState, bool) {
	entry, ok := s.pop()
	if !ok {
		return nil, false
	}
	var log []game.LogEntry
	if current != nil {
		log = current.Log
	}
	m, err := codec.Decode(entry, log)
	if err != nil {
		s.logger.Warn("discarding undecodable history entry", zap.Error(err))
		return nil, false
	}
	return m, true
}

// Len returns the number of entries.
func (s *Stack) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Capacity returns the maximum number of entries.
func (s *Stack) Capacity() int {
	return s.capacity
}

// Clear drops every entry.
func (s *Stack) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.entries {
		s.entries[i] = nil
	}
	s.start = 0
	s.size = 0
}

// Entries returns the encoded entries, oldest first.
func (s *Stack) Entries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, s.size)
	for i := 0; i < s.size; i++ {
		out = append(out, string(s.entries[(s.start+i)%s.capacity]))
	}
	return out
}

// Load replaces the contents with entries, oldest first. Only the newest
// entries that fit are kept.
func (s *Stack) Load(entries []string) {
	s.Clear()
	if len(entries) > s.capacity {
		entries = entries[len(entries)-s.capacity:]
	}
	for _, e := range entries {
		s.Push([]byte(e))
	}
}
