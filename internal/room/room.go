// Package room defines the shared, room-keyed store two clients synchronize
// through.
package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a room has no stored record.
	ErrNotFound = errors.New("room not found")
	// ErrStale is returned when an upsert loses to the stored record.
	ErrStale = errors.New("stale room record")
)

// Record is the single value stored per room. State holds the encoded board
// including its log. Revision is a Lamport clock and Writer identifies the
// client that produced it.
type Record struct {
	RoomID   string          `json:"roomId"`
	State    json.RawMessage `json:"state"`
	Revision uint64          `json:"revision"`
	Writer   string          `json:"writer"`
}

// Supersedes reports whether incoming replaces current: a higher revision
// wins, and equal revisions are broken by the lexicographically greater writer.
func Supersedes(incoming, current Record) bool {
	if incoming.Revision != current.Revision {
		return incoming.Revision > current.Revision
	}
	return incoming.Writer > current.Writer
}

// Validate checks the fields every store requires.
func (r Record) Validate() error {
	if r.RoomID == "" {
		return errors.New("record has no room id")
	}
	if len(r.State) == 0 {
		return fmt.Errorf("record for room %s has no state", r.RoomID)
	}
	return nil
}

// Store is a room-keyed record store with a change feed.
type Store interface {
	// Fetch returns the stored record or ErrNotFound.
	Fetch(ctx context.Context, roomID string) (Record, error)
	// Upsert stores rec when it supersedes the stored record and notifies
	// subscribers. A losing record is rejected with ErrStale.
	Upsert(ctx context.Context, rec Record) error
	// Subscribe delivers every accepted record for the room until ctx is
	// done, then closes the channel.
	Subscribe(ctx context.Context, roomID string) (<-chan Record, error)
}
