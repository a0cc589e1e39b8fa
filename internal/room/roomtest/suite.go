// Package roomtest holds behaviour checks shared by every room.Store.
package roomtest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heavenideas/dojo-server-go/internal/room"
)

// Run exercises a store created fresh for each subtest.
func Run(t *testing.T, newStore func(t *testing.T) room.Store) {
	t.Run("fetch missing room", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Fetch(context.Background(), "nowhere")
		assert.True(t, errors.Is(err, room.ErrNotFound), "got %v", err)
	})

	t.Run("upsert then fetch", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		rec := Record("r1", 1, "alice", `{"turn":1}`)
		require.NoError(t, s.Upsert(ctx, rec))

		got, err := s.Fetch(ctx, "r1")
		require.NoError(t, err)
		AssertRecord(t, rec, got)
	})

	t.Run("last writer wins by revision", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Upsert(ctx, Record("r1", 2, "alice", `{"turn":2}`)))

		err := s.Upsert(ctx, Record("r1", 1, "bob", `{"turn":1}`))
		assert.True(t, errors.Is(err, room.ErrStale), "got %v", err)
		err = s.Upsert(ctx, Record("r1", 2, "alice", `{"turn":9}`))
		assert.True(t, errors.Is(err, room.ErrStale), "got %v", err)

		require.NoError(t, s.Upsert(ctx, Record("r1", 2, "bob", `{"turn":3}`)))
		require.NoError(t, s.Upsert(ctx, Record("r1", 3, "alice", `{"turn":4}`)))

		got, err := s.Fetch(ctx, "r1")
		require.NoError(t, err)
		AssertRecord(t, Record("r1", 3, "alice", `{"turn":4}`), got)
	})

	t.Run("rooms are independent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Upsert(ctx, Record("r1", 5, "alice", `{"turn":5}`)))
		require.NoError(t, s.Upsert(ctx, Record("r2", 1, "alice", `{"turn":1}`)))

		got, err := s.Fetch(ctx, "r2")
		require.NoError(t, err)
		assert.EqualValues(t, 1, got.Revision)
	})

	t.Run("subscribers see accepted upserts only", func(t *testing.T) {
		s := newStore(t)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		feed, err := s.Subscribe(ctx, "r1")
		require.NoError(t, err)
		other, err := s.Subscribe(ctx, "r2")
		require.NoError(t, err)

		require.NoError(t, s.Upsert(ctx, Record("r1", 2, "alice", `{"turn":2}`)))
		_ = s.Upsert(ctx, Record("r1", 1, "bob", `{"turn":1}`))
		require.NoError(t, s.Upsert(ctx, Record("r1", 3, "bob", `{"turn":3}`)))

		AssertRecord(t, Record("r1", 2, "alice", `{"turn":2}`), Next(t, feed))
		AssertRecord(t, Record("r1", 3, "bob", `{"turn":3}`), Next(t, feed))
		select {
		case rec := <-other:
			t.Fatalf("unexpected notification for r2: %+v", rec)
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("feed closes with context", func(t *testing.T) {
		s := newStore(t)
		ctx, cancel := context.WithCancel(context.Background())
		feed, err := s.Subscribe(ctx, "r1")
		require.NoError(t, err)
		cancel()

		require.Eventually(t, func() bool {
			select {
			case _, ok := <-feed:
				return !ok
			default:
				return false
			}
		}, 2*time.Second, 10*time.Millisecond)
	})
}

// Record builds a record with a JSON state.
func Record(roomID string, revision uint64, writer, state string) room.Record {
	return room.Record{RoomID: roomID, State: json.RawMessage(state), Revision: revision, Writer: writer}
}

// AssertRecord compares records, treating State as JSON.
func AssertRecord(t *testing.T, want, got room.Record) {
	t.Helper()
	assert.Equal(t, want.RoomID, got.RoomID)
	assert.Equal(t, want.Revision, got.Revision)
	assert.Equal(t, want.Writer, got.Writer)
	assert.JSONEq(t, string(want.State), string(got.State))
}

// Next waits for the next record on feed.
func Next(t *testing.T, feed <-chan room.Record) room.Record {
	t.Helper()
	select {
	case rec, ok := <-feed:
		require.True(t, ok, "feed closed")
		return rec
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for room notification")
		return room.Record{}
	}
}
