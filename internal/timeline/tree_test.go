package timeline

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/heavenideas/dojo-server-go/internal/codec"
	"github.com/heavenideas/dojo-server-go/internal/game"
)

// fixedClock advances one second per call.
type fixedClock struct {
	t time.Time
}

func (c *fixedClock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTestTree(t *testing.T, opts ...Option) *Tree {
	t.Helper()
	clock := &fixedClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	n := 0
	base := []Option{
		WithClock(clock.now),
		WithIDGenerator(func() string {
			n++
			return fmt.Sprintf("n%d", n)
		}),
	}
	return New(zaptest.NewLogger(t), append(base, opts...)...)
}

func TestSaveTracksLineageAndAdvancesPointer(t *testing.T) {
	tree := newTestTree(t)
	m := game.NewMatchState()
	m.Players[0].Lore = 3

	root, err := tree.Save(m, "", "opening")
	require.NoError(t, err)
	assert.Empty(t, root.ParentID)
	assert.Equal(t, "Turn 1 - Player 1 Active", root.Name)
	assert.Equal(t, "Turn 1 | P1: 3 - P2: 0", root.Stats)
	assert.Equal(t, Palette[0], root.Color)
	assert.Equal(t, root.ID, m.ActiveBookmarkID)

	child, err := tree.Save(m, "  line A ", " ")
	require.NoError(t, err)
	assert.Equal(t, root.ID, child.ParentID)
	assert.Equal(t, "line A", child.Name)
	assert.Empty(t, child.Comment)
	assert.Equal(t, Palette[1], child.Color)
	assert.Equal(t, child.ID, m.ActiveBookmarkID)

	snap, err := codec.Decode([]byte(root.State), nil)
	require.NoError(t, err)
	assert.Empty(t, snap.ActiveBookmarkID)
	assert.Equal(t, 3, snap.Players[0].Lore)
}

func TestPaletteCycles(t *testing.T) {
	tree := newTestTree(t)
	m := game.NewMatchState()
	var last *Bookmark
	for i := 0; i <= len(Palette); i++ {
		b, err := tree.Save(m, "x", "")
		require.NoError(t, err)
		last = b
	}
	assert.Equal(t, Palette[0], last.Color)
}

func TestSaveDeckEdit(t *testing.T) {
	tree := newTestTree(t)
	m := game.NewMatchState()

	b, err := tree.SaveDeckEdit(m, "Player 1")
	require.NoError(t, err)
	assert.True(t, b.IsDeckEdit)
	assert.Equal(t, DefaultColor, b.Color)

	m.ActiveTimelineColor = "#d946ef"
	b2, err := tree.SaveDeckEdit(m, "Player 1")
	require.NoError(t, err)
	assert.Equal(t, "#d946ef", b2.Color)
	assert.Equal(t, b.ID, b2.ParentID)
}

func TestAutoSaveAtTurnUsesPreviousTurnComment(t *testing.T) {
	tree := newTestTree(t)
	m := game.NewMatchState()
	m.Turn, m.ActivePlayer, m.InactivePlayer = 3, 0, 1
	m.TurnComments["2-1"] = "swung with everything"

	b, err := tree.AutoSaveAtTurn(m)
	require.NoError(t, err)
	assert.Equal(t, "Turn 3 - Player 1 Active", b.Name)
	assert.Equal(t, "swung with everything", b.Comment)

	m.ActivePlayer, m.InactivePlayer = 1, 0
	b, err = tree.AutoSaveAtTurn(m)
	require.NoError(t, err)
	assert.Equal(t, "Auto-saved at start of turn.", b.Comment)
}

func TestAutoSaveCapacityNewestFirst(t *testing.T) {
	tree := newTestTree(t, WithAutoSaveCapacity(3))
	m := game.NewMatchState()
	for i := 1; i <= 5; i++ {
		m.Turn = i
		_, err := tree.AutoSave(m)
		require.NoError(t, err)
	}

	saves := tree.AutoSaves()
	require.Len(t, saves, 3)
	assert.Equal(t, []string{"n5", "n4", "n3"}, []string{saves[0].ID, saves[1].ID, saves[2].ID})
	assert.Equal(t, "Auto-Save: Left Turn 5 (12:00:05)", saves[0].Name)
	assert.Equal(t, "Turn 5 | Player 1 Active | P1: 0 - P2: 0", saves[0].Stats)
}

func TestRestoreBookmark(t *testing.T) {
	tree := newTestTree(t)
	m := game.NewMatchState()
	m.Log = append(m.Log, game.LogEntry{Text: "saved"})
	b, err := tree.Save(m, "checkpoint", "")
	require.NoError(t, err)

	m.Players[1].Lore = 9
	m.Log = append(m.Log, game.LogEntry{Text: "after"})

	restored, err := tree.Restore(b.ID, false, m)
	require.NoError(t, err)
	assert.Zero(t, restored.Players[1].Lore)
	assert.Equal(t, []game.LogEntry{{Text: "saved"}}, restored.Log)
	assert.Equal(t, b.ID, restored.ActiveBookmarkID)
	assert.Equal(t, b.Color, restored.ActiveTimelineColor)

	saves := tree.AutoSaves()
	require.Len(t, saves, 1)
	safety, err := codec.Decode([]byte(saves[0].State), nil)
	require.NoError(t, err)
	assert.Equal(t, 9, safety.Players[1].Lore)
}

func TestRestoreAutoSaveKeepsPointer(t *testing.T) {
	tree := newTestTree(t)
	m := game.NewMatchState()
	m.ActiveBookmarkID = "somewhere"
	a, err := tree.AutoSave(m)
	require.NoError(t, err)

	restored, err := tree.Restore(a.ID, true, game.NewMatchState())
	require.NoError(t, err)
	assert.Equal(t, "somewhere", restored.ActiveBookmarkID)
	assert.Empty(t, restored.ActiveTimelineColor)
	assert.Len(t, tree.AutoSaves(), 2)
}

func TestRestoreUnknownIsNotFound(t *testing.T) {
	tree := newTestTree(t)
	_, err := tree.Restore("ghost", false, game.NewMatchState())
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Empty(t, tree.AutoSaves())
}

func TestEdit(t *testing.T) {
	tree := newTestTree(t)
	m := game.NewMatchState()
	b, err := tree.Save(m, "first", "note")
	require.NoError(t, err)

	require.NoError(t, tree.Edit(b.ID, "  ", "new note"))
	got, ok := tree.Get(b.ID)
	require.True(t, ok)
	assert.Equal(t, "first", got.Name)
	assert.Equal(t, "new note", got.Comment)

	require.NoError(t, tree.Edit(b.ID, "renamed", ""))
	got, _ = tree.Get(b.ID)
	assert.Equal(t, "renamed", got.Name)
	assert.Empty(t, got.Comment)

	assert.True(t, errors.Is(tree.Edit("ghost", "x", ""), ErrNotFound))
}

func TestDeleteGrandparentsChildren(t *testing.T) {
	tree := newTestTree(t)
	m := game.NewMatchState()
	root, err := tree.Save(m, "root", "")
	require.NoError(t, err)
	mid, err := tree.Save(m, "mid", "")
	require.NoError(t, err)

	const n = 4
	children := make([]string, 0, n)
	for i := 0; i < n; i++ {
		m.ActiveBookmarkID = mid.ID
		c, err := tree.Save(m, fmt.Sprintf("child %d", i), "")
		require.NoError(t, err)
		children = append(children, c.ID)
	}
	before := map[string]string{}
	for _, b := range tree.Bookmarks() {
		before[b.ID] = b.State
	}

	require.NoError(t, tree.Delete(mid.ID, false))

	after := tree.Bookmarks()
	require.Len(t, after, n+1)
	for _, b := range after {
		assert.Equal(t, before[b.ID], b.State)
		if b.ID == root.ID {
			assert.Empty(t, b.ParentID)
			continue
		}
		assert.Contains(t, children, b.ID)
		assert.Equal(t, root.ID, b.ParentID)
	}
	assertAcyclic(t, after)

	assert.True(t, errors.Is(tree.Delete(mid.ID, false), ErrNotFound))
}

func TestDeleteRootPromotesChildren(t *testing.T) {
	tree := newTestTree(t)
	m := game.NewMatchState()
	root, err := tree.Save(m, "root", "")
	require.NoError(t, err)
	child, err := tree.Save(m, "child", "")
	require.NoError(t, err)

	require.NoError(t, tree.Delete(root.ID, false))
	got, ok := tree.Get(child.ID)
	require.True(t, ok)
	assert.Empty(t, got.ParentID)
}

func TestDeleteAutoSave(t *testing.T) {
	tree := newTestTree(t)
	a, err := tree.AutoSave(game.NewMatchState())
	require.NoError(t, err)

	require.NoError(t, tree.Delete(a.ID, true))
	assert.Empty(t, tree.AutoSaves())
	assert.True(t, errors.Is(tree.Delete(a.ID, true), ErrNotFound))
}

func TestReplaceSortsAndCapsAutoSaves(t *testing.T) {
	tree := newTestTree(t, WithAutoSaveCapacity(2))
	tree.Replace(
		[]Bookmark{{ID: "b1"}, {ID: "b2", ParentID: "b1"}},
		[]AutoSave{{ID: "old", Timestamp: 1}, {ID: "new", Timestamp: 3}, {ID: "mid", Timestamp: 2}},
	)

	assert.Len(t, tree.Bookmarks(), 2)
	saves := tree.AutoSaves()
	require.Len(t, saves, 2)
	assert.Equal(t, "new", saves[0].ID)
	assert.Equal(t, "mid", saves[1].ID)

	tree.Clear()
	assert.Empty(t, tree.Bookmarks())
	assert.Empty(t, tree.AutoSaves())
}

func assertAcyclic(t *testing.T, bookmarks []Bookmark) {
	t.Helper()
	parent := map[string]string{}
	for _, b := range bookmarks {
		parent[b.ID] = b.ParentID
	}
	for id := range parent {
		seen := map[string]bool{}
		for cur := id; cur != ""; cur = parent[cur] {
			require.False(t, seen[cur], "cycle through %s", cur)
			seen[cur] = true
		}
	}
}
