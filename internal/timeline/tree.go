// Package timeline keeps the forest of named bookmarks and the short list of
// safety autosaves a session can jump between.
package timeline

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/heavenideas/dojo-server-go/internal/codec"
	"github.com/heavenideas/dojo-server-go/internal/game"
)

const (
	// DefaultAutoSaveCapacity bounds the autosave list.
	DefaultAutoSaveCapacity = 5
	// DefaultColor is used when a restored bookmark has no color.
	DefaultColor = "#3b82f6"
)

// Palette is cycled by bookmark count to color new bookmarks.
var Palette = []string{
	"#ef4444", "#f97316", "#eab308", "#22c54e", "#06b6d4",
	"#3b82f6", "#8b5cf6", "#d946ef", "#f43f5e",
}

// ErrNotFound is returned for an unknown bookmark or autosave id.
var ErrNotFound = errors.New("timeline node not found")

// Bookmark is a named node of the timeline forest. State holds the encoded
// board, including its log, at save time.
type Bookmark struct {
	ID         string `json:"id"`
	ParentID   string `json:"parentId,omitempty"`
	Name       string `json:"name"`
	Stats      string `json:"stats"`
	Comment    string `json:"comment"`
	Color      string `json:"color"`
	State      string `json:"state"`
	Timestamp  int64  `json:"timestamp"`
	IsDeckEdit bool   `json:"isDeckEdit"`
}

// AutoSave is an unparented safety snapshot.
type AutoSave struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Stats     string `json:"stats"`
	State     string `json:"state"`
	Timestamp int64  `json:"timestamp"`
}

// Tree holds bookmarks in creation order and autosaves newest first.
type Tree struct {
	mu          sync.RWMutex
	bookmarks   []*Bookmark
	autoSaves   []*AutoSave
	autoSaveCap int
	now         func() time.Time
	newID       func() string
	logger      *zap.Logger
}

// Option configures a Tree.
type Option func(*Tree)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(t *Tree) {
		if now != nil {
			t.now = now
		}
	}
}

// WithIDGenerator overrides node id generation.
func WithIDGenerator(fn func() string) Option {
	return func(t *Tree) {
		if fn != nil {
			t.newID = fn
		}
	}
}

// WithAutoSaveCapacity bounds the autosave list.
func WithAutoSaveCapacity(n int) Option {
	return func(t *Tree) {
		if n > 0 {
			t.autoSaveCap = n
		}
	}
}

// New creates an empty tree.
func New(logger *zap.Logger, opts ...Option) *Tree {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tree{
		autoSaveCap: DefaultAutoSaveCapacity,
		now:         time.Now,
		newID:       uuid.NewString,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Stats renders the summary shown next to a node.
func Stats(m *game.MatchState) string {
	return fmt.Sprintf("Turn %d | P1: %d - P2: %d", m.Turn, m.Players[0].Lore, m.Players[1].Lore)
}

// DefaultName names a bookmark after the turn and active player.
func DefaultName(m *game.MatchState) string {
	return fmt.Sprintf("Turn %d - %s Active", m.Turn, m.Players[m.ActivePlayer].Name)
}

// Save creates a bookmark under the board's active bookmark and makes it the
// active one. A blank name falls back to DefaultName.
func (t *Tree) Save(m *game.MatchState, name, comment string) (*Bookmark, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultName(m)
	}
	return t.addLocked(m, name, strings.TrimSpace(comment), t.nextColorLocked(), false)
}

// SaveDeckEdit records a deck rearrangement as a bookmark colored like the
// current timeline.
func (t *Tree) SaveDeckEdit(m *game.MatchState, playerName string) (*Bookmark, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	color := m.ActiveTimelineColor
	if color == "" {
		color = DefaultColor
	}
	name := fmt.Sprintf("Deck Edit - %s", playerName)
	return t.addLocked(m, name, "Deck order rearranged.", color, true)
}

// AutoSaveAtTurn creates the bookmark taken at the start of a turn. The
// comment is the note the previous player left for the turn that just ended.
func (t *Tree) AutoSaveAtTurn(m *game.MatchState) (*Bookmark, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	prevTurn := m.Turn
	if m.ActivePlayer == 0 && m.Turn > 1 {
		prevTurn = m.Turn - 1
	}
	comment := strings.TrimSpace(m.TurnComments[game.TurnCommentKey(prevTurn, m.InactivePlayer)])
	if comment == "" {
		comment = "Auto-saved at start of turn."
	}
	return t.addLocked(m, DefaultName(m), comment, t.nextColorLocked(), false)
}

func (t *Tree) nextColorLocked() string {
	return Palette[len(t.bookmarks)%len(Palette)]
}

func (t *Tree) addLocked(m *game.MatchState, name, comment, color string, deckEdit bool) (*Bookmark, error) {
	state, err := codec.Encode(m, true)
	if err != nil {
		return nil, err
	}
	b := &Bookmark{
		ID:         t.newID(),
		ParentID:   m.ActiveBookmarkID,
		Name:       name,
		Stats:      Stats(m),
		Comment:    comment,
		Color:      color,
		State:      string(state),
		Timestamp:  t.now().UnixMilli(),
		IsDeckEdit: deckEdit,
	}
	t.bookmarks = append(t.bookmarks, b)
	m.ActiveBookmarkID = b.ID

	t.logger.Debug("saved bookmark",
		zap.String("bookmark_id", b.ID),
		zap.String("parent_id", b.ParentID),
		zap.Bool("deck_edit", deckEdit),
	)
	return cloneBookmark(b), nil
}

// AutoSave records a safety snapshot, evicting the oldest beyond capacity.
func (t *Tree) AutoSave(m *game.MatchState) (*AutoSave, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.autoSaveLocked(m)
}

func (t *Tree) autoSaveLocked(m *game.MatchState) (*AutoSave, error) {
	state, err := codec.Encode(m, true)
	if err != nil {
		return nil, err
	}
	now := t.now()
	a := &AutoSave{
		ID:        t.newID(),
		Name:      fmt.Sprintf("Auto-Save: Left Turn %d (%s)", m.Turn, now.Format("15:04:05")),
		Stats:     fmt.Sprintf("Turn %d | %s Active | P1: %d - P2: %d", m.Turn, m.Players[m.ActivePlayer].Name, m.Players[0].Lore, m.Players[1].Lore),
		State:     string(state),
		Timestamp: now.UnixMilli(),
	}
	t.autoSaves = append([]*AutoSave{a}, t.autoSaves...)
	sort.SliceStable(t.autoSaves, func(i, j int) bool {
		return t.autoSaves[i].Timestamp > t.autoSaves[j].Timestamp
	})
	if len(t.autoSaves) > t.autoSaveCap {
		t.autoSaves = t.autoSaves[:t.autoSaveCap]
	}
	copied := *a
	return &copied, nil
}

// Restore decodes the snapshot of a bookmark, or an autosave when isAuto is
// set, after recording a safety autosave of current. Restoring a bookmark
// makes it the active one and adopts its color.
func (t *Tree) Restore(id string, isAuto bool, current *game.MatchState) (*game.MatchState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var (
		state string
		color string
		found bool
	)
	if isAuto {
		for _, a := range t.autoSaves {
			if a.ID == id {
				state, found = a.State, true
				break
			}
		}
	} else if b := t.findLocked(id); b != nil {
		state, color, found = b.State, b.Color, true
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	m, err := codec.Decode([]byte(state), nil)
	if err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", id, err)
	}
	if current != nil {
		if _, err := t.autoSaveLocked(current); err != nil {
			t.logger.Warn("failed to record safety autosave", zap.Error(err))
		}
	}
	if !isAuto {
		m.ActiveBookmarkID = id
		m.ActiveTimelineColor = color
		if m.ActiveTimelineColor == "" {
			m.ActiveTimelineColor = DefaultColor
		}
	}

	t.logger.Info("restored timeline",
		zap.String("node_id", id),
		zap.Bool("auto", isAuto),
		zap.Int("turn", m.Turn),
	)
	return m, nil
}

// Edit renames a bookmark and replaces its comment. A blank name keeps the
// old name.
func (t *Tree) Edit(id, name, comment string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	b := t.findLocked(id)
	if b == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if name = strings.TrimSpace(name); name != "" {
		b.Name = name
	}
	b.Comment = strings.TrimSpace(comment)
	return nil
}

// Delete removes a bookmark and re-parents its children to its own parent,
// or removes an autosave when isAuto is set.
func (t *Tree) Delete(id string, isAuto bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if isAuto {
		for i, a := range t.autoSaves {
			if a.ID == id {
				t.autoSaves = append(t.autoSaves[:i], t.autoSaves[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	idx := -1
	for i, b := range t.bookmarks {
		if b.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	parent := t.bookmarks[idx].ParentID
	t.bookmarks = append(t.bookmarks[:idx], t.bookmarks[idx+1:]...)

	moved := 0
	for _, b := range t.bookmarks {
		if b.ParentID == id {
			b.ParentID = parent
			moved++
		}
	}
	t.logger.Debug("deleted bookmark",
		zap.String("bookmark_id", id),
		zap.String("new_parent_id", parent),
		zap.Int("reparented", moved),
	)
	return nil
}

func (t *Tree) findLocked(id string) *Bookmark {
	for _, b := range t.bookmarks {
		if b.ID == id {
			return b
		}
	}
	return nil
}

// Get returns a copy of a bookmark.
func (t *Tree) Get(id string) (*Bookmark, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	b := t.findLocked(id)
	if b == nil {
		return nil, false
	}
	return cloneBookmark(b), true
}

// Bookmarks returns copies of every bookmark in creation order.
func (t *Tree) Bookmarks() []Bookmark {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Bookmark, len(t.bookmarks))
	for i, b := range t.bookmarks {
		out[i] = *b
	}
	return out
}

// AutoSaves returns copies of the autosaves, newest first.
func (t *Tree) AutoSaves() []AutoSave {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]AutoSave, len(t.autoSaves))
	for i, a := range t.autoSaves {
		out[i] = *a
	}
	return out
}

// Replace swaps the whole contents, as when a session document is imported.
func (t *Tree) Replace(bookmarks []Bookmark, autoSaves []AutoSave) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.bookmarks = make([]*Bookmark, len(bookmarks))
	for i := range bookmarks {
		b := bookmarks[i]
		t.bookmarks[i] = &b
	}
	t.autoSaves = make([]*AutoSave, 0, len(autoSaves))
	for i := range autoSaves {
		a := autoSaves[i]
		t.autoSaves = append(t.autoSaves, &a)
	}
	sort.SliceStable(t.autoSaves, func(i, j int) bool {
		return t.autoSaves[i].Timestamp > t.autoSaves[j].Timestamp
	})
	if len(t.autoSaves) > t.autoSaveCap {
		t.autoSaves = t.autoSaves[:t.autoSaveCap]
	}
}

// Clear removes every bookmark and autosave.
func (t *Tree) Clear() {
	t.Replace(nil, nil)
}

func cloneBookmark(b *Bookmark) *Bookmark {
	out := *b
	return &out
}
