// Package session owns one client's match: the board, its undo history, its
// timeline and the optional room channel and local persistence around them.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/heavenideas/dojo-server-go/internal/game"
	"github.com/heavenideas/dojo-server-go/internal/history"
	"github.com/heavenideas/dojo-server-go/internal/persistence"
	"github.com/heavenideas/dojo-server-go/internal/roomsync"
	"github.com/heavenideas/dojo-server-go/internal/timeline"
)

// Publisher sends a completed local state to the room.
type Publisher interface {
	Publish(m *game.MatchState)
}

// DocumentSaver stores encoded session documents.
type DocumentSaver interface {
	Save(ctx context.Context, key string, body []byte) error
}

// Option configures a MatchSession.
type Option func(*MatchSession)

// WithHistoryCapacity overrides history.DefaultCapacity.
func WithHistoryCapacity(n int) Option {
	return func(s *MatchSession) {
		s.historyCap = n
	}
}

// WithAutoSaveOnTurn makes EndTurn record a bookmark for the new turn.
func WithAutoSaveOnTurn(enabled bool) Option {
	return func(s *MatchSession) {
		s.autoSaveOnTurn = enabled
	}
}

// WithPublisher sets where completed mutations are published.
func WithPublisher(p Publisher) Option {
	return func(s *MatchSession) {
		s.publisher = p
	}
}

// WithPersistence saves the session document under key, coalescing saves
// within delay.
func WithPersistence(saver DocumentSaver, key string, delay time.Duration) Option {
	return func(s *MatchSession) {
		s.saver = saver
		s.saveKey = key
		s.saveDelay = delay
	}
}

// WithTimelineOptions passes options to the timeline tree.
func WithTimelineOptions(opts ...timeline.Option) Option {
	return func(s *MatchSession) {
		s.treeOpts = append(s.treeOpts, opts...)
	}
}

// WithEngineOptions passes options to the move engine.
func WithEngineOptions(opts ...game.Option) Option {
	return func(s *MatchSession) {
		s.engineOpts = append(s.engineOpts, opts...)
	}
}

// MatchSession is the single owner of a client's MatchState. Every change
// to the board goes through it, and observers learn about changes from its
// event bus.
type MatchSession struct {
	mu      sync.Mutex
	state   *game.MatchState
	engine  *game.Engine
	history *history.Stack
	tree    *timeline.Tree
	events  *game.EventBus
	logger  *zap.Logger

	publisher      Publisher
	autoSaveOnTurn bool
	deck1, deck2   string

	saver     DocumentSaver
	saveKey   string
	saveDelay time.Duration
	debouncer *persistence.Debouncer

	historyCap int
	treeOpts   []timeline.Option
	engineOpts []game.Option
}

// New creates a session holding an empty board.
func New(cards game.CardLookup, logger *zap.Logger, opts ...Option) *MatchSession {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &MatchSession{
		state:      game.NewMatchState(),
		events:     game.NewEventBus(),
		logger:     logger,
		historyCap: history.DefaultCapacity,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.history = history.New(s.historyCap, logger.Named("history"))
	s.tree = timeline.New(logger.Named("timeline"), s.treeOpts...)
	engineOpts := append([]game.Option{game.WithCheckpointer(s.history)}, s.engineOpts...)
	s.engine = game.NewEngine(cards, logger.Named("engine"), engineOpts...)

	if s.saver != nil && s.saveKey != "" {
		s.debouncer = persistence.NewDebouncer(s.saveDelay, s.persistNow)
	}
	return s
}

// Events returns the bus observers subscribe to.
func (s *MatchSession) Events() *game.EventBus {
	return s.events
}

// Timeline returns the session's timeline tree.
func (s *MatchSession) Timeline() *timeline.Tree {
	return s.tree
}

// State returns a copy of the current board.
func (s *MatchSession) State() *game.MatchState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// HistoryLen returns how many undo steps are available.
func (s *MatchSession) HistoryLen() int {
	return s.history.Len()
}

// Decks returns the deck lists the current match was started with.
func (s *MatchSession) Decks() (string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deck1, s.deck2
}

// StartGame replaces the board with a freshly dealt match and clears the
// undo history.
func (s *MatchSession) StartGame(deck1, deck2 []string) {
	s.mu.Lock()
	s.state = s.engine.StartGame(deck1, deck2)
	s.deck1 = strings.Join(deck1, "\n")
	s.deck2 = strings.Join(deck2, "\n")
	s.history.Clear()
	ev := s.commitLocked(game.EventStateChanged, "", "game started", true)
	s.mu.Unlock()

	s.logger.Info("started game",
		zap.Int("deck1", len(deck1)),
		zap.Int("deck2", len(deck2)),
	)
	s.events.Publish(ev)
}

// Do runs one engine operation against the board. When the operation
// applies, the new state is published, persisted and announced.
func (s *MatchSession) Do(description string, op func(e *game.Engine, m *game.MatchState) bool) bool {
	s.mu.Lock()
	if !op(s.engine, s.state) {
		s.mu.Unlock()
		return false
	}
	ev := s.commitLocked(game.EventStateChanged, "", description, true)
	s.mu.Unlock()

	s.events.Publish(ev)
	return true
}

// EndTurn passes the turn. With autosave-on-turn enabled the new turn is
// bookmarked before the state is published.
func (s *MatchSession) EndTurn() bool {
	s.mu.Lock()
	if !s.engine.EndTurn(s.state) {
		s.mu.Unlock()
		return false
	}
	var saved *timeline.Bookmark
	if s.autoSaveOnTurn {
		b, err := s.tree.AutoSaveAtTurn(s.state)
		if err != nil {
			s.logger.Warn("failed to bookmark new turn", zap.Int("turn", s.state.Turn), zap.Error(err))
		}
		saved = b
	}
	ev := s.commitLocked(game.EventStateChanged, "", "end turn", true)
	s.mu.Unlock()

	s.events.Publish(ev)
	if saved != nil {
		s.events.Publish(game.NewEvent(game.EventTimelineChanged, ev.Turn, saved.ID, saved.Name))
	}
	return true
}

// ReorderDeck saves a new deck order and bookmarks it as a deck edit.
func (s *MatchSession) ReorderDeck(side game.Side, order []string) bool {
	s.mu.Lock()
	if !s.engine.ReorderDeck(s.state, side, order) {
		s.mu.Unlock()
		return false
	}
	player := s.state.Players[s.state.PlayerFor(side)].Name
	saved, err := s.tree.SaveDeckEdit(s.state, player)
	if err != nil {
		s.logger.Warn("failed to bookmark deck edit", zap.Error(err))
	}
	ev := s.commitLocked(game.EventStateChanged, "", "deck reordered", true)
	s.mu.Unlock()

	s.events.Publish(ev)
	if saved != nil {
		s.events.Publish(game.NewEvent(game.EventTimelineChanged, ev.Turn, saved.ID, saved.Name))
	}
	return true
}

// Undo restores the board saved before the latest operation. The restored
// board is not published; the next mutation carries it to the room.
func (s *MatchSession) Undo() bool {
	s.mu.Lock()
	restored, ok := s.history.Undo(s.state)
	if !ok {
		s.mu.Unlock()
		return false
	}
	s.state = restored
	ev := s.commitLocked(game.EventUndone, "", "undo", false)
	s.mu.Unlock()

	s.events.Publish(ev)
	return true
}

// SaveTimeline bookmarks the current board as a child of the active
// bookmark. A blank name falls back to timeline.DefaultName.
func (s *MatchSession) SaveTimeline(name, comment string) (*timeline.Bookmark, error) {
	s.mu.Lock()
	if strings.TrimSpace(name) == "" {
		name = timeline.DefaultName(s.state)
	}
	b, err := s.tree.Save(s.state, strings.TrimSpace(name), comment)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	ev := s.commitLocked(game.EventTimelineChanged, b.ID, b.Name, false)
	s.mu.Unlock()

	s.events.Publish(ev)
	return b, nil
}

// RestoreTimeline jumps to a bookmark or autosave. The undo history is
// cleared because it belongs to the branch being left.
func (s *MatchSession) RestoreTimeline(id string, isAuto bool) error {
	s.mu.Lock()
	restored, err := s.tree.Restore(id, isAuto, s.state)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.state = restored
	s.history.Clear()
	ev := s.commitLocked(game.EventTimelineRestored, id, "timeline restored", false)
	s.mu.Unlock()

	s.events.Publish(ev)
	return nil
}

// EditTimeline renames a bookmark and replaces its comment.
func (s *MatchSession) EditTimeline(id, name, comment string) error {
	if err := s.tree.Edit(id, name, comment); err != nil {
		return err
	}
	s.timelineChanged(id, "timeline edited")
	return nil
}

// DeleteTimeline removes a bookmark, re-parenting its children, or an
// autosave.
func (s *MatchSession) DeleteTimeline(id string, isAuto bool) error {
	if err := s.tree.Delete(id, isAuto); err != nil {
		return err
	}
	s.timelineChanged(id, "timeline deleted")
	return nil
}

func (s *MatchSession) timelineChanged(id, description string) {
	s.mu.Lock()
	ev := s.commitLocked(game.EventTimelineChanged, id, description, false)
	s.mu.Unlock()
	s.events.Publish(ev)
}

// ApplyRemote replaces the board with a state received from the room.
func (s *MatchSession) ApplyRemote(m *game.MatchState) {
	s.mu.Lock()
	s.state = m
	ev := s.commitLocked(game.EventRemoteApplied, "", "remote state applied", false)
	s.mu.Unlock()

	s.events.Publish(ev)
}

// CurrentLog returns a copy of the board's log.
func (s *MatchSession) CurrentLog() []game.LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]game.LogEntry(nil), s.state.Log...)
}

var _ roomsync.Applier = (*MatchSession)(nil)

// JoinRoom binds the session to a room through ch. When the room already
// holds a match it replaces the local board; otherwise the local board is
// published as the room's first state.
func (s *MatchSession) JoinRoom(ctx context.Context, ch *roomsync.Channel, roomID string) (bool, error) {
	adopted, err := ch.Join(ctx, roomID, s)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	s.publisher = ch
	if !adopted {
		ch.Publish(s.state)
	}
	s.mu.Unlock()
	return adopted, nil
}

// commitLocked finishes a change: it publishes when asked, schedules a save
// and returns the event to announce once the lock is released.
func (s *MatchSession) commitLocked(t game.EventType, targetID, description string, publish bool) game.Event {
	if publish && s.publisher != nil {
		s.publisher.Publish(s.state)
	}
	if s.debouncer != nil {
		s.debouncer.Trigger()
	}
	return game.NewEvent(t, s.state.Turn, targetID, description)
}

func (s *MatchSession) persistNow() {
	body, err := s.Export()
	if err != nil {
		s.logger.Error("failed to export session", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.saver.Save(ctx, s.saveKey, body); err != nil {
		s.logger.Warn("failed to save session", zap.String("key", s.saveKey), zap.Error(err))
		return
	}
	s.logger.Debug("saved session", zap.String("key", s.saveKey), zap.Int("bytes", len(body)))
}

// Flush writes any pending save immediately.
func (s *MatchSession) Flush() {
	if s.debouncer != nil {
		s.debouncer.Flush()
	}
}

// Close flushes pending saves and stops further ones.
func (s *MatchSession) Close() {
	if s.debouncer != nil {
		s.debouncer.Flush()
		s.debouncer.Stop()
	}
}
