package session

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/heavenideas/dojo-server-go/internal/codec"
	"github.com/heavenideas/dojo-server-go/internal/game"
	"github.com/heavenideas/dojo-server-go/internal/timeline"
)

// DocumentVersion is written into exported documents.
const DocumentVersion = 1

// ErrInvalidDocument is returned when an imported document lacks the
// current state or the bookmark list.
var ErrInvalidDocument = errors.New("invalid session document")

// Document is the exported and persisted form of a session.
type Document struct {
	Version      int                 `json:"version"`
	CurrentState json.RawMessage     `json:"currentState"`
	Bookmarks    []timeline.Bookmark `json:"bookmarks"`
	AutoSaves    []timeline.AutoSave `json:"autoSaves"`
	History      []string            `json:"history"`
	Deck1        string              `json:"deck1"`
	Deck2        string              `json:"deck2"`
}

// ParseDocument decodes data and checks the required keys.
func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	state := bytes.TrimSpace(doc.CurrentState)
	if len(state) == 0 || bytes.Equal(state, []byte("null")) {
		return nil, fmt.Errorf("%w: missing currentState", ErrInvalidDocument)
	}
	if doc.Bookmarks == nil {
		return nil, fmt.Errorf("%w: missing bookmarks", ErrInvalidDocument)
	}
	return &doc, nil
}

// Export encodes the whole session: board, timeline, undo history and decks.
func (s *MatchSession) Export() ([]byte, error) {
	s.mu.Lock()
	state, err := codec.Encode(s.state, true)
	deck1, deck2 := s.deck1, s.deck2
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("encode current state: %w", err)
	}

	doc := Document{
		Version:      DocumentVersion,
		CurrentState: state,
		Bookmarks:    s.tree.Bookmarks(),
		AutoSaves:    s.tree.AutoSaves(),
		History:      s.history.Entries(),
		Deck1:        deck1,
		Deck2:        deck2,
	}
	if doc.Bookmarks == nil {
		doc.Bookmarks = []timeline.Bookmark{}
	}
	if doc.AutoSaves == nil {
		doc.AutoSaves = []timeline.AutoSave{}
	}
	if doc.History == nil {
		doc.History = []string{}
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode session document: %w", err)
	}
	return data, nil
}

// Import replaces the session with a document. On any error the session is
// left as it was.
func (s *MatchSession) Import(data []byte) error {
	doc, err := ParseDocument(data)
	if err != nil {
		return err
	}
	state, err := codec.Decode(doc.CurrentState, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	s.mu.Lock()
	s.state = state
	s.deck1, s.deck2 = doc.Deck1, doc.Deck2
	s.tree.Replace(doc.Bookmarks, doc.AutoSaves)
	s.history.Load(doc.History)
	ev := s.commitLocked(game.EventImported, "", "session imported", false)
	s.mu.Unlock()

	s.logger.Info("imported session",
		zap.Int("version", doc.Version),
		zap.Int("bookmarks", len(doc.Bookmarks)),
		zap.Int("history", len(doc.History)),
		zap.Int("turn", state.Turn),
	)
	s.events.Publish(ev)
	return nil
}

// SplitDeck turns a stored deck list back into card ids.
func SplitDeck(deck string) []string {
	var ids []string
	for _, line := range strings.Split(deck, "\n") {
		if id := strings.TrimSpace(line); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
