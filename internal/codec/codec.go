// Package codec converts match boards to and from the compact JSON form used
// for room transfer, history entries, bookmarks and session documents.
package codec

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/heavenideas/dojo-server-go/internal/game"
)

// Version is written into session documents.
const Version = 1

// ErrMalformed reports a payload that cannot be turned into a board.
var ErrMalformed = errors.New("malformed state")

// Card is the compact form of a card instance. Default-valued fields are omitted.
type Card struct {
	InstanceID   string `json:"instanceId"`
	CardID       string `json:"cardId"`
	Exerted      bool   `json:"exerted,omitempty"`
	Damage       int    `json:"damage,omitempty"`
	FaceUp       bool   `json:"faceUp,omitempty"`
	LocationID   string `json:"locationId,omitempty"`
	Drying       bool   `json:"drying,omitempty"`
	StackedCards []Card `json:"stackedCards,omitempty"`
}

// Player is the compact form of one side of the board.
type Player struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	Lore          int    `json:"lore"`
	InkTotal      int    `json:"inkTotal"`
	InkReady      int    `json:"inkReady"`
	HasMulliganed bool   `json:"hasMulliganed,omitempty"`
	Deck          []Card `json:"deck"`
	Hand          []Card `json:"hand"`
	Field         []Card `json:"field"`
	Inkwell       []Card `json:"inkwell"`
	Discard       []Card `json:"discard"`
}

// State is the compact form of a whole board. Exactly one of Log and
// LogLength is set.
type State struct {
	Turn                 int               `json:"turn"`
	ActivePlayer         int               `json:"activePlayer"`
	InactivePlayer       int               `json:"inactivePlayer"`
	OpponentHandRevealed bool              `json:"opponentHandRevealed,omitempty"`
	ActiveTimelineColor  string            `json:"activeTimelineColor,omitempty"`
	ActiveBookmarkID     string            `json:"activeBookmarkId,omitempty"`
	TurnComments         map[string]string `json:"turnComments,omitempty"`
	Players              []Player          `json:"players"`
	Log                  *[]game.LogEntry  `json:"log,omitempty"`
	LogLength            *int              `json:"logLength,omitempty"`
}

// Compress builds the compact form. Without the log only its length is kept.
func Compress(m *game.MatchState, includeLog bool) *State {
	s := &State{
		Turn:                 m.Turn,
		ActivePlayer:         m.ActivePlayer,
		InactivePlayer:       m.InactivePlayer,
		OpponentHandRevealed: m.OpponentHandRevealed,
		ActiveTimelineColor:  m.ActiveTimelineColor,
		ActiveBookmarkID:     m.ActiveBookmarkID,
		Players:              make([]Player, 0, len(m.Players)),
	}
	if len(m.TurnComments) > 0 {
		s.TurnComments = make(map[string]string, len(m.TurnComments))
		for k, v := range m.TurnComments {
			s.TurnComments[k] = v
		}
	}
	for i := range m.Players {
		p := &m.Players[i]
		s.Players = append(s.Players, Player{
			ID:            p.ID,
			Name:          p.Name,
			Lore:          p.Lore,
			InkTotal:      p.InkTotal,
			InkReady:      p.InkReady,
			HasMulliganed: p.HasMulliganed,
			Deck:          compressCards(p.Deck),
			Hand:          compressCards(p.Hand),
			Field:         compressCards(p.Field),
			Inkwell:       compressCards(p.Inkwell),
			Discard:       compressCards(p.Discard),
		})
	}
	if includeLog {
		log := append(make([]game.LogEntry, 0, len(m.Log)), m.Log...)
		s.Log = &log
	} else {
		n := len(m.Log)
		s.LogLength = &n
	}
	return s
}

func compressCards(cards []game.CardInstance) []Card {
	out := make([]Card, len(cards))
	for i, c := range cards {
		out[i] = Card{
			InstanceID: c.InstanceID,
			CardID:     c.CardID,
			Exerted:    c.Exerted,
			Damage:     c.Damage,
			FaceUp:     c.FaceUp,
			LocationID: c.LocationID,
			Drying:     c.Drying,
		}
		if len(c.StackedCards) > 0 {
			out[i].StackedCards = compressCards(c.StackedCards)
		}
	}
	return out
}

// Decompress rebuilds a full board with explicit defaults. When the compact
// form carries no log body, the board's log is fallbackLog truncated to the
// recorded length.
func Decompress(s *State, fallbackLog []game.LogEntry) (*game.MatchState, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformed)
	}
	if len(s.Players) != 2 {
		return nil, fmt.Errorf("%w: expected 2 players, got %d", ErrMalformed, len(s.Players))
	}
	if s.ActivePlayer != 0 && s.ActivePlayer != 1 {
		return nil, fmt.Errorf("%w: active player %d", ErrMalformed, s.ActivePlayer)
	}
	if s.InactivePlayer != 1-s.ActivePlayer {
		return nil, fmt.Errorf("%w: inactive player %d does not complement active player %d",
			ErrMalformed, s.InactivePlayer, s.ActivePlayer)
	}

	m := &game.MatchState{
		Turn:                 max(1, s.Turn),
		ActivePlayer:         s.ActivePlayer,
		InactivePlayer:       s.InactivePlayer,
		OpponentHandRevealed: s.OpponentHandRevealed,
		ActiveTimelineColor:  s.ActiveTimelineColor,
		ActiveBookmarkID:     s.ActiveBookmarkID,
		TurnComments:         make(map[string]string, len(s.TurnComments)),
	}
	for k, v := range s.TurnComments {
		m.TurnComments[k] = v
	}

	for i, p := range s.Players {
		inkTotal := max(0, p.InkTotal)
		m.Players[i] = game.PlayerState{
			ID:            p.ID,
			Name:          p.Name,
			Lore:          max(0, p.Lore),
			InkTotal:      inkTotal,
			InkReady:      min(max(0, p.InkReady), inkTotal),
			HasMulliganed: p.HasMulliganed,
			Deck:          decompressCards(p.Deck),
			Hand:          decompressCards(p.Hand),
			Field:         decompressCards(p.Field),
			Inkwell:       decompressCards(p.Inkwell),
			Discard:       decompressCards(p.Discard),
		}
	}

	switch {
	case s.Log != nil:
		m.Log = append(make([]game.LogEntry, 0, len(*s.Log)), (*s.Log)...)
	case s.LogLength != nil:
		n := min(max(0, *s.LogLength), len(fallbackLog))
		m.Log = append(make([]game.LogEntry, 0, n), fallbackLog[:n]...)
	default:
		m.Log = append(make([]game.LogEntry, 0, len(fallbackLog)), fallbackLog...)
	}
	return m, nil
}

func decompressCards(cards []Card) []game.CardInstance {
	out := make([]game.CardInstance, len(cards))
	for i, c := range cards {
		out[i] = game.CardInstance{
			InstanceID: c.InstanceID,
			CardID:     c.CardID,
			Exerted:    c.Exerted,
			Damage:     max(0, c.Damage),
			FaceUp:     c.FaceUp,
			LocationID: c.LocationID,
			Drying:     c.Drying,
		}
		if len(c.StackedCards) > 0 {
			out[i].StackedCards = decompressCards(c.StackedCards)
		}
	}
	return out
}

// Encode compresses and marshals a board.
func Encode(m *game.MatchState, includeLog bool) ([]byte, error) {
	data, err := json.Marshal(Compress(m, includeLog))
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	return data, nil
}

// Decode unmarshals and decompresses a board.
func Decode(data []byte, fallbackLog []game.LogEntry) (*game.MatchState, error) {
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return Decompress(&s, fallbackLog)
}

// Checksum returns a SHA-256 digest of the board without its log. Two
// clients holding the same board produce the same checksum.
func Checksum(m *game.MatchState) (string, error) {
	s := Compress(m, false)
	s.LogLength = nil
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encode state: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
