package game

import (
	"fmt"
)

// Zone names one of the five ordered card collections a player owns.
type Zone string

const (
	ZoneDeck    Zone = "deck"
	ZoneHand    Zone = "hand"
	ZoneField   Zone = "field"
	ZoneInkwell Zone = "inkwell"
	ZoneDiscard Zone = "discard"
)

// searchOrder is the order FindCard walks a player's zones.
var searchOrder = []Zone{ZoneHand, ZoneField, ZoneInkwell, ZoneDiscard, ZoneDeck}

// Valid reports whether z names a known zone.
func (z Zone) Valid() bool {
	switch z {
	case ZoneDeck, ZoneHand, ZoneField, ZoneInkwell, ZoneDiscard:
		return true
	default:
		return false
	}
}

// ParseZone converts a user supplied zone name.
func ParseZone(s string) (Zone, error) {
	z := Zone(s)
	if !z.Valid() {
		return "", fmt.Errorf("unknown zone %q", s)
	}
	return z, nil
}

// Side selects a player relative to the turn: the active player sits at the
// bottom of the board, the inactive player at the top.
type Side int

const (
	SideActive Side = iota
	SideInactive
)

// DeckPlacement selects where a card lands when it is moved into a deck.
type DeckPlacement string

const (
	DeckTop    DeckPlacement = "top"
	DeckBottom DeckPlacement = "bottom"
)

// CardInstance is one physical card in a match.
type CardInstance struct {
	InstanceID   string
	CardID       string
	Exerted      bool
	Damage       int
	FaceUp       bool
	LocationID   string // instance id of the location this card sits at, "" for none
	Drying       bool
	StackedCards []CardInstance // only populated while the card is in the field
}

// Clone returns a deep copy of the card, including its stack.
func (c CardInstance) Clone() CardInstance {
	out := c
	if len(c.StackedCards) > 0 {
		out.StackedCards = make([]CardInstance, len(c.StackedCards))
		for i, sc := range c.StackedCards {
			out.StackedCards[i] = sc.Clone()
		}
	} else {
		out.StackedCards = nil
	}
	return out
}

// PlayerState is one side of the board.
type PlayerState struct {
	ID            int
	Name          string
	Lore          int
	InkTotal      int
	InkReady      int
	HasMulliganed bool
	Deck          []CardInstance
	Hand          []CardInstance
	Field         []CardInstance
	Inkwell       []CardInstance
	Discard       []CardInstance
}

// Cards returns a pointer to the slice backing zone z.
func (p *PlayerState) Cards(z Zone) *[]CardInstance {
	switch z {
	case ZoneDeck:
		return &p.Deck
	case ZoneHand:
		return &p.Hand
	case ZoneField:
		return &p.Field
	case ZoneInkwell:
		return &p.Inkwell
	case ZoneDiscard:
		return &p.Discard
	default:
		return nil
	}
}

// removeAt takes the card at idx out of zone z. Cards leaving the inkwell
// shrink the ink pool so 0 <= InkReady <= InkTotal holds afterwards.
func (p *PlayerState) removeAt(z Zone, idx int) CardInstance {
	cards := p.Cards(z)
	card := (*cards)[idx]
	*cards = append((*cards)[:idx], (*cards)[idx+1:]...)

	if z == ZoneInkwell {
		p.InkTotal--
		if p.InkTotal < 0 {
			p.InkTotal = 0
		}
		if p.InkReady > p.InkTotal {
			p.InkReady = p.InkTotal
		}
	}
	return card
}

func (p *PlayerState) clone() PlayerState {
	out := *p
	out.Deck = cloneCards(p.Deck)
	out.Hand = cloneCards(p.Hand)
	out.Field = cloneCards(p.Field)
	out.Inkwell = cloneCards(p.Inkwell)
	out.Discard = cloneCards(p.Discard)
	return out
}

func cloneCards(cards []CardInstance) []CardInstance {
	out := make([]CardInstance, len(cards))
	for i, c := range cards {
		out[i] = c.Clone()
	}
	return out
}

// LogEntry is one line of the match's textual event log.
type LogEntry struct {
	Text     string `json:"text"`
	IsSystem bool   `json:"isSystem"`
	Player   int    `json:"player"`
}

// MatchState is the full, authoritative board of one match.
type MatchState struct {
	Turn                 int
	ActivePlayer         int
	InactivePlayer       int
	OpponentHandRevealed bool
	ActiveTimelineColor  string
	ActiveBookmarkID     string
	TurnComments         map[string]string
	Players              [2]PlayerState
	Log                  []LogEntry
}

// NewMatchState returns an empty turn-1 board for two players.
func NewMatchState() *MatchState {
	m := &MatchState{
		Turn:           1,
		ActivePlayer:   0,
		InactivePlayer: 1,
		TurnComments:   make(map[string]string),
		Log:            make([]LogEntry, 0),
	}
	for i := range m.Players {
		m.Players[i] = PlayerState{
			ID:      i,
			Name:    fmt.Sprintf("Player %d", i+1),
			Deck:    make([]CardInstance, 0),
			Hand:    make([]CardInstance, 0),
			Field:   make([]CardInstance, 0),
			Inkwell: make([]CardInstance, 0),
			Discard: make([]CardInstance, 0),
		}
	}
	return m
}

// Clone returns a deep copy of the match.
func (m *MatchState) Clone() *MatchState {
	out := *m
	out.TurnComments = make(map[string]string, len(m.TurnComments))
	for k, v := range m.TurnComments {
		out.TurnComments[k] = v
	}
	for i := range m.Players {
		out.Players[i] = m.Players[i].clone()
	}
	out.Log = append(make([]LogEntry, 0, len(m.Log)), m.Log...)
	return &out
}

// Location addresses a card inside a match.
type Location struct {
	Player int
	Zone   Zone
	Index  int
}

// FindCard locates an instance in any zone of either player.
func (m *MatchState) FindCard(instanceID string) (Location, bool) {
	if instanceID == "" {
		return Location{}, false
	}
	for pi := range m.Players {
		p := &m.Players[pi]
		for _, z := range searchOrder {
			for idx, c := range *p.Cards(z) {
				if c.InstanceID == instanceID {
					return Location{Player: pi, Zone: z, Index: idx}, true
				}
			}
		}
	}
	return Location{}, false
}

// CardAt returns a pointer to the card at loc. The pointer is invalidated by
// any later change to the zone's length.
func (m *MatchState) CardAt(loc Location) *CardInstance {
	cards := m.Players[loc.Player].Cards(loc.Zone)
	return &(*cards)[loc.Index]
}

// PlayerFor resolves a board side to a player index.
func (m *MatchState) PlayerFor(side Side) int {
	if side == SideActive {
		return m.ActivePlayer
	}
	return m.InactivePlayer
}

// TurnCommentKey builds the turnComments key for a turn and player.
func TurnCommentKey(turn, playerID int) string {
	return fmt.Sprintf("%d-%d", turn, playerID)
}

func (m *MatchState) logAction(text string, system bool) {
	m.Log = append(m.Log, LogEntry{Text: text, IsSystem: system, Player: m.ActivePlayer})
}

func validPlayer(idx int) bool {
	return idx == 0 || idx == 1
}
