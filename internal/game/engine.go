package game

import (
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/heavenideas/dojo-server-go/internal/catalog"
)

// OpeningHandSize is the number of cards each player draws at setup.
const OpeningHandSize = 7

// CardLookup resolves catalog entries by card id. The engine never mutates it.
type CardLookup interface {
	Lookup(cardID string) (catalog.Card, bool)
}

// Checkpointer records the board before a mutation so it can be undone.
type Checkpointer interface {
	Checkpoint(m *MatchState)
}

// Engine is the only component that mutates a MatchState. Every operation
// validates its arguments, checkpoints, mutates, appends a log line, and
// reports whether anything was applied. Unknown ids are silent no-ops.
type Engine struct {
	cards      CardLookup
	logger     *zap.Logger
	checkpoint Checkpointer
	rng        *rand.Rand
	newID      func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithCheckpointer installs the history sink invoked before every mutation.
func WithCheckpointer(c Checkpointer) Option {
	return func(e *Engine) {
		e.checkpoint = c
	}
}

// WithSeed makes shuffles deterministic.
func WithSeed(seed uint64) Option {
	return func(e *Engine) {
		e.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// WithIDGenerator replaces the instance id generator.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) {
		if fn != nil {
			e.newID = fn
		}
	}
}

// NewEngine creates a move engine over a card catalog.
func NewEngine(cards CardLookup, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	seed := uint64(time.Now().UnixNano())
	e := &Engine{
		cards:  cards,
		logger: logger,
		rng:    rand.New(rand.NewPCG(seed, seed>>1)),
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetCheckpointer swaps the history sink, used when a session reloads its history.
func (e *Engine) SetCheckpointer(c Checkpointer) {
	e.checkpoint = c
}

// card resolves catalog data. Unknown cards behave as zero-cost, typeless,
// lore-less cards named after their id.
func (e *Engine) card(cardID string) catalog.Card {
	if e.cards != nil {
		if c, ok := e.cards.Lookup(cardID); ok {
			return c
		}
	}
	return catalog.Card{ID: cardID, Name: cardID}
}

func (e *Engine) save(m *MatchState) {
	if e.checkpoint != nil {
		e.checkpoint.Checkpoint(m)
	}
}

// StartGame builds a fresh match from two decks of card ids: decks are
// shuffled and each player draws an opening hand.
func (e *Engine) StartGame(deck1, deck2 []string) *MatchState {
	m := NewMatchState()
	for pi, deck := range [][]string{deck1, deck2} {
		p := &m.Players[pi]
		for _, cardID := range deck {
			p.Deck = append(p.Deck, CardInstance{InstanceID: e.newID(), CardID: cardID})
		}
		e.shuffle(p.Deck)
		for i := 0; i < OpeningHandSize; i++ {
			e.internalDraw(p)
		}
	}
	m.logAction("--- Turn 1 Begins ---", true)

	e.logger.Info("started match",
		zap.Int("deck1_size", len(deck1)),
		zap.Int("deck2_size", len(deck2)),
	)
	return m
}

func (e *Engine) shuffle(cards []CardInstance) {
	e.rng.Shuffle(len(cards), func(i, j int) {
		cards[i], cards[j] = cards[j], cards[i]
	})
}

// internalDraw moves the top deck card to hand. An empty deck leaves the
// hand untouched.
func (e *Engine) internalDraw(p *PlayerState) bool {
	if len(p.Deck) == 0 {
		return false
	}
	card := p.removeAt(ZoneDeck, 0)
	p.Hand = append(p.Hand, card)
	return true
}

// spendInk deducts cost from the ready ink only when enough is available and
// exerts that many ready inkwell cards. Underfunded plays still proceed.
func spendInk(p *PlayerState, cost int) {
	if cost <= 0 || p.InkReady < cost {
		return
	}
	p.InkReady -= cost
	remaining := cost
	for i := range p.Inkwell {
		if remaining == 0 {
			break
		}
		if !p.Inkwell[i].Exerted {
			p.Inkwell[i].Exerted = true
			remaining--
		}
	}
}

// unpack splits a card and its stack into independent top-level instances,
// the parent first.
func unpack(card CardInstance) []CardInstance {
	out := make([]CardInstance, 0, 1+len(card.StackedCards))
	stacked := card.StackedCards
	card.StackedCards = nil
	out = append(out, card)
	for _, sc := range stacked {
		out = append(out, CardInstance{InstanceID: sc.InstanceID, CardID: sc.CardID})
	}
	return out
}

// detachFrom clears locationId on every card in either field that sits at
// the given location.
func detachFrom(m *MatchState, locationID string) int {
	detached := 0
	for pi := range m.Players {
		field := m.Players[pi].Field
		for i := range field {
			if field[i].LocationID == locationID {
				field[i].LocationID = ""
				detached++
			}
		}
	}
	return detached
}
