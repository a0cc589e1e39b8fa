package game

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/heavenideas/dojo-server-go/internal/catalog"
)

// cloneCheckpointer keeps deep copies of every checkpointed board.
type cloneCheckpointer struct {
	states []*MatchState
}

func (c *cloneCheckpointer) Checkpoint(m *MatchState) {
	c.states = append(c.states, m.Clone())
}

func testCatalog() *catalog.Catalog {
	return catalog.New([]catalog.Card{
		{ID: "hero", Name: "Hero", Cost: 3, Type: catalog.TypeCharacter, Strength: 2, Willpower: 3, Lore: 2},
		{ID: "sidekick", Name: "Sidekick", Cost: 1, Type: catalog.TypeCharacter, Strength: 1, Willpower: 1, Lore: 1},
		{ID: "brute", Name: "Brute", Cost: 5, Type: catalog.TypeCharacter, Strength: 4, Willpower: 5, Lore: 0},
		{ID: "castle", Name: "Castle", Cost: 2, Type: catalog.TypeLocation, Willpower: 7, Lore: 1},
		{ID: "song", Name: "Song", Cost: 2, Type: catalog.TypeAction},
	})
}

type harness struct {
	t      *testing.T
	engine *Engine
	saves  *cloneCheckpointer
	m      *MatchState
	nextID int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	saves := &cloneCheckpointer{}
	h := &harness{t: t, saves: saves, m: NewMatchState()}
	h.engine = NewEngine(testCatalog(), zaptest.NewLogger(t), WithCheckpointer(saves), WithSeed(7))
	return h
}

// put places a new card instance in a zone and returns its instance id.
func (h *harness) put(player int, zone Zone, cardID string) string {
	h.nextID++
	id := fmt.Sprintf("%s-%d", cardID, h.nextID)
	cards := h.m.Players[player].Cards(zone)
	*cards = append(*cards, CardInstance{InstanceID: id, CardID: cardID})
	if zone == ZoneInkwell {
		h.m.Players[player].InkTotal++
		h.m.Players[player].InkReady++
	}
	return id
}

func (h *harness) card(id string) *CardInstance {
	loc, ok := h.m.FindCard(id)
	require.True(h.t, ok, "card %s not found", id)
	return h.m.CardAt(loc)
}

func (h *harness) zoneOf(id string) (int, Zone) {
	loc, ok := h.m.FindCard(id)
	require.True(h.t, ok, "card %s not found", id)
	return loc.Player, loc.Zone
}

func TestStartGame(t *testing.T) {
	n := 0
	engine := NewEngine(testCatalog(), zaptest.NewLogger(t), WithSeed(1), WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("i%d", n)
	}))

	deck := make([]string, 20)
	for i := range deck {
		deck[i] = "hero"
	}
	m := engine.StartGame(deck, deck[:5])

	assert.Equal(t, 1, m.Turn)
	assert.Equal(t, 0, m.ActivePlayer)
	assert.Equal(t, 1, m.InactivePlayer)
	assert.Len(t, m.Players[0].Hand, OpeningHandSize)
	assert.Len(t, m.Players[0].Deck, 13)
	assert.Len(t, m.Players[1].Hand, 5)
	assert.Empty(t, m.Players[1].Deck)
	require.Len(t, m.Log, 1)
	assert.Equal(t, LogEntry{Text: "--- Turn 1 Begins ---", IsSystem: true, Player: 0}, m.Log[0])

	seen := map[string]bool{}
	for _, p := range m.Players {
		for _, c := range append(append([]CardInstance{}, p.Deck...), p.Hand...) {
			assert.False(t, seen[c.InstanceID], "duplicate instance %s", c.InstanceID)
			seen[c.InstanceID] = true
		}
	}
	assert.Len(t, seen, 25)
}

func TestDrawEmptyDeckIsNoop(t *testing.T) {
	h := newHarness(t)
	h.put(0, ZoneHand, "hero")

	assert.False(t, h.engine.Draw(h.m, SideActive))
	assert.Len(t, h.m.Players[0].Hand, 1)
	assert.Empty(t, h.saves.states)
	assert.False(t, h.engine.internalDraw(&h.m.Players[0]))
	assert.Len(t, h.m.Players[0].Hand, 1)
}

func TestDrawLogsPerspective(t *testing.T) {
	h := newHarness(t)
	h.put(0, ZoneDeck, "hero")
	h.put(1, ZoneDeck, "hero")

	require.True(t, h.engine.Draw(h.m, SideActive))
	require.True(t, h.engine.Draw(h.m, SideInactive))
	assert.Equal(t, "You drew a card.", h.m.Log[0].Text)
	assert.Equal(t, "Opponent drew a card.", h.m.Log[1].Text)
	assert.Len(t, h.m.Players[1].Hand, 1)
}

func TestMoveCardUnknownInstanceIsNoop(t *testing.T) {
	h := newHarness(t)
	before := h.m.Clone()

	assert.False(t, h.engine.MoveCard(h.m, "ghost", ZoneField, SideActive, DeckTop))
	assert.False(t, h.engine.MoveCard(h.m, "ghost", Zone("attic"), SideActive, DeckTop))
	assert.Equal(t, before, h.m)
	assert.Empty(t, h.saves.states)
}

func TestMoveCardHandToFieldSpendsInk(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 4; i++ {
		h.put(0, ZoneInkwell, "song")
	}
	hero := h.put(0, ZoneHand, "hero")

	require.True(t, h.engine.MoveCard(h.m, hero, ZoneField, SideActive, DeckTop))

	p := h.m.Players[0]
	assert.Equal(t, 1, p.InkReady)
	assert.Equal(t, 4, p.InkTotal)
	exerted := 0
	for _, c := range p.Inkwell {
		if c.Exerted {
			exerted++
		}
	}
	assert.Equal(t, 3, exerted)
	assert.True(t, h.card(hero).Drying)
	assert.Equal(t, "Moved Hero to field.", h.m.Log[len(h.m.Log)-1].Text)
}

func TestMoveCardUnderfundedStillMoves(t *testing.T) {
	h := newHarness(t)
	h.put(0, ZoneInkwell, "song")
	h.put(0, ZoneInkwell, "song")
	hero := h.put(0, ZoneHand, "hero")

	require.True(t, h.engine.MoveCard(h.m, hero, ZoneField, SideActive, DeckTop))

	_, zone := h.zoneOf(hero)
	assert.Equal(t, ZoneField, zone)
	p := h.m.Players[0]
	assert.GreaterOrEqual(t, p.InkReady, 0)
	assert.LessOrEqual(t, p.InkReady, p.InkTotal)
	for _, c := range p.Inkwell {
		assert.False(t, c.Exerted)
	}
}

func TestMoveCardToInactiveFieldSkipsInk(t *testing.T) {
	h := newHarness(t)
	h.put(1, ZoneInkwell, "song")
	h.put(1, ZoneInkwell, "song")
	side := h.put(0, ZoneHand, "sidekick")

	require.True(t, h.engine.MoveCard(h.m, side, ZoneField, SideInactive, DeckTop))
	player, zone := h.zoneOf(side)
	assert.Equal(t, 1, player)
	assert.Equal(t, ZoneField, zone)
	assert.Equal(t, 2, h.m.Players[1].InkReady)
}

func TestMoveCardResetsStatusOnZoneChange(t *testing.T) {
	h := newHarness(t)
	castle := h.put(0, ZoneField, "castle")
	hero := h.put(0, ZoneField, "hero")
	c := h.card(hero)
	c.Exerted, c.Damage, c.FaceUp, c.Drying, c.LocationID = true, 2, true, true, castle

	require.True(t, h.engine.MoveCard(h.m, hero, ZoneHand, SideActive, DeckTop))

	assert.Equal(t, CardInstance{InstanceID: hero, CardID: "hero"}, *h.card(hero))
}

func TestMoveCardWithinFieldUnlocates(t *testing.T) {
	h := newHarness(t)
	castle := h.put(0, ZoneField, "castle")
	hero := h.put(0, ZoneField, "hero")
	c := h.card(hero)
	c.Exerted, c.Damage, c.LocationID = true, 1, castle

	require.True(t, h.engine.MoveCard(h.m, hero, ZoneField, SideActive, DeckTop))

	c = h.card(hero)
	assert.Empty(t, c.LocationID)
	assert.True(t, c.Exerted)
	assert.Equal(t, 1, c.Damage)
}

func TestMoveCardFromDiscardLogsProvenance(t *testing.T) {
	h := newHarness(t)
	h.put(0, ZoneDeck, "song")
	hero := h.put(0, ZoneDiscard, "hero")

	require.True(t, h.engine.MoveCard(h.m, hero, ZoneDeck, SideActive, DeckBottom))

	require.Len(t, h.m.Log, 2)
	assert.Equal(t, "Moved Hero from the discard pile to the bottom of the deck.", h.m.Log[0].Text)
	assert.Equal(t, "Moved Hero to deck (bottom).", h.m.Log[1].Text)
	assert.Equal(t, hero, h.m.Players[0].Deck[1].InstanceID)
}

func TestMoveStackedCardOffFieldUnpacks(t *testing.T) {
	h := newHarness(t)
	h.put(0, ZoneDeck, "song")
	top := h.put(0, ZoneField, "hero")
	h.card(top).StackedCards = []CardInstance{
		{InstanceID: "under-1", CardID: "sidekick", FaceUp: true},
		{InstanceID: "under-2", CardID: "brute"},
	}

	require.True(t, h.engine.MoveCard(h.m, top, ZoneDeck, SideActive, DeckTop))

	deck := h.m.Players[0].Deck
	require.Len(t, deck, 4)
	assert.Equal(t, []string{top, "under-1", "under-2"}, []string{deck[0].InstanceID, deck[1].InstanceID, deck[2].InstanceID})
	for _, c := range deck {
		assert.Nil(t, c.StackedCards)
		assert.False(t, c.FaceUp)
	}
	assert.Contains(t, h.m.Log[len(h.m.Log)-1].Text, "and its stack (3 cards)")
}

func TestMoveLocationToDiscardDetachesCharacters(t *testing.T) {
	h := newHarness(t)
	castle := h.put(0, ZoneField, "castle")
	a := h.put(0, ZoneField, "hero")
	b := h.put(0, ZoneField, "sidekick")
	h.card(a).LocationID = castle
	h.card(b).LocationID = castle

	require.True(t, h.engine.MoveCard(h.m, castle, ZoneDiscard, SideActive, DeckTop))

	for _, id := range []string{a, b} {
		_, zone := h.zoneOf(id)
		assert.Equal(t, ZoneField, zone)
		assert.Empty(t, h.card(id).LocationID)
	}
	_, zone := h.zoneOf(castle)
	assert.Equal(t, ZoneDiscard, zone)
}

func TestMoveIntoAndOutOfInkwellTracksInk(t *testing.T) {
	h := newHarness(t)
	song := h.put(0, ZoneHand, "song")

	require.True(t, h.engine.MoveCard(h.m, song, ZoneInkwell, SideActive, DeckTop))
	p := &h.m.Players[0]
	assert.Equal(t, 1, p.InkTotal)
	assert.Equal(t, 1, p.InkReady)
	assert.True(t, h.card(song).FaceUp)

	require.True(t, h.engine.MoveCard(h.m, song, ZoneHand, SideActive, DeckTop))
	assert.Equal(t, 0, p.InkTotal)
	assert.Equal(t, 0, p.InkReady)
}

func TestPlayCard(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 3; i++ {
		h.put(0, ZoneInkwell, "song")
	}
	castle := h.put(0, ZoneHand, "castle")
	hero := h.put(0, ZoneDiscard, "hero")

	require.True(t, h.engine.PlayCard(h.m, castle))
	assert.True(t, h.card(castle).Exerted)
	assert.False(t, h.card(castle).Drying)
	assert.Equal(t, 1, h.m.Players[0].InkReady)
	assert.Equal(t, "You played Castle (cost 2).", h.m.Log[0].Text)

	require.True(t, h.engine.PlayCard(h.m, hero))
	assert.True(t, h.card(hero).Drying)
	assert.Equal(t, 1, h.m.Players[0].InkReady)
	assert.Equal(t, "You played Hero from the discard pile (cost 3).", h.m.Log[1].Text)
}

func TestPlayToInkwell(t *testing.T) {
	h := newHarness(t)
	top := h.put(0, ZoneField, "hero")
	h.card(top).StackedCards = []CardInstance{{InstanceID: "under", CardID: "song"}}
	h.card(top).Damage = 2

	require.True(t, h.engine.PlayToInkwell(h.m, top))

	p := h.m.Players[0]
	assert.Empty(t, p.Field)
	require.Len(t, p.Inkwell, 2)
	assert.Equal(t, 2, p.InkTotal)
	assert.Equal(t, 2, p.InkReady)
	for _, c := range p.Inkwell {
		assert.True(t, c.FaceUp)
		assert.Zero(t, c.Damage)
		assert.Nil(t, c.StackedCards)
	}
}

func TestToggleExertInkwellClampsReadyInk(t *testing.T) {
	h := newHarness(t)
	ink := h.put(0, ZoneInkwell, "song")
	p := &h.m.Players[0]

	require.True(t, h.engine.ToggleExert(h.m, ink))
	assert.Equal(t, 0, p.InkReady)
	require.True(t, h.engine.ToggleExert(h.m, ink))
	assert.Equal(t, 1, p.InkReady)

	p.InkReady = 1
	h.card(ink).Exerted = true
	require.True(t, h.engine.ToggleExert(h.m, ink))
	assert.Equal(t, 1, p.InkReady)
}

func TestExertInk(t *testing.T) {
	h := newHarness(t)
	assert.False(t, h.engine.ExertInk(h.m))

	a := h.put(0, ZoneInkwell, "song")
	h.put(0, ZoneInkwell, "song")
	require.True(t, h.engine.ExertInk(h.m))
	assert.Equal(t, 1, h.m.Players[0].InkReady)
	assert.True(t, h.card(a).Exerted)
}

func TestQuestEligibility(t *testing.T) {
	h := newHarness(t)
	hero := h.put(0, ZoneField, "hero")
	drying := h.put(0, ZoneField, "sidekick")
	h.card(drying).Drying = true
	brute := h.put(0, ZoneField, "brute")
	inHand := h.put(0, ZoneHand, "hero")

	assert.False(t, h.engine.Quest(h.m, drying))
	assert.False(t, h.engine.Quest(h.m, brute))
	assert.False(t, h.engine.Quest(h.m, inHand))

	require.True(t, h.engine.Quest(h.m, hero))
	assert.Equal(t, 2, h.m.Players[0].Lore)
	assert.True(t, h.card(hero).Exerted)
	assert.False(t, h.engine.Quest(h.m, hero))
	assert.Len(t, h.saves.states, 1)
}

func TestQuestWithAll(t *testing.T) {
	h := newHarness(t)
	assert.False(t, h.engine.QuestWithAll(h.m))

	h.put(0, ZoneField, "hero")
	h.put(0, ZoneField, "sidekick")
	exerted := h.put(0, ZoneField, "hero")
	h.card(exerted).Exerted = true
	h.put(0, ZoneField, "castle")
	h.put(1, ZoneField, "hero")

	require.True(t, h.engine.QuestWithAll(h.m))
	assert.Equal(t, 3, h.m.Players[0].Lore)
	assert.Zero(t, h.m.Players[1].Lore)
	assert.Equal(t, "You quested with 2 characters for 3 lore.", h.m.Log[0].Text)
}

func TestAddDamageClampsAtZero(t *testing.T) {
	h := newHarness(t)
	hero := h.put(0, ZoneField, "hero")

	require.True(t, h.engine.AddDamage(h.m, hero, 2))
	require.True(t, h.engine.AddDamage(h.m, hero, -5))
	assert.Zero(t, h.card(hero).Damage)
	assert.False(t, h.engine.AddDamage(h.m, hero, 0))
}

func TestChangeLore(t *testing.T) {
	h := newHarness(t)

	assert.False(t, h.engine.ChangeLore(h.m, SideActive, -1))
	require.True(t, h.engine.ChangeLore(h.m, SideInactive, 3))
	assert.Equal(t, 3, h.m.Players[1].Lore)
	require.True(t, h.engine.ChangeLore(h.m, SideInactive, -10))
	assert.Zero(t, h.m.Players[1].Lore)
	assert.Equal(t, "Player 2 lore -3 (now 0).", h.m.Log[len(h.m.Log)-1].Text)
}

func TestChallengeBanishesDefeatedCards(t *testing.T) {
	h := newHarness(t)
	brute := h.put(0, ZoneField, "brute")
	side := h.put(1, ZoneField, "sidekick")
	own := h.put(0, ZoneField, "hero")

	assert.False(t, h.engine.Challenge(h.m, brute, own))
	require.True(t, h.engine.Challenge(h.m, brute, side))

	_, zone := h.zoneOf(side)
	assert.Equal(t, ZoneDiscard, zone)
	assert.Zero(t, h.card(side).Damage)

	b := h.card(brute)
	assert.True(t, b.Exerted)
	assert.Equal(t, 1, b.Damage)
}

func TestBanishLocationDetachesFromBothFields(t *testing.T) {
	h := newHarness(t)
	castle := h.put(0, ZoneField, "castle")
	mine := h.put(0, ZoneField, "hero")
	theirs := h.put(1, ZoneField, "hero")
	h.card(mine).LocationID = castle
	h.card(theirs).LocationID = castle

	require.True(t, h.engine.Banish(h.m, castle))

	assert.Empty(t, h.card(mine).LocationID)
	assert.Empty(t, h.card(theirs).LocationID)
	assert.Equal(t, "Castle was banished.", h.m.Log[0].Text)
}

func TestBanishResetsAndUnpacks(t *testing.T) {
	h := newHarness(t)
	top := h.put(1, ZoneField, "hero")
	c := h.card(top)
	c.Damage, c.Exerted, c.Drying, c.FaceUp = 2, true, true, true
	c.StackedCards = []CardInstance{{InstanceID: "under", CardID: "sidekick", FaceUp: true}}

	require.True(t, h.engine.Banish(h.m, top))

	discard := h.m.Players[1].Discard
	require.Len(t, discard, 2)
	assert.Equal(t, CardInstance{InstanceID: top, CardID: "hero", FaceUp: true}, discard[0])
	assert.Equal(t, CardInstance{InstanceID: "under", CardID: "sidekick"}, discard[1])
}

func TestReturnToHandFromDiscard(t *testing.T) {
	h := newHarness(t)
	hero := h.put(0, ZoneDiscard, "hero")

	require.True(t, h.engine.ReturnToHand(h.m, hero))
	_, zone := h.zoneOf(hero)
	assert.Equal(t, ZoneHand, zone)
	assert.Equal(t, "Returned Hero from the discard pile to the hand.", h.m.Log[0].Text)
}

func TestMoveToLocation(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 3; i++ {
		h.put(0, ZoneInkwell, "song")
	}
	castle := h.put(0, ZoneField, "castle")
	fromHand := h.put(0, ZoneHand, "hero")
	onField := h.put(0, ZoneField, "sidekick")
	inDeck := h.put(0, ZoneDeck, "hero")

	assert.False(t, h.engine.MoveToLocation(h.m, inDeck, castle))
	assert.False(t, h.engine.MoveToLocation(h.m, onField, inDeck))

	require.True(t, h.engine.MoveToLocation(h.m, fromHand, castle))
	c := h.card(fromHand)
	assert.Equal(t, castle, c.LocationID)
	assert.True(t, c.Drying)
	assert.Zero(t, h.m.Players[0].InkReady)

	require.True(t, h.engine.MoveToLocation(h.m, onField, castle))
	assert.Equal(t, castle, h.card(onField).LocationID)
	assert.Equal(t, "Moved Sidekick to Castle.", h.m.Log[len(h.m.Log)-1].Text)
}

func TestShiftOntoInheritsTargetStatus(t *testing.T) {
	h := newHarness(t)
	castle := h.put(0, ZoneField, "castle")
	left := h.put(0, ZoneField, "brute")
	target := h.put(0, ZoneField, "sidekick")
	right := h.put(0, ZoneField, "brute")
	tc := h.card(target)
	tc.Exerted, tc.Damage, tc.Drying, tc.LocationID, tc.FaceUp = true, 1, true, castle, true
	tc.StackedCards = []CardInstance{{InstanceID: "older", CardID: "song"}}
	dragged := h.put(0, ZoneHand, "hero")

	require.True(t, h.engine.ShiftOnto(h.m, dragged, target))

	field := h.m.Players[0].Field
	require.Len(t, field, 4)
	assert.Equal(t, []string{castle, left, dragged, right},
		[]string{field[0].InstanceID, field[1].InstanceID, field[2].InstanceID, field[3].InstanceID})
	assert.Equal(t, CardInstance{
		InstanceID: dragged,
		CardID:     "hero",
		Exerted:    true,
		Damage:     1,
		FaceUp:     true,
		LocationID: castle,
		Drying:     true,
		StackedCards: []CardInstance{
			{InstanceID: target, CardID: "sidekick", FaceUp: true},
			{InstanceID: "older", CardID: "song"},
		},
	}, field[2])
	assert.Empty(t, h.m.Players[0].Hand)
}

func TestShiftOntoFromFieldBeforeTarget(t *testing.T) {
	h := newHarness(t)
	dragged := h.put(0, ZoneField, "hero")
	target := h.put(0, ZoneField, "sidekick")
	after := h.put(0, ZoneField, "brute")

	require.True(t, h.engine.ShiftOnto(h.m, dragged, target))

	field := h.m.Players[0].Field
	require.Len(t, field, 2)
	assert.Equal(t, dragged, field[0].InstanceID)
	assert.Equal(t, after, field[1].InstanceID)
}

func TestShiftOntoRequiresActivePlayerAndField(t *testing.T) {
	h := newHarness(t)
	mine := h.put(0, ZoneHand, "hero")
	theirs := h.put(1, ZoneField, "hero")
	inHand := h.put(0, ZoneHand, "sidekick")

	assert.False(t, h.engine.ShiftOnto(h.m, mine, theirs))
	assert.False(t, h.engine.ShiftOnto(h.m, mine, inHand))
	assert.False(t, h.engine.ShiftOnto(h.m, mine, mine))
	assert.Empty(t, h.saves.states)
}

func TestShiftThenUnstackRestoresBothCards(t *testing.T) {
	h := newHarness(t)
	target := h.put(0, ZoneField, "sidekick")
	dragged := h.put(0, ZoneHand, "hero")

	require.True(t, h.engine.ShiftOnto(h.m, dragged, target))
	require.True(t, h.engine.UnstackCards(h.m, dragged))

	field := h.m.Players[0].Field
	require.Len(t, field, 2)
	assert.ElementsMatch(t, []string{"hero", "sidekick"}, []string{field[0].CardID, field[1].CardID})
	for _, c := range field {
		assert.Nil(t, c.StackedCards)
	}
	sep := h.card(target)
	assert.True(t, sep.Exerted)
	assert.True(t, sep.Drying)
	assert.True(t, sep.FaceUp)
}

func TestSlideUnderFromDeck(t *testing.T) {
	h := newHarness(t)
	target := h.put(0, ZoneField, "hero")
	assert.False(t, h.engine.SlideUnderFromDeck(h.m, target))

	top := h.put(0, ZoneDeck, "song")
	h.put(0, ZoneDeck, "brute")
	require.True(t, h.engine.SlideUnderFromDeck(h.m, target))

	assert.Len(t, h.m.Players[0].Deck, 1)
	assert.Equal(t, []CardInstance{{InstanceID: top, CardID: "song"}}, h.card(target).StackedCards)
	assert.Equal(t, "Slipped top card of deck underneath Hero.", h.m.Log[0].Text)
}

func TestUnstackCardsKeepsParentDamageAndLocation(t *testing.T) {
	h := newHarness(t)
	castle := h.put(0, ZoneField, "castle")
	target := h.put(0, ZoneField, "hero")
	c := h.card(target)
	c.Damage, c.LocationID = 2, castle
	c.StackedCards = []CardInstance{{InstanceID: "a", CardID: "sidekick", FaceUp: true}, {InstanceID: "b", CardID: "song"}}

	require.True(t, h.engine.UnstackCards(h.m, target))
	assert.False(t, h.engine.UnstackCards(h.m, target))

	assert.Equal(t, CardInstance{InstanceID: "a", CardID: "sidekick", Exerted: true, Damage: 2, FaceUp: true, LocationID: castle, Drying: true}, *h.card("a"))
	assert.Equal(t, CardInstance{InstanceID: "b", CardID: "song", Exerted: true, Damage: 2, LocationID: castle, Drying: true}, *h.card("b"))
}

func TestEndTurn(t *testing.T) {
	h := newHarness(t)
	h.m.OpponentHandRevealed = true
	hero := h.put(1, ZoneField, "hero")
	castle := h.put(1, ZoneField, "castle")
	ink := h.put(1, ZoneInkwell, "song")
	h.put(1, ZoneInkwell, "song")
	drawn := h.put(1, ZoneDeck, "brute")
	h.card(hero).Exerted, h.card(hero).Drying = true, true
	h.card(castle).Exerted = true
	h.card(ink).Exerted, h.card(ink).FaceUp = true, true
	h.m.Players[1].InkReady = 0
	untouched := h.put(0, ZoneField, "hero")
	h.card(untouched).Exerted = true

	require.True(t, h.engine.EndTurn(h.m))

	assert.Equal(t, 1, h.m.Turn)
	assert.Equal(t, 1, h.m.ActivePlayer)
	assert.Equal(t, 0, h.m.InactivePlayer)
	assert.False(t, h.m.OpponentHandRevealed)
	assert.False(t, h.card(hero).Exerted)
	assert.False(t, h.card(hero).Drying)
	assert.True(t, h.card(castle).Exerted)
	assert.False(t, h.card(ink).Exerted)
	assert.False(t, h.card(ink).FaceUp)
	assert.Equal(t, 2, h.m.Players[1].InkReady)
	assert.True(t, h.card(untouched).Exerted)
	_, zone := h.zoneOf(drawn)
	assert.Equal(t, ZoneHand, zone)
	assert.Equal(t, []string{"--- Turn 1 Begins ---", "Ready step: characters and items readied", "Draw step"},
		[]string{h.m.Log[0].Text, h.m.Log[1].Text, h.m.Log[2].Text})

	require.True(t, h.engine.EndTurn(h.m))
	assert.Equal(t, 2, h.m.Turn)
	assert.Equal(t, 0, h.m.ActivePlayer)
}

func TestShuffleAndReorderDeck(t *testing.T) {
	h := newHarness(t)
	ids := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		ids = append(ids, h.put(0, ZoneDeck, "hero"))
	}

	assert.False(t, h.engine.ReorderDeck(h.m, SideActive, ids))
	assert.False(t, h.engine.ReorderDeck(h.m, SideActive, ids[:9]))
	assert.False(t, h.engine.ReorderDeck(h.m, SideActive, append(append([]string{}, ids[1:]...), "ghost")))

	reversed := make([]string, len(ids))
	for i, id := range ids {
		reversed[len(ids)-1-i] = id
	}
	require.True(t, h.engine.ReorderDeck(h.m, SideActive, reversed))
	assert.Equal(t, reversed[0], h.m.Players[0].Deck[0].InstanceID)

	require.True(t, h.engine.ShuffleDeck(h.m, SideActive))
	got := make([]string, 0, len(ids))
	for _, c := range h.m.Players[0].Deck {
		got = append(got, c.InstanceID)
	}
	assert.ElementsMatch(t, ids, got)
	assert.False(t, h.engine.ShuffleDeck(h.m, SideInactive))
}

func TestMulligan(t *testing.T) {
	h := newHarness(t)
	a := h.put(0, ZoneHand, "hero")
	b := h.put(0, ZoneHand, "sidekick")
	keep := h.put(0, ZoneHand, "brute")
	for i := 0; i < 5; i++ {
		h.put(0, ZoneDeck, "song")
	}

	assert.False(t, h.engine.Mulligan(h.m, SideActive, []string{"ghost"}))
	require.True(t, h.engine.Mulligan(h.m, SideActive, []string{a, b}))

	p := h.m.Players[0]
	assert.True(t, p.HasMulliganed)
	assert.Len(t, p.Hand, 3)
	assert.Equal(t, keep, p.Hand[0].InstanceID)
	assert.Equal(t, "song", p.Hand[1].CardID)
	assert.Len(t, p.Deck, 5)
	assert.Equal(t, "You mulliganed 2 cards.", h.m.Log[0].Text)
}

func TestUpdateTurnComment(t *testing.T) {
	h := newHarness(t)

	require.True(t, h.engine.UpdateTurnComment(h.m, 2, 1, "held back"))
	assert.Equal(t, "held back", h.m.TurnComments["2-1"])
	assert.False(t, h.engine.UpdateTurnComment(h.m, 2, 1, "held back"))
	assert.False(t, h.engine.UpdateTurnComment(h.m, 0, 1, "x"))
	require.True(t, h.engine.UpdateTurnComment(h.m, 2, 1, ""))
	assert.NotContains(t, h.m.TurnComments, "2-1")
}

func TestSetHandReveal(t *testing.T) {
	h := newHarness(t)

	assert.False(t, h.engine.SetHandReveal(h.m, false))
	require.True(t, h.engine.SetHandReveal(h.m, true))
	assert.True(t, h.m.OpponentHandRevealed)
	require.True(t, h.engine.SetHandReveal(h.m, false))
	require.Len(t, h.m.Log, 1)
	assert.True(t, h.m.Log[0].IsSystem)
}

func TestEveryMutationCheckpointsPreviousBoard(t *testing.T) {
	h := newHarness(t)
	hero := h.put(0, ZoneHand, "hero")
	before := h.m.Clone()

	require.True(t, h.engine.PlayCard(h.m, hero))
	require.Len(t, h.saves.states, 1)
	assert.Equal(t, before, h.saves.states[0])
}

func TestUnknownCatalogCardIsUsable(t *testing.T) {
	h := newHarness(t)
	h.put(0, ZoneInkwell, "song")
	mystery := h.put(0, ZoneHand, "mystery-card")

	require.True(t, h.engine.PlayCard(h.m, mystery))
	assert.Equal(t, 1, h.m.Players[0].InkReady)
	assert.False(t, h.card(mystery).Drying)
	assert.Equal(t, "You played mystery-card (cost 0).", h.m.Log[0].Text)
}
