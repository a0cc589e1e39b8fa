package game

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/heavenideas/dojo-server-go/internal/catalog"
)

// Draw moves the top card of a player's deck to their hand.
func (e *Engine) Draw(m *MatchState, side Side) bool {
	pi := m.PlayerFor(side)
	p := &m.Players[pi]
	if len(p.Deck) == 0 {
		return false
	}
	e.save(m)
	e.internalDraw(p)
	if pi == m.ActivePlayer {
		m.logAction("You drew a card.", false)
	} else {
		m.logAction("Opponent drew a card.", false)
	}
	return true
}

// MoveCard relocates an instance to a zone of the player on side. Moving
// hand to field for the active player spends ink when enough is ready. Any
// change of zone or owner resets the card's status, and any destination
// other than the field unpacks its stack.
func (e *Engine) MoveCard(m *MatchState, instanceID string, target Zone, side Side, placement DeckPlacement) bool {
	if !target.Valid() {
		return false
	}
	loc, ok := m.FindCard(instanceID)
	if !ok {
		return false
	}
	if placement != DeckBottom {
		placement = DeckTop
	}
	e.save(m)

	targetIdx := m.PlayerFor(side)
	src := &m.Players[loc.Player]
	dst := &m.Players[targetIdx]
	info := e.card(m.CardAt(loc).CardID)

	if loc.Zone == ZoneHand && target == ZoneField && targetIdx == m.ActivePlayer {
		spendInk(dst, info.Cost)
	}

	sameSpot := loc.Zone == target && loc.Player == targetIdx
	if info.Type == catalog.TypeLocation && loc.Zone == ZoneField && !sameSpot {
		detachFrom(m, instanceID)
	}

	card := src.removeAt(loc.Zone, loc.Index)
	if loc.Zone == ZoneDiscard {
		dest := "the " + string(target)
		if target == ZoneDeck {
			dest = fmt.Sprintf("the %s of the deck", placement)
		}
		m.logAction(fmt.Sprintf("Moved %s from the discard pile to %s.", info.DisplayName(), dest), false)
	}

	if !sameSpot {
		card.Exerted = false
		card.Damage = 0
		card.LocationID = ""
		card.FaceUp = false
		card.Drying = loc.Zone == ZoneHand && target == ZoneField && info.Type == catalog.TypeCharacter
	} else if target == ZoneField {
		card.LocationID = ""
	}

	moving := []CardInstance{card}
	if target != ZoneField {
		moving = unpack(card)
	}
	if target == ZoneInkwell {
		for i := range moving {
			dst.InkTotal++
			dst.InkReady++
			moving[i].FaceUp = true
		}
	}

	switch {
	case target == ZoneDeck && placement == DeckTop:
		dst.Deck = append(moving, dst.Deck...)
	default:
		zone := dst.Cards(target)
		*zone = append(*zone, moving...)
	}

	text := fmt.Sprintf("Moved %s", info.DisplayName())
	if len(moving) > 1 {
		text += fmt.Sprintf(" and its stack (%d cards)", len(moving))
	}
	text += " to " + string(target)
	if target == ZoneDeck {
		text += fmt.Sprintf(" (%s)", placement)
	}
	m.logAction(text+".", false)

	e.logger.Debug("moved card",
		zap.String("instance_id", instanceID),
		zap.String("card_id", card.CardID),
		zap.String("from", string(loc.Zone)),
		zap.String("to", string(target)),
		zap.Int("player", targetIdx),
	)
	return true
}

// PlayCard puts a card from any zone onto its owner's field. Locations enter
// exerted and characters enter drying.
func (e *Engine) PlayCard(m *MatchState, instanceID string) bool {
	loc, ok := m.FindCard(instanceID)
	if !ok {
		return false
	}
	e.save(m)

	p := &m.Players[loc.Player]
	info := e.card(m.CardAt(loc).CardID)
	spendInk(p, info.Cost)

	card := p.removeAt(loc.Zone, loc.Index)
	card.Exerted = info.Type == catalog.TypeLocation
	card.LocationID = ""
	card.Drying = info.Type == catalog.TypeCharacter
	p.Field = append(p.Field, card)

	if loc.Zone == ZoneDiscard {
		m.logAction(fmt.Sprintf("You played %s from the discard pile (cost %d).", info.DisplayName(), info.Cost), false)
	} else {
		m.logAction(fmt.Sprintf("You played %s (cost %d).", info.DisplayName(), info.Cost), false)
	}
	return true
}

// PlayToInkwell commits a card, and anything stacked under it, to its
// owner's inkwell ready and face-up.
func (e *Engine) PlayToInkwell(m *MatchState, instanceID string) bool {
	loc, ok := m.FindCard(instanceID)
	if !ok {
		return false
	}
	e.save(m)

	p := &m.Players[loc.Player]
	info := e.card(m.CardAt(loc).CardID)
	if info.Type == catalog.TypeLocation && loc.Zone == ZoneField {
		detachFrom(m, instanceID)
	}
	card := p.removeAt(loc.Zone, loc.Index)

	moving := unpack(card)
	for _, c := range moving {
		c.Exerted = false
		c.Drying = false
		c.Damage = 0
		c.LocationID = ""
		c.FaceUp = true
		p.Inkwell = append(p.Inkwell, c)
		p.InkTotal++
		p.InkReady++
	}

	text := fmt.Sprintf("You added %s", info.DisplayName())
	if len(moving) > 1 {
		text += fmt.Sprintf(" and its stack (%d cards)", len(moving))
	}
	m.logAction(text+" to ink.", false)
	return true
}

// ToggleExert flips a card's exerted flag. Inkwell toggles move ready ink
// within [0, InkTotal].
func (e *Engine) ToggleExert(m *MatchState, instanceID string) bool {
	loc, ok := m.FindCard(instanceID)
	if !ok {
		return false
	}
	e.save(m)

	p := &m.Players[loc.Player]
	card := m.CardAt(loc)
	card.Exerted = !card.Exerted
	if loc.Zone == ZoneInkwell {
		if card.Exerted {
			p.InkReady = max(0, p.InkReady-1)
		} else {
			p.InkReady = min(p.InkTotal, p.InkReady+1)
		}
	}
	return true
}

// ExertInk spends one ready ink of the active player.
func (e *Engine) ExertInk(m *MatchState) bool {
	p := &m.Players[m.ActivePlayer]
	if p.InkReady <= 0 {
		return false
	}
	e.save(m)

	p.InkReady--
	for i := range p.Inkwell {
		if !p.Inkwell[i].Exerted {
			p.Inkwell[i].Exerted = true
			break
		}
	}
	return true
}

func (e *Engine) canQuest(c *CardInstance, info catalog.Card) bool {
	return !c.Exerted && !c.Drying && info.Lore > 0 && info.Type == catalog.TypeCharacter
}

// Quest exerts a ready, dry character on the field and adds its lore to its owner.
func (e *Engine) Quest(m *MatchState, instanceID string) bool {
	loc, ok := m.FindCard(instanceID)
	if !ok || loc.Zone != ZoneField {
		return false
	}
	info := e.card(m.CardAt(loc).CardID)
	if !e.canQuest(m.CardAt(loc), info) {
		return false
	}
	e.save(m)

	m.CardAt(loc).Exerted = true
	m.Players[loc.Player].Lore += info.Lore
	m.logAction(fmt.Sprintf("You quested with %s for %d lore.", info.DisplayName(), info.Lore), false)
	return true
}

// QuestWithAll quests with every eligible character of the active player.
func (e *Engine) QuestWithAll(m *MatchState) bool {
	p := &m.Players[m.ActivePlayer]
	eligible := make([]int, 0, len(p.Field))
	for i := range p.Field {
		if e.canQuest(&p.Field[i], e.card(p.Field[i].CardID)) {
			eligible = append(eligible, i)
		}
	}
	if len(eligible) == 0 {
		return false
	}
	e.save(m)

	total := 0
	for _, i := range eligible {
		p.Field[i].Exerted = true
		total += e.card(p.Field[i].CardID).Lore
	}
	p.Lore += total
	m.logAction(fmt.Sprintf("You quested with %d characters for %d lore.", len(eligible), total), false)
	return true
}

// AddDamage adjusts a card's damage counters, never below zero.
func (e *Engine) AddDamage(m *MatchState, instanceID string, amount int) bool {
	loc, ok := m.FindCard(instanceID)
	if !ok || amount == 0 {
		return false
	}
	e.save(m)

	card := m.CardAt(loc)
	card.Damage = max(0, card.Damage+amount)
	return true
}

// ChangeLore adjusts a player's lore, never below zero.
func (e *Engine) ChangeLore(m *MatchState, side Side, amount int) bool {
	p := &m.Players[m.PlayerFor(side)]
	next := max(0, p.Lore+amount)
	if next == p.Lore {
		return false
	}
	e.save(m)

	diff := next - p.Lore
	p.Lore = next
	sign := "+"
	if diff < 0 {
		sign = ""
	}
	m.logAction(fmt.Sprintf("%s lore %s%d (now %d).", p.Name, sign, diff, p.Lore), false)
	return true
}

// Challenge has attacker and defender deal their strength to each other.
// Cards whose damage reaches their willpower are banished.
func (e *Engine) Challenge(m *MatchState, attackerID, defenderID string) bool {
	aloc, ok := m.FindCard(attackerID)
	if !ok || aloc.Zone != ZoneField {
		return false
	}
	dloc, ok := m.FindCard(defenderID)
	if !ok || dloc.Zone != ZoneField || dloc.Player == aloc.Player {
		return false
	}
	e.save(m)

	attacker := m.CardAt(aloc)
	defender := m.CardAt(dloc)
	ainfo := e.card(attacker.CardID)
	dinfo := e.card(defender.CardID)

	attacker.Exerted = true
	attacker.Damage += max(0, dinfo.Strength)
	defender.Damage += max(0, ainfo.Strength)
	m.logAction(fmt.Sprintf("%s challenged %s.", ainfo.DisplayName(), dinfo.DisplayName()), false)

	for _, id := range []string{defenderID, attackerID} {
		loc, ok := m.FindCard(id)
		if !ok {
			continue
		}
		card := m.CardAt(loc)
		info := e.card(card.CardID)
		if info.Willpower > 0 && card.Damage >= info.Willpower {
			e.relocate(m, loc, ZoneDiscard)
			m.logAction(fmt.Sprintf("%s was banished.", info.DisplayName()), false)
		}
	}
	return true
}

// Banish sends a card, and anything stacked under it, to its owner's discard.
func (e *Engine) Banish(m *MatchState, instanceID string) bool {
	loc, ok := m.FindCard(instanceID)
	if !ok {
		return false
	}
	e.save(m)

	info := e.card(m.CardAt(loc).CardID)
	n := e.relocate(m, loc, ZoneDiscard)
	m.logAction(fmt.Sprintf("%s%s was banished.", info.DisplayName(), stackCount(n)), false)
	return true
}

// ReturnToHand sends a card, and anything stacked under it, to its owner's hand.
func (e *Engine) ReturnToHand(m *MatchState, instanceID string) bool {
	loc, ok := m.FindCard(instanceID)
	if !ok {
		return false
	}
	e.save(m)

	info := e.card(m.CardAt(loc).CardID)
	n := e.relocate(m, loc, ZoneHand)
	if loc.Zone == ZoneDiscard {
		m.logAction(fmt.Sprintf("Returned %s from the discard pile to the hand.", info.DisplayName()), false)
	} else {
		m.logAction(fmt.Sprintf("Returned %s%s to hand.", info.DisplayName(), stackCount(n)), false)
	}
	return true
}

// relocate detaches cards at a location, unpacks the card and appends the
// reset pieces to the owner's zone. It returns the number of cards moved.
func (e *Engine) relocate(m *MatchState, loc Location, to Zone) int {
	p := &m.Players[loc.Player]
	card := m.CardAt(loc)
	if e.card(card.CardID).Type == catalog.TypeLocation {
		detachFrom(m, card.InstanceID)
	}
	removed := p.removeAt(loc.Zone, loc.Index)

	moving := unpack(removed)
	zone := p.Cards(to)
	for _, c := range moving {
		c.Damage = 0
		c.Exerted = false
		c.Drying = false
		c.LocationID = ""
		*zone = append(*zone, c)
	}
	return len(moving)
}

func stackCount(n int) string {
	if n <= 1 {
		return ""
	}
	return fmt.Sprintf(" and its stack (%d cards)", n)
}

// MoveToLocation places a character at a location on the field, playing it
// from hand first when needed.
func (e *Engine) MoveToLocation(m *MatchState, characterID, locationID string) bool {
	if characterID == locationID {
		return false
	}
	cloc, ok := m.FindCard(characterID)
	if !ok || (cloc.Zone != ZoneHand && cloc.Zone != ZoneField) {
		return false
	}
	lloc, ok := m.FindCard(locationID)
	if !ok || lloc.Zone != ZoneField {
		return false
	}
	e.save(m)

	info := e.card(m.CardAt(cloc).CardID)
	locInfo := e.card(m.CardAt(lloc).CardID)

	if cloc.Zone == ZoneHand {
		owner := &m.Players[lloc.Player]
		spendInk(owner, info.Cost)
		card := m.Players[cloc.Player].removeAt(ZoneHand, cloc.Index)
		card.Exerted = false
		card.Drying = info.Type == catalog.TypeCharacter
		owner.Field = append(owner.Field, card)
		cloc = Location{Player: lloc.Player, Zone: ZoneField, Index: len(owner.Field) - 1}
	}

	m.CardAt(cloc).LocationID = locationID
	m.logAction(fmt.Sprintf("Moved %s to %s.", info.DisplayName(), locInfo.DisplayName()), false)
	return true
}

// ShiftOnto stacks dragged on top of a field card of the active player. The
// dragged card takes over the target's status and position; the target and
// its own stack become nested records beneath it.
func (e *Engine) ShiftOnto(m *MatchState, draggedID, targetID string) bool {
	if draggedID == targetID {
		return false
	}
	dloc, ok := m.FindCard(draggedID)
	if !ok || dloc.Player != m.ActivePlayer {
		return false
	}
	tloc, ok := m.FindCard(targetID)
	if !ok || tloc.Zone != ZoneField || tloc.Player != m.ActivePlayer {
		return false
	}
	e.save(m)

	p := &m.Players[m.ActivePlayer]
	info := e.card(m.CardAt(dloc).CardID)
	targetInfo := e.card(m.CardAt(tloc).CardID)
	if dloc.Zone == ZoneHand {
		spendInk(p, info.Cost)
	}

	dragged := p.removeAt(dloc.Zone, dloc.Index)
	tloc, _ = m.FindCard(targetID)
	target := p.Field[tloc.Index]

	dragged.Exerted = target.Exerted
	dragged.Damage = target.Damage
	dragged.Drying = target.Drying
	dragged.LocationID = target.LocationID
	dragged.FaceUp = target.FaceUp
	dragged.StackedCards = append(dragged.StackedCards, CardInstance{
		InstanceID: target.InstanceID,
		CardID:     target.CardID,
		FaceUp:     true,
	})
	dragged.StackedCards = append(dragged.StackedCards, target.StackedCards...)
	p.Field[tloc.Index] = dragged

	m.logAction(fmt.Sprintf("Assigned %s to stack onto %s.", info.DisplayName(), targetInfo.DisplayName()), false)
	return true
}

// SlideUnderFromDeck tucks the top card of the owner's deck face-down under a field card.
func (e *Engine) SlideUnderFromDeck(m *MatchState, targetID string) bool {
	loc, ok := m.FindCard(targetID)
	if !ok || loc.Zone != ZoneField {
		return false
	}
	p := &m.Players[loc.Player]
	if len(p.Deck) == 0 {
		return false
	}
	e.save(m)

	top := p.removeAt(ZoneDeck, 0)
	target := m.CardAt(loc)
	target.StackedCards = append(target.StackedCards, CardInstance{
		InstanceID: top.InstanceID,
		CardID:     top.CardID,
	})
	m.logAction(fmt.Sprintf("Slipped top card of deck underneath %s.", e.card(target.CardID).DisplayName()), false)
	return true
}

// UnstackCards separates every nested record under a field card into its own
// field card. Separated cards enter exerted and drying, keep the parent's
// damage and location, and keep their own facing.
func (e *Engine) UnstackCards(m *MatchState, targetID string) bool {
	loc, ok := m.FindCard(targetID)
	if !ok || loc.Zone != ZoneField || len(m.CardAt(loc).StackedCards) == 0 {
		return false
	}
	e.save(m)

	p := &m.Players[loc.Player]
	target := m.CardAt(loc)
	stacked := target.StackedCards
	target.StackedCards = nil
	name := e.card(target.CardID).DisplayName()

	separated := make([]CardInstance, 0, len(stacked))
	for _, sc := range stacked {
		separated = append(separated, CardInstance{
			InstanceID: sc.InstanceID,
			CardID:     sc.CardID,
			Exerted:    true,
			Damage:     target.Damage,
			FaceUp:     sc.FaceUp,
			LocationID: target.LocationID,
			Drying:     true,
		})
	}
	p.Field = append(p.Field, separated...)

	m.logAction(fmt.Sprintf("Separated stacked cards beneath %s.", name), false)
	return true
}

// EndTurn passes the turn: the new active player readies their field and
// inkwell, refills ready ink and draws.
func (e *Engine) EndTurn(m *MatchState) bool {
	e.save(m)

	m.ActivePlayer = m.InactivePlayer
	m.InactivePlayer = 1 - m.ActivePlayer
	m.OpponentHandRevealed = false
	if m.ActivePlayer == 0 {
		m.Turn++
	}

	p := &m.Players[m.ActivePlayer]
	m.logAction(fmt.Sprintf("--- Turn %d Begins ---", m.Turn), true)
	m.logAction("Ready step: characters and items readied", true)

	for i := range p.Field {
		if e.card(p.Field[i].CardID).Type != catalog.TypeLocation {
			p.Field[i].Exerted = false
		}
		p.Field[i].Drying = false
	}
	for i := range p.Inkwell {
		p.Inkwell[i].Exerted = false
		p.Inkwell[i].FaceUp = false
	}
	p.InkReady = p.InkTotal

	m.logAction("Draw step", true)
	e.internalDraw(p)

	e.logger.Debug("turn passed",
		zap.Int("turn", m.Turn),
		zap.Int("active_player", m.ActivePlayer),
	)
	return true
}

// ShuffleDeck randomizes a player's deck.
func (e *Engine) ShuffleDeck(m *MatchState, side Side) bool {
	p := &m.Players[m.PlayerFor(side)]
	if len(p.Deck) < 2 {
		return false
	}
	e.save(m)

	e.shuffle(p.Deck)
	m.logAction(fmt.Sprintf("%s shuffled their deck.", p.Name), false)
	return true
}

// ReorderDeck rearranges a deck to the given instance order, which must be a
// permutation of the current deck.
func (e *Engine) ReorderDeck(m *MatchState, side Side, order []string) bool {
	p := &m.Players[m.PlayerFor(side)]
	if len(order) != len(p.Deck) || len(order) == 0 {
		return false
	}
	byID := make(map[string]CardInstance, len(p.Deck))
	for _, c := range p.Deck {
		byID[c.InstanceID] = c
	}
	next := make([]CardInstance, 0, len(order))
	unchanged := true
	for i, id := range order {
		c, ok := byID[id]
		if !ok {
			return false
		}
		delete(byID, id)
		next = append(next, c)
		if p.Deck[i].InstanceID != id {
			unchanged = false
		}
	}
	if unchanged {
		return false
	}
	e.save(m)

	p.Deck = next
	m.logAction(fmt.Sprintf("%s rearranged their deck.", p.Name), false)
	return true
}

// Mulligan puts the selected hand cards back, draws as many replacements and
// shuffles the deck.
func (e *Engine) Mulligan(m *MatchState, side Side, instanceIDs []string) bool {
	p := &m.Players[m.PlayerFor(side)]
	selected := make(map[string]bool, len(instanceIDs))
	for _, id := range instanceIDs {
		selected[id] = true
	}
	count := 0
	for _, c := range p.Hand {
		if selected[c.InstanceID] {
			count++
		}
	}
	if count == 0 {
		return false
	}
	e.save(m)

	kept := make([]CardInstance, 0, len(p.Hand))
	replaced := make([]CardInstance, 0, count)
	for _, c := range p.Hand {
		if selected[c.InstanceID] {
			replaced = append(replaced, c)
		} else {
			kept = append(kept, c)
		}
	}
	p.Hand = kept
	for range replaced {
		e.internalDraw(p)
	}
	p.Deck = append(p.Deck, replaced...)
	e.shuffle(p.Deck)
	p.HasMulliganed = true

	m.logAction(fmt.Sprintf("You mulliganed %d cards.", len(replaced)), false)
	return true
}

// UpdateTurnComment stores a note for a turn and player. An empty text
// removes the note.
func (e *Engine) UpdateTurnComment(m *MatchState, turn, playerID int, text string) bool {
	if turn < 1 || !validPlayer(playerID) {
		return false
	}
	key := TurnCommentKey(turn, playerID)
	if m.TurnComments[key] == text {
		return false
	}
	e.save(m)

	if m.TurnComments == nil {
		m.TurnComments = make(map[string]string)
	}
	if text == "" {
		delete(m.TurnComments, key)
	} else {
		m.TurnComments[key] = text
	}
	return true
}

// SetHandReveal shows or hides the inactive player's hand.
func (e *Engine) SetHandReveal(m *MatchState, revealed bool) bool {
	if m.OpponentHandRevealed == revealed {
		return false
	}
	e.save(m)

	m.OpponentHandRevealed = revealed
	if revealed {
		m.logAction("You peeked at the opponent's hand.", true)
	}
	return true
}
