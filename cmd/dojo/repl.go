package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/heavenideas/dojo-server-go/internal/game"
	"github.com/heavenideas/dojo-server-go/internal/session"
	"github.com/heavenideas/dojo-server-go/internal/timeline"
)

var (
	errUsage   = errors.New("usage")
	errNoMatch = errors.New("no card matches")
)

type command struct {
	usage string
	run   func(r *repl, args []string) error
}

// repl drives a MatchSession from text commands. Card ids may be given as
// any unique prefix of an instance id.
type repl struct {
	sess  *session.MatchSession
	cards game.CardLookup
	seat  int
	out   io.Writer
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"draw":      {"draw [active|inactive]", cmdDraw},
		"play":      {"play <card>", cmdPlay},
		"ink":       {"ink <card>", cmdInk},
		"exert":     {"exert <card>", cmdExert},
		"exertink":  {"exertink", cmdExertInk},
		"quest":     {"quest <card>", cmdQuest},
		"questall":  {"questall", cmdQuestAll},
		"damage":    {"damage <card> <amount>", cmdDamage},
		"lore":      {"lore <active|inactive> <amount>", cmdLore},
		"challenge": {"challenge <attacker> <defender>", cmdChallenge},
		"banish":    {"banish <card>", cmdBanish},
		"return":    {"return <card>", cmdReturn},
		"move":      {"move <card> <zone> [active|inactive] [top|bottom]", cmdMove},
		"locate":    {"locate <character> <location>", cmdLocate},
		"shift":     {"shift <card> <target>", cmdShift},
		"slide":     {"slide <target>", cmdSlide},
		"unstack":   {"unstack <target>", cmdUnstack},
		"end":       {"end", cmdEnd},
		"shuffle":   {"shuffle [active|inactive]", cmdShuffle},
		"reorder":   {"reorder <active|inactive> <card>...", cmdReorder},
		"mulligan":  {"mulligan <active|inactive> <card>...", cmdMulligan},
		"comment":   {"comment <turn> <1|2> <text>", cmdComment},
		"reveal":    {"reveal <on|off>", cmdReveal},
		"undo":      {"undo", cmdUndo},
		"save":      {"save [name]", cmdSave},
		"restore":   {"restore <bookmark|autosave>", cmdRestore},
		"rename":    {"rename <bookmark> <name>", cmdRename},
		"forget":    {"forget <bookmark|autosave>", cmdForget},
		"board":     {"board", cmdBoard},
		"tree":      {"tree", cmdTree},
		"log":       {"log [lines]", cmdLog},
	}
}

// run reads commands until EOF or quit.
func (r *repl) run(in io.Reader) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprint(r.out, "dojo> ")
	for scanner.Scan() {
		quit, err := r.exec(scanner.Text())
		if err != nil {
			fmt.Fprintf(r.out, "error: %v\n", err)
		}
		if quit {
			return nil
		}
		fmt.Fprint(r.out, "dojo> ")
	}
	return scanner.Err()
}

// exec runs one command line and reports whether the loop should stop.
func (r *repl) exec(line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	name := strings.ToLower(fields[0])
	switch name {
	case "quit", "exit":
		return true, nil
	case "help":
		r.help()
		return false, nil
	}
	cmd, ok := commands[name]
	if !ok {
		return false, fmt.Errorf("unknown command %q, try help", name)
	}
	if err := cmd.run(r, fields[1:]); err != nil {
		if errors.Is(err, errUsage) {
			return false, fmt.Errorf("usage: %s", cmd.usage)
		}
		return false, err
	}
	return false, nil
}

func (r *repl) help() {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(r.out, "  %s\n", commands[name].usage)
	}
	fmt.Fprintln(r.out, "  quit")
}

// apply runs op and reports a no-op.
func (r *repl) apply(description string, op func(e *game.Engine, m *game.MatchState) bool) error {
	if !r.sess.Do(description, op) {
		fmt.Fprintln(r.out, "nothing changed")
	}
	return nil
}

// resolve expands a unique instance id prefix across both boards.
func (r *repl) resolve(prefix string) (string, error) {
	m := r.sess.State()
	var found []string
	for _, p := range m.Players {
		for _, z := range []game.Zone{game.ZoneHand, game.ZoneField, game.ZoneInkwell, game.ZoneDiscard, game.ZoneDeck} {
			for _, c := range *p.Cards(z) {
				if c.InstanceID == prefix {
					return prefix, nil
				}
				if strings.HasPrefix(c.InstanceID, prefix) {
					found = append(found, c.InstanceID)
				}
			}
		}
	}
	switch len(found) {
	case 0:
		return "", fmt.Errorf("%w %q", errNoMatch, prefix)
	case 1:
		return found[0], nil
	default:
		return "", fmt.Errorf("%q matches %d cards", prefix, len(found))
	}
}

func (r *repl) resolveAll(prefixes []string) ([]string, error) {
	ids := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		id, err := r.resolve(p)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parseSide(s string) (game.Side, error) {
	switch strings.ToLower(s) {
	case "active", "a", "me":
		return game.SideActive, nil
	case "inactive", "i", "opponent":
		return game.SideInactive, nil
	default:
		return 0, fmt.Errorf("unknown side %q", s)
	}
}

func optionalSide(args []string) (game.Side, error) {
	if len(args) == 0 {
		return game.SideActive, nil
	}
	return parseSide(args[0])
}

func oneCard(r *repl, args []string) (string, error) {
	if len(args) != 1 {
		return "", errUsage
	}
	return r.resolve(args[0])
}

func twoCards(r *repl, args []string) (string, string, error) {
	if len(args) != 2 {
		return "", "", errUsage
	}
	a, err := r.resolve(args[0])
	if err != nil {
		return "", "", err
	}
	b, err := r.resolve(args[1])
	if err != nil {
		return "", "", err
	}
	return a, b, nil
}

func cmdDraw(r *repl, args []string) error {
	side, err := optionalSide(args)
	if err != nil {
		return err
	}
	return r.apply("draw", func(e *game.Engine, m *game.MatchState) bool {
		return e.Draw(m, side)
	})
}

func cmdPlay(r *repl, args []string) error {
	id, err := oneCard(r, args)
	if err != nil {
		return err
	}
	return r.apply("play", func(e *game.Engine, m *game.MatchState) bool {
		return e.PlayCard(m, id)
	})
}

func cmdInk(r *repl, args []string) error {
	id, err := oneCard(r, args)
	if err != nil {
		return err
	}
	return r.apply("ink", func(e *game.Engine, m *game.MatchState) bool {
		return e.PlayToInkwell(m, id)
	})
}

func cmdExert(r *repl, args []string) error {
	id, err := oneCard(r, args)
	if err != nil {
		return err
	}
	return r.apply("exert", func(e *game.Engine, m *game.MatchState) bool {
		return e.ToggleExert(m, id)
	})
}

func cmdExertInk(r *repl, args []string) error {
	return r.apply("exert ink", func(e *game.Engine, m *game.MatchState) bool {
		return e.ExertInk(m)
	})
}

func cmdQuest(r *repl, args []string) error {
	id, err := oneCard(r, args)
	if err != nil {
		return err
	}
	return r.apply("quest", func(e *game.Engine, m *game.MatchState) bool {
		return e.Quest(m, id)
	})
}

func cmdQuestAll(r *repl, args []string) error {
	return r.apply("quest with all", func(e *game.Engine, m *game.MatchState) bool {
		return e.QuestWithAll(m)
	})
}

func cmdDamage(r *repl, args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	id, err := r.resolve(args[0])
	if err != nil {
		return err
	}
	amount, err := strconv.Atoi(args[1])
	if err != nil {
		return errUsage
	}
	return r.apply("damage", func(e *game.Engine, m *game.MatchState) bool {
		return e.AddDamage(m, id, amount)
	})
}

func cmdLore(r *repl, args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	side, err := parseSide(args[0])
	if err != nil {
		return err
	}
	amount, err := strconv.Atoi(args[1])
	if err != nil {
		return errUsage
	}
	return r.apply("lore", func(e *game.Engine, m *game.MatchState) bool {
		return e.ChangeLore(m, side, amount)
	})
}

func cmdChallenge(r *repl, args []string) error {
	attacker, defender, err := twoCards(r, args)
	if err != nil {
		return err
	}
	return r.apply("challenge", func(e *game.Engine, m *game.MatchState) bool {
		return e.Challenge(m, attacker, defender)
	})
}

func cmdBanish(r *repl, args []string) error {
	id, err := oneCard(r, args)
	if err != nil {
		return err
	}
	return r.apply("banish", func(e *game.Engine, m *game.MatchState) bool {
		return e.Banish(m, id)
	})
}

func cmdReturn(r *repl, args []string) error {
	id, err := oneCard(r, args)
	if err != nil {
		return err
	}
	return r.apply("return to hand", func(e *game.Engine, m *game.MatchState) bool {
		return e.ReturnToHand(m, id)
	})
}

func cmdMove(r *repl, args []string) error {
	if len(args) < 2 || len(args) > 4 {
		return errUsage
	}
	id, err := r.resolve(args[0])
	if err != nil {
		return err
	}
	zone, err := game.ParseZone(strings.ToLower(args[1]))
	if err != nil {
		return err
	}
	side, err := optionalSide(args[2:])
	if err != nil {
		return err
	}
	placement := game.DeckTop
	if len(args) == 4 {
		switch game.DeckPlacement(strings.ToLower(args[3])) {
		case game.DeckTop:
		case game.DeckBottom:
			placement = game.DeckBottom
		default:
			return errUsage
		}
	}
	return r.apply("move", func(e *game.Engine, m *game.MatchState) bool {
		return e.MoveCard(m, id, zone, side, placement)
	})
}

func cmdLocate(r *repl, args []string) error {
	character, location, err := twoCards(r, args)
	if err != nil {
		return err
	}
	return r.apply("move to location", func(e *game.Engine, m *game.MatchState) bool {
		return e.MoveToLocation(m, character, location)
	})
}

func cmdShift(r *repl, args []string) error {
	dragged, target, err := twoCards(r, args)
	if err != nil {
		return err
	}
	return r.apply("shift", func(e *game.Engine, m *game.MatchState) bool {
		return e.ShiftOnto(m, dragged, target)
	})
}

func cmdSlide(r *repl, args []string) error {
	id, err := oneCard(r, args)
	if err != nil {
		return err
	}
	return r.apply("slide under", func(e *game.Engine, m *game.MatchState) bool {
		return e.SlideUnderFromDeck(m, id)
	})
}

func cmdUnstack(r *repl, args []string) error {
	id, err := oneCard(r, args)
	if err != nil {
		return err
	}
	return r.apply("unstack", func(e *game.Engine, m *game.MatchState) bool {
		return e.UnstackCards(m, id)
	})
}

func cmdEnd(r *repl, args []string) error {
	if !r.sess.EndTurn() {
		fmt.Fprintln(r.out, "nothing changed")
		return nil
	}
	m := r.sess.State()
	fmt.Fprintf(r.out, "turn %d, %s is active\n", m.Turn, m.Players[m.ActivePlayer].Name)
	return nil
}

func cmdShuffle(r *repl, args []string) error {
	side, err := optionalSide(args)
	if err != nil {
		return err
	}
	return r.apply("shuffle", func(e *game.Engine, m *game.MatchState) bool {
		return e.ShuffleDeck(m, side)
	})
}

func cmdReorder(r *repl, args []string) error {
	if len(args) < 2 {
		return errUsage
	}
	side, err := parseSide(args[0])
	if err != nil {
		return err
	}
	order, err := r.resolveAll(args[1:])
	if err != nil {
		return err
	}
	if !r.sess.ReorderDeck(side, order) {
		fmt.Fprintln(r.out, "nothing changed")
	}
	return nil
}

func cmdMulligan(r *repl, args []string) error {
	if len(args) < 2 {
		return errUsage
	}
	side, err := parseSide(args[0])
	if err != nil {
		return err
	}
	ids, err := r.resolveAll(args[1:])
	if err != nil {
		return err
	}
	return r.apply("mulligan", func(e *game.Engine, m *game.MatchState) bool {
		return e.Mulligan(m, side, ids)
	})
}

func cmdComment(r *repl, args []string) error {
	if len(args) < 3 {
		return errUsage
	}
	turn, err := strconv.Atoi(args[0])
	if err != nil {
		return errUsage
	}
	player, err := strconv.Atoi(args[1])
	if err != nil || (player != 1 && player != 2) {
		return errUsage
	}
	text := strings.Join(args[2:], " ")
	return r.apply("turn comment", func(e *game.Engine, m *game.MatchState) bool {
		return e.UpdateTurnComment(m, turn, player-1, text)
	})
}

func cmdReveal(r *repl, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	var revealed bool
	switch strings.ToLower(args[0]) {
	case "on":
		revealed = true
	case "off":
	default:
		return errUsage
	}
	return r.apply("hand reveal", func(e *game.Engine, m *game.MatchState) bool {
		return e.SetHandReveal(m, revealed)
	})
}

func cmdUndo(r *repl, args []string) error {
	if !r.sess.Undo() {
		fmt.Fprintln(r.out, "nothing to undo")
	}
	return nil
}

func cmdSave(r *repl, args []string) error {
	b, err := r.sess.SaveTimeline(strings.Join(args, " "), "")
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "saved %s (%s)\n", b.Name, b.ID)
	return nil
}

// findNode resolves a bookmark or autosave id prefix.
func (r *repl) findNode(prefix string) (string, bool, error) {
	tree := r.sess.Timeline()
	var ids []string
	var autos []bool
	for _, b := range tree.Bookmarks() {
		if strings.HasPrefix(b.ID, prefix) {
			ids, autos = append(ids, b.ID), append(autos, false)
		}
	}
	for _, a := range tree.AutoSaves() {
		if strings.HasPrefix(a.ID, prefix) {
			ids, autos = append(ids, a.ID), append(autos, true)
		}
	}
	switch len(ids) {
	case 0:
		return "", false, fmt.Errorf("%w: %s", timeline.ErrNotFound, prefix)
	case 1:
		return ids[0], autos[0], nil
	default:
		return "", false, fmt.Errorf("%q matches %d timeline entries", prefix, len(ids))
	}
}

func cmdRestore(r *repl, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	id, isAuto, err := r.findNode(args[0])
	if err != nil {
		return err
	}
	if err := r.sess.RestoreTimeline(id, isAuto); err != nil {
		return err
	}
	m := r.sess.State()
	fmt.Fprintf(r.out, "restored turn %d\n", m.Turn)
	return nil
}

func cmdRename(r *repl, args []string) error {
	if len(args) < 2 {
		return errUsage
	}
	id, isAuto, err := r.findNode(args[0])
	if err != nil {
		return err
	}
	if isAuto {
		return errors.New("autosaves cannot be renamed")
	}
	b, _ := r.sess.Timeline().Get(id)
	comment := ""
	if b != nil {
		comment = b.Comment
	}
	return r.sess.EditTimeline(id, strings.Join(args[1:], " "), comment)
}

func cmdForget(r *repl, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	id, isAuto, err := r.findNode(args[0])
	if err != nil {
		return err
	}
	return r.sess.DeleteTimeline(id, isAuto)
}

func cmdBoard(r *repl, args []string) error {
	printBoard(r.out, r.sess.State(), r.cards, r.seat)
	return nil
}

func cmdTree(r *repl, args []string) error {
	printTree(r.out, r.sess.Timeline(), r.sess.State().ActiveBookmarkID)
	return nil
}

func cmdLog(r *repl, args []string) error {
	n := 10
	if len(args) == 1 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v <= 0 {
			return errUsage
		}
		n = v
	}
	entries := r.sess.CurrentLog()
	if len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	for _, e := range entries {
		fmt.Fprintln(r.out, e.Text)
	}
	return nil
}
