package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/heavenideas/dojo-server-go/internal/game"
	"github.com/heavenideas/dojo-server-go/internal/timeline"
)

// shortID is how instance and bookmark ids are shown; any unique prefix
// is accepted back.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func cardLabel(c game.CardInstance, cards game.CardLookup) string {
	name := c.CardID
	if cards != nil {
		if info, ok := cards.Lookup(c.CardID); ok {
			name = info.DisplayName()
		}
	}
	var flags []string
	if c.Exerted {
		flags = append(flags, "exerted")
	}
	if c.Drying {
		flags = append(flags, "drying")
	}
	if c.Damage > 0 {
		flags = append(flags, fmt.Sprintf("%d dmg", c.Damage))
	}
	if c.LocationID != "" {
		flags = append(flags, "at "+shortID(c.LocationID))
	}
	if n := len(c.StackedCards); n > 0 {
		flags = append(flags, fmt.Sprintf("+%d under", n))
	}
	label := fmt.Sprintf("[%s] %s", shortID(c.InstanceID), name)
	if len(flags) > 0 {
		label += " (" + strings.Join(flags, ", ") + ")"
	}
	return label
}

func printZone(out io.Writer, title string, list []game.CardInstance, cards game.CardLookup) {
	fmt.Fprintf(out, "  %s (%d):\n", title, len(list))
	for _, c := range list {
		fmt.Fprintf(out, "    %s\n", cardLabel(c, cards))
	}
}

// printBoard shows both players from seat's point of view. The other
// player's hand is listed only while hands are revealed.
func printBoard(out io.Writer, m *game.MatchState, cards game.CardLookup, seat int) {
	fmt.Fprintf(out, "Turn %d, %s active\n", m.Turn, m.Players[m.ActivePlayer].Name)
	for i, p := range m.Players {
		marker := ""
		if i == seat {
			marker = " (you)"
		}
		fmt.Fprintf(out, "%s%s: lore %d, ink %d/%d, deck %d\n",
			p.Name, marker, p.Lore, p.InkReady, p.InkTotal, len(p.Deck))
		if i == seat || m.OpponentHandRevealed {
			printZone(out, "hand", p.Hand, cards)
		} else {
			fmt.Fprintf(out, "  hand (%d): hidden\n", len(p.Hand))
		}
		printZone(out, "field", p.Field, cards)
		fmt.Fprintf(out, "  inkwell (%d)\n", len(p.Inkwell))
		printZone(out, "discard", p.Discard, cards)
	}
}

// printTree lists bookmarks in layout order, indented by depth, then the
// autosaves. The active bookmark is starred.
func printTree(out io.Writer, tree *timeline.Tree, activeID string) {
	bookmarks := tree.Bookmarks()
	layout := tree.Layout()
	sort.SliceStable(bookmarks, func(i, j int) bool {
		a, b := layout[bookmarks[i].ID], layout[bookmarks[j].ID]
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.X < b.X
	})

	if len(bookmarks) == 0 {
		fmt.Fprintln(out, "no bookmarks")
	}
	for _, b := range bookmarks {
		depth := int(layout[b.ID].X / timeline.XSpacing)
		marker := " "
		if b.ID == activeID {
			marker = "*"
		}
		line := fmt.Sprintf("%s %s[%s] %s  %s", marker, strings.Repeat("  ", depth), shortID(b.ID), b.Name, b.Stats)
		if b.Comment != "" {
			line += "  # " + b.Comment
		}
		fmt.Fprintln(out, line)
	}

	autos := tree.AutoSaves()
	if len(autos) > 0 {
		fmt.Fprintln(out, "autosaves:")
		for _, a := range autos {
			fmt.Fprintf(out, "  [%s] %s  %s\n", shortID(a.ID), a.Name, a.Stats)
		}
	}
}
