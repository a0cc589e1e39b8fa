package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Card types the engine distinguishes.
const (
	TypeCharacter = "Character"
	TypeLocation  = "Location"
	TypeAction    = "Action"
	TypeItem      = "Item"
)

// Card is the static catalog entry for a printed card.
type Card struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	FullName  string            `json:"fullName,omitempty"`
	Cost      int               `json:"cost"`
	Type      string            `json:"type"`
	Strength  int               `json:"strength,omitempty"`
	Willpower int               `json:"willpower,omitempty"`
	Lore      int               `json:"lore,omitempty"`
	Rarity    string            `json:"rarity,omitempty"`
	Images    map[string]string `json:"images,omitempty"`
}

// DisplayName prefers the full printed name.
func (c Card) DisplayName() string {
	if c.FullName != "" {
		return c.FullName
	}
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}

// Catalog is a read-only lookup of cards by id.
type Catalog struct {
	cards  map[string]Card
	byName map[string]string
	order  []string
}

// New builds a catalog. Later duplicates of an id are ignored.
func New(cards []Card) *Catalog {
	c := &Catalog{
		cards:  make(map[string]Card, len(cards)),
		byName: make(map[string]string, len(cards)*2),
		order:  make([]string, 0, len(cards)),
	}
	for _, card := range cards {
		if card.ID == "" {
			continue
		}
		if _, exists := c.cards[card.ID]; exists {
			continue
		}
		c.cards[card.ID] = card
		c.order = append(c.order, card.ID)
		for _, name := range []string{card.FullName, card.Name} {
			key := strings.ToLower(strings.TrimSpace(name))
			if key == "" {
				continue
			}
			if _, taken := c.byName[key]; !taken {
				c.byName[key] = card.ID
			}
		}
	}
	return c
}

// Lookup returns the card for id.
func (c *Catalog) Lookup(id string) (Card, bool) {
	if c == nil {
		return Card{}, false
	}
	card, ok := c.cards[id]
	return card, ok
}

// LookupName resolves a card by its name or full name, case-insensitively.
func (c *Catalog) LookupName(name string) (Card, bool) {
	if c == nil {
		return Card{}, false
	}
	id, ok := c.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Card{}, false
	}
	return c.cards[id], true
}

// Cards returns all cards in load order.
func (c *Catalog) Cards() []Card {
	if c == nil {
		return nil
	}
	out := make([]Card, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.cards[id])
	}
	return out
}

// Len returns the number of cards.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.cards)
}

// cardID accepts both numeric and string ids as found in published card dumps.
type cardID string

func (id *cardID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = cardID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("card id: %w", err)
	}
	*id = cardID(n.String())
	return nil
}

type fileCard struct {
	ID        cardID            `json:"id"`
	Name      string            `json:"name"`
	FullName  string            `json:"fullName"`
	Cost      int               `json:"cost"`
	Type      string            `json:"type"`
	Strength  int               `json:"strength"`
	Willpower int               `json:"willpower"`
	Lore      int               `json:"lore"`
	Rarity    string            `json:"rarity"`
	Images    map[string]string `json:"images"`
}

type fileDump struct {
	Cards []fileCard `json:"cards"`
}

// excludedRarities are alternate printings skipped so lookups by name
// resolve to the standard version.
var excludedRarities = map[string]bool{
	"enchanted": true,
	"promo":     true,
	"special":   true,
}

// Parse decodes a card dump of the form {"cards": [...]}.
func Parse(data []byte) (*Catalog, error) {
	var dump fileDump
	if err := json.Unmarshal(data, &dump); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	cards := make([]Card, 0, len(dump.Cards))
	for _, fc := range dump.Cards {
		if excludedRarities[strings.ToLower(fc.Rarity)] {
			continue
		}
		cards = append(cards, Card{
			ID:        string(fc.ID),
			Name:      fc.Name,
			FullName:  fc.FullName,
			Cost:      fc.Cost,
			Type:      fc.Type,
			Strength:  fc.Strength,
			Willpower: fc.Willpower,
			Lore:      fc.Lore,
			Rarity:    fc.Rarity,
			Images:    fc.Images,
		})
	}
	return New(cards), nil
}

// LoadFile reads a card dump from disk.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return Parse(data)
}
