package catalog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const cardsSchema = `
CREATE TABLE IF NOT EXISTS cards (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	full_name  TEXT NOT NULL DEFAULT '',
	cost       INTEGER NOT NULL DEFAULT 0,
	card_type  TEXT NOT NULL DEFAULT '',
	strength   INTEGER NOT NULL DEFAULT 0,
	willpower  INTEGER NOT NULL DEFAULT 0,
	lore       INTEGER NOT NULL DEFAULT 0,
	rarity     TEXT NOT NULL DEFAULT '',
	images     JSONB NOT NULL DEFAULT '{}'::jsonb
)`

// EnsureSchema creates the cards table when missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, cardsSchema); err != nil {
		return fmt.Errorf("create cards table: %w", err)
	}
	return nil
}

// Store upserts cards in batches of batchSize inside one transaction per batch.
// It returns the number of cards written.
func Store(ctx context.Context, pool *pgxpool.Pool, cards []Card, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}
	written := 0
	for i := 0; i < len(cards); i += batchSize {
		end := i + batchSize
		if end > len(cards) {
			end = len(cards)
		}

		batch := &pgx.Batch{}
		for _, card := range cards[i:end] {
			images, err := json.Marshal(card.Images)
			if err != nil {
				return written, fmt.Errorf("encode images for %s: %w", card.ID, err)
			}
			if card.Images == nil {
				images = []byte("{}")
			}
			batch.Queue(`
				INSERT INTO cards (id, name, full_name, cost, card_type, strength, willpower, lore, rarity, images)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
				ON CONFLICT (id) DO UPDATE SET
					name = EXCLUDED.name,
					full_name = EXCLUDED.full_name,
					cost = EXCLUDED.cost,
					card_type = EXCLUDED.card_type,
					strength = EXCLUDED.strength,
					willpower = EXCLUDED.willpower,
					lore = EXCLUDED.lore,
					rarity = EXCLUDED.rarity,
					images = EXCLUDED.images`,
				card.ID, card.Name, card.FullName, card.Cost, card.Type,
				card.Strength, card.Willpower, card.Lore, card.Rarity, images,
			)
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return written, fmt.Errorf("begin transaction: %w", err)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			_ = tx.Rollback(ctx)
			return written, fmt.Errorf("insert batch at %d: %w", i, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return written, fmt.Errorf("commit batch at %d: %w", i, err)
		}
		written += end - i
	}
	return written, nil
}

// LoadPostgres reads the whole cards table.
func LoadPostgres(ctx context.Context, pool *pgxpool.Pool) (*Catalog, error) {
	rows, err := pool.Query(ctx, `
		SELECT id, name, full_name, cost, card_type, strength, willpower, lore, rarity, images
		FROM cards
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query cards: %w", err)
	}
	defer rows.Close()

	cards := make([]Card, 0, 2048)
	for rows.Next() {
		var (
			card   Card
			images []byte
		)
		if err := rows.Scan(&card.ID, &card.Name, &card.FullName, &card.Cost, &card.Type,
			&card.Strength, &card.Willpower, &card.Lore, &card.Rarity, &images); err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		if len(images) > 0 {
			if err := json.Unmarshal(images, &card.Images); err != nil {
				return nil, fmt.Errorf("decode images for %s: %w", card.ID, err)
			}
		}
		cards = append(cards, card)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cards: %w", err)
	}
	return New(cards), nil
}
