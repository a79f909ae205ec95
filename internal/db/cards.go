package db

import (
	"context"
	"errors"
	"fmt"

	"party-cards/internal/game"

	"gorm.io/gorm"
)

// LoadCards upserts every card of packs into the cards table.
func LoadCards(conn *gorm.DB, packs []game.Pack) (int, error) {
	if conn == nil {
		return 0, nil
	}
	inserted := 0
	for _, pack := range packs {
		for _, card := range pack.Cards {
			entry := Card{
				ID:    card.ID,
				Pack:  pack.Name,
				Color: string(card.Color),
				Pick:  card.Pick,
				Text:  card.Text,
			}
			if err := conn.Where(Card{ID: entry.ID}).Assign(entry).FirstOrCreate(&entry).Error; err != nil {
				return inserted, err
			}
			inserted++
		}
	}
	return inserted, nil
}

// CardCatalog serves game.Catalog queries from the cards table.
type CardCatalog struct {
	conn *gorm.DB
}

func NewCardCatalog(conn *gorm.DB) (*CardCatalog, error) {
	if conn == nil {
		return nil, errors.New("db connection is nil")
	}
	return &CardCatalog{conn: conn}, nil
}

func (c *CardCatalog) Cards(ctx context.Context, query game.CardQuery) ([]game.Card, error) {
	tx := c.conn.WithContext(ctx).Model(&Card{}).Where("color = ?", string(query.Color))
	if len(query.Packs) > 0 {
		var known int64
		if err := c.conn.WithContext(ctx).Model(&Card{}).
			Where("pack IN ?", query.Packs).
			Distinct("pack").
			Count(&known).Error; err != nil {
			return nil, err
		}
		if int(known) < len(unique(query.Packs)) {
			return nil, fmt.Errorf("%w: %v", game.ErrUnknownPack, query.Packs)
		}
		tx = tx.Where("pack IN ?", query.Packs)
	}
	if query.Color == game.ColorBlack && query.Pick > 0 {
		tx = tx.Where("pick = ?", query.Pick)
	}
	tx = tx.Order("random()")
	if query.Count > 0 {
		tx = tx.Limit(query.Count)
	}
	var rows []Card
	if err := tx.Find(&rows).Error; err != nil {
		return nil, err
	}
	cards := make([]game.Card, 0, len(rows))
	for _, row := range rows {
		cards = append(cards, game.Card{
			ID:    row.ID,
			Color: game.Color(row.Color),
			Text:  row.Text,
			Pack:  row.Pack,
			Pick:  row.Pick,
		})
	}
	return cards, nil
}

func unique(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
