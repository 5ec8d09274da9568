package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type WagerState string

const (
	WagerActive    WagerState = "active"
	WagerSettled   WagerState = "settled"
	WagerCancelled WagerState = "cancelled"
)

// Wager is a single ticket: chosen spots, an amount and a round reference.
// Matches and Payout are written exactly once, by settlement.
type Wager struct {
	ID        string          `json:"id"`
	Principal string          `json:"principal"`
	RoundID   string          `json:"round_id"`
	Spots     []int           `json:"spots"`
	Amount    decimal.Decimal `json:"amount"`
	State     WagerState      `json:"state"`
	Matches   int             `json:"matches"`
	Payout    decimal.Decimal `json:"payout"`
	PlacedAt  time.Time       `json:"placed_at"`
	SettledAt time.Time       `json:"settled_at,omitempty"`
}

// MatchCount is the intersection cardinality of the wager's spots and the
// drawn numbers.
func (w *Wager) MatchCount(numbers []int) int {
	drawn := make(map[int]struct{}, len(numbers))
	for _, n := range numbers {
		drawn[n] = struct{}{}
	}
	matches := 0
	for _, s := range w.Spots {
		if _, ok := drawn[s]; ok {
			matches++
		}
	}
	return matches
}
