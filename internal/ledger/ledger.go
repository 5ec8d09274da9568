package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("amount must be positive")
)

const (
	InstructionDebit  = "debit"
	InstructionCredit = "credit"
)

// Instruction is one balance mutation request sent to the wallet service.
// The idempotency key makes retried sends apply-at-most-once downstream.
type Instruction struct {
	Type           string          `json:"type"`
	Principal      string          `json:"principal"`
	Amount         decimal.Decimal `json:"amount"`
	IdempotencyKey string          `json:"idempotency_key"`
	Reference      string          `json:"reference,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

// Ledger is the wallet collaborator. It is the single writer of monetary
// state; the engine only requests mutations and never reads balances.
type Ledger interface {
	Debit(ctx context.Context, principal string, amount decimal.Decimal, idempotencyKey string) error
	Credit(ctx context.Context, principal string, amount decimal.Decimal, idempotencyKey string) error
}
