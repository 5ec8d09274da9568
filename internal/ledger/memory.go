package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// MemoryLedger is an in-process wallet with the same idempotency contract as
// the real service: an instruction key already applied is a no-op. Used in
// development mode and as the test double for settlement.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
	applied  map[string]struct{}
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		balances: make(map[string]decimal.Decimal),
		applied:  make(map[string]struct{}),
	}
}

// Deposit seeds a balance outside the debit/credit contract.
func (l *MemoryLedger) Deposit(principal string, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[principal] = l.balance(principal).Add(amount)
}

func (l *MemoryLedger) Debit(ctx context.Context, principal string, amount decimal.Decimal, idempotencyKey string) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, done := l.applied[idempotencyKey]; done {
		return nil
	}
	balance := l.balance(principal)
	if balance.LessThan(amount) {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientFunds, principal, balance, amount)
	}
	l.balances[principal] = balance.Sub(amount)
	l.applied[idempotencyKey] = struct{}{}
	return nil
}

func (l *MemoryLedger) Credit(ctx context.Context, principal string, amount decimal.Decimal, idempotencyKey string) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, done := l.applied[idempotencyKey]; done {
		return nil
	}
	l.balances[principal] = l.balance(principal).Add(amount)
	l.applied[idempotencyKey] = struct{}{}
	return nil
}

func (l *MemoryLedger) Balance(principal string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance(principal)
}

// Applied reports whether an idempotency key has been consumed.
func (l *MemoryLedger) Applied(idempotencyKey string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.applied[idempotencyKey]
	return ok
}

// AppliedCount is the number of distinct instructions applied.
func (l *MemoryLedger) AppliedCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.applied)
}

func (l *MemoryLedger) balance(principal string) decimal.Decimal {
	if b, ok := l.balances[principal]; ok {
		return b
	}
	return decimal.Zero
}
