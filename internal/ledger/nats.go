package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/fairdraw/keno-engine/pkg/common/logger"
	"github.com/fairdraw/keno-engine/pkg/infra"
	"github.com/fairdraw/keno-engine/pkg/retry"
	"github.com/shopspring/decimal"
)

const (
	debitSubject  = infra.LedgerInstructionTopicQueue + ".debit"
	creditSubject = infra.LedgerInstructionTopicQueue + ".credit"
)

// NATSLedger publishes balance instructions to the wallet service over
// JetStream. The idempotency key rides in the Nats-Msg-Id header, so a
// retried publish of the same instruction is deduplicated by the stream and
// the wallet applies it at most once.
type NATSLedger struct {
	queue infra.MessageQueue
	codec infra.Codec
	clock func() time.Time
}

func NewNATSLedger(queue infra.MessageQueue) *NATSLedger {
	return &NATSLedger{
		queue: queue,
		codec: infra.JSON,
		clock: time.Now,
	}
}

func (l *NATSLedger) Debit(ctx context.Context, principal string, amount decimal.Decimal, idempotencyKey string) error {
	return l.publish(ctx, debitSubject, Instruction{
		Type:           InstructionDebit,
		Principal:      principal,
		Amount:         amount,
		IdempotencyKey: idempotencyKey,
		Timestamp:      l.clock().UTC(),
	})
}

func (l *NATSLedger) Credit(ctx context.Context, principal string, amount decimal.Decimal, idempotencyKey string) error {
	return l.publish(ctx, creditSubject, Instruction{
		Type:           InstructionCredit,
		Principal:      principal,
		Amount:         amount,
		IdempotencyKey: idempotencyKey,
		Timestamp:      l.clock().UTC(),
	})
}

func (l *NATSLedger) publish(ctx context.Context, subject string, inst Instruction) error {
	if inst.Amount.Sign() <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, inst.Amount)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := l.codec.Marshal(inst)
	if err != nil {
		return err
	}

	// Publishing the same instruction twice is harmless, the stream dedups
	// on the idempotency key, so transient broker errors are retried here.
	return retry.Exponential(func() error {
		return l.queue.Enqueue(subject, data, &infra.EnqueueOptions{
			IdempotencyKey: inst.IdempotencyKey,
		})
	}, retry.ExponentialConfig{
		InitialInterval: 200 * time.Millisecond,
		MaxElapsedTime:  10 * time.Second,
		OnRetry: func(err error, next time.Duration) {
			logger.Warn("ledger publish retry", "subject", subject, "next", next, "err", err)
		},
	})
}
