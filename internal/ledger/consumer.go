package ledger

import (
	"context"
	"fmt"

	"github.com/fairdraw/keno-engine/pkg/common/logger"
	"github.com/fairdraw/keno-engine/pkg/infra"
)

// InstructionConsumer drains ledger instructions off the queue and applies
// them to a local Ledger. It is the receiving end of NATSLedger: in a
// deployment without a wallet service, running one against a MemoryLedger
// gives the engine a working balance store.
type InstructionConsumer struct {
	queue  infra.MessageQueue
	ledger Ledger
	codec  infra.Codec
}

func NewInstructionConsumer(queue infra.MessageQueue, l Ledger) *InstructionConsumer {
	return &InstructionConsumer{
		queue:  queue,
		ledger: l,
		codec:  infra.JSON,
	}
}

// Start attaches the handler to the queue. Consumption runs on the queue's
// own goroutines until Stop.
func (c *InstructionConsumer) Start(ctx context.Context) error {
	return c.queue.Dequeue(infra.LedgerInstructionTopicQueue, func(message []byte) error {
		return c.handle(ctx, message)
	})
}

func (c *InstructionConsumer) Stop() {
	c.queue.Close()
}

// handle applies one instruction. Malformed payloads and unknown types are
// terminal, redelivery cannot make them valid.
func (c *InstructionConsumer) handle(ctx context.Context, message []byte) error {
	var inst Instruction
	if err := c.codec.Unmarshal(message, &inst); err != nil {
		return fmt.Errorf("%w: decode instruction: %v", infra.ErrPermanent, err)
	}

	var err error
	switch inst.Type {
	case InstructionDebit:
		err = c.ledger.Debit(ctx, inst.Principal, inst.Amount, inst.IdempotencyKey)
	case InstructionCredit:
		err = c.ledger.Credit(ctx, inst.Principal, inst.Amount, inst.IdempotencyKey)
	default:
		return fmt.Errorf("%w: unknown instruction type %q", infra.ErrPermanent, inst.Type)
	}
	if err != nil {
		return fmt.Errorf("apply %s for %s: %w", inst.Type, inst.Principal, err)
	}

	logger.Debug("applied ledger instruction", "type", inst.Type, "principal", inst.Principal, "key", inst.IdempotencyKey)
	return nil
}
