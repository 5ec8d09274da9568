package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/fairdraw/keno-engine/internal/model"
	"github.com/fairdraw/keno-engine/pkg/common/logger"
	"github.com/fairdraw/keno-engine/pkg/common/types"
)

// settleConcurrency bounds parallel wager settlement within one round.
// Different wagers are unrelated resources; each serializes at its own state
// transition.
const settleConcurrency = 8

// SettleRound reconciles every outstanding wager of a drawn round exactly
// once and transitions the round to Settled. The call is idempotent: invoking
// it again, concurrently or after a crash, cannot double-credit a wager.
//
// Two mechanisms carry that guarantee. The ledger credit goes out first,
// keyed by the wager id, so a replayed credit is deduplicated downstream. The
// wager's Active -> Settled transition is a conditional update, so exactly
// one pass records matches and payout; every other pass observes a terminal
// state and moves on.
//
// A failure on one wager never blocks the others. The round only becomes
// Settled when every wager reached a terminal state; otherwise it stays
// Drawn, the per-wager errors are returned, and the sweep retries the
// stragglers.
func (e *Engine) SettleRound(ctx context.Context, roundID string) error {
	round, err := e.rounds.Get(roundID)
	if err != nil {
		return err
	}
	switch round.State {
	case model.RoundSettled:
		return nil
	case model.RoundDrawn:
	default:
		return fmt.Errorf("%w: %s is %s", ErrRoundNotDrawn, roundID, round.State)
	}

	wagers, err := e.wagers.ListByRound(roundID)
	if err != nil {
		return fmt.Errorf("list wagers for round %s: %w", roundID, err)
	}

	var (
		merr    types.MultiError
		settled atomic.Int64
		skipped atomic.Int64
		wg      sync.WaitGroup
		sem     = make(chan struct{}, settleConcurrency)
	)
	for _, wager := range wagers {
		if wager.State != model.WagerActive {
			skipped.Add(1)
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(w *model.Wager) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := e.settleWager(ctx, round, w); err != nil {
				logger.Error("wager settlement failed",
					"wager", w.ID, "round", roundID, "principal", w.Principal, "err", err)
				merr.Add(fmt.Errorf("wager %s: %w", w.ID, err))
				return
			}
			settled.Add(1)
		}(wager)
	}
	wg.Wait()

	if !merr.IsEmpty() {
		// Round stays Drawn; the sweep picks the failed wagers up again.
		logger.Warn("round settlement incomplete",
			"round", roundID, "settled", settled.Load(), "failed", len(merr.Errors))
		return &merr
	}

	_, err = e.rounds.Transition(roundID, func(r *model.Round) error {
		if r.State == model.RoundSettled {
			return nil
		}
		if r.State != model.RoundDrawn {
			return fmt.Errorf("%w: %s -> settled", ErrInvalidStateTransition, r.State)
		}
		r.State = model.RoundSettled
		r.SettledAt = e.clock()
		return nil
	})
	if err != nil {
		return err
	}

	if err := e.emitter.EmitRoundSettled(roundID, int(settled.Load())); err != nil {
		logger.Warn("emit round settled failed", "round", roundID, "err", err)
	}
	logger.Info("round settled",
		"round", roundID, "settled", settled.Load(), "already_terminal", skipped.Load())
	return nil
}

// settleWager computes matches and payout, credits the ledger, then commits
// the wager's terminal state. Credit precedes the state transition on
// purpose: a crash in between is repaired by the retry pass re-sending the
// credit under the same idempotency key, which the ledger ignores.
func (e *Engine) settleWager(ctx context.Context, round *model.Round, wager *model.Wager) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// A ticket written after the outcome became known must not be paid
	// against it. PlaceWager voids such tickets on its own; this is the
	// settlement-side half of that race.
	if !round.DrawnAt.IsZero() && wager.PlacedAt.After(round.DrawnAt) {
		if _, err := e.cancelWager(ctx, round.ID, wager.ID); err != nil {
			// A concurrent pass may have voided it already.
			if errors.Is(err, ErrWagerNotActive) {
				return nil
			}
			return fmt.Errorf("void late wager: %w", err)
		}
		logger.Warn("voided wager placed after draw", "wager", wager.ID, "round", round.ID)
		return nil
	}

	matches := wager.MatchCount(round.Numbers)
	payout, err := e.table.Payout(len(wager.Spots), matches, wager.Amount)
	if err != nil {
		return fmt.Errorf("compute payout: %w", err)
	}

	if payout.Sign() > 0 {
		if err := e.ledger.Credit(ctx, wager.Principal, payout, payoutKey(wager.ID)); err != nil {
			return fmt.Errorf("credit payout %s: %w", payout, err)
		}
	}

	_, err = e.wagers.Transition(round.ID, wager.ID, func(w *model.Wager) error {
		if w.State != model.WagerActive {
			// Another pass already settled it; the credit above was
			// deduplicated by its key. Nothing left to do.
			return errAlreadyTerminal
		}
		w.State = model.WagerSettled
		w.Matches = matches
		w.Payout = payout
		w.SettledAt = e.clock()
		return nil
	})
	if errors.Is(err, errAlreadyTerminal) {
		return nil
	}
	return err
}

var errAlreadyTerminal = errors.New("wager already terminal")

// UnsettledRounds lists rounds stuck in Drawn, oldest first. The sweep uses
// this to re-attempt stragglers and to alert on rounds drawn long ago that
// still carry active wagers.
func (e *Engine) UnsettledRounds() ([]*model.Round, error) {
	rounds, err := e.rounds.List()
	if err != nil {
		return nil, err
	}
	drawn := rounds[:0]
	for _, r := range rounds {
		if r.State == model.RoundDrawn {
			drawn = append(drawn, r)
		}
	}
	sort.Slice(drawn, func(i, j int) bool { return drawn[i].DrawnAt.Before(drawn[j].DrawnAt) })
	return drawn, nil
}
