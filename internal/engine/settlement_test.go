package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fairdraw/keno-engine/internal/fairness"
	"github.com/fairdraw/keno-engine/internal/ledger"
	"github.com/fairdraw/keno-engine/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingLedger delegates to the memory ledger but fails credits whose key
// carries a chosen suffix a configured number of times. Everything else
// passes through.
type failingLedger struct {
	inner ledger.Ledger

	mu             sync.Mutex
	failSuffix     string
	creditFailures int
}

func (f *failingLedger) Debit(ctx context.Context, principal string, amount decimal.Decimal, key string) error {
	return f.inner.Debit(ctx, principal, amount, key)
}

func (f *failingLedger) Credit(ctx context.Context, principal string, amount decimal.Decimal, key string) error {
	f.mu.Lock()
	if f.creditFailures > 0 && strings.HasSuffix(key, f.failSuffix) {
		f.creditFailures--
		f.mu.Unlock()
		return errors.New("ledger unavailable")
	}
	f.mu.Unlock()
	return f.inner.Credit(ctx, principal, amount, key)
}

func (f *failingLedger) failCredits(suffix string, n int) {
	f.mu.Lock()
	f.failSuffix = suffix
	f.creditFailures = n
	f.mu.Unlock()
}

// drawPreview replays the sampler against a still-open round's frozen inputs.
// Tests use it to construct wagers with a known outcome before the draw.
func drawPreview(t *testing.T, h *harness, round *model.Round) []int {
	t.Helper()
	secret, err := h.engine.commits.SecretFor(round.CommitmentDigest)
	require.NoError(t, err)
	numbers, err := fairness.Sample(secret, round.ClientSeed, round.Nonce, round.PoolSize, round.DrawSize)
	require.NoError(t, err)
	return numbers
}

func notDrawn(preview []int, poolSize, count int) []int {
	drawn := make(map[int]bool, len(preview))
	for _, n := range preview {
		drawn[n] = true
	}
	out := make([]int, 0, count)
	for n := 1; n <= poolSize && len(out) < count; n++ {
		if !drawn[n] {
			out = append(out, n)
		}
	}
	return out
}

func TestSettleRound_EachWagerCreditedExactlyOnce(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()

	for _, p := range []string{"alice", "bob", "carol"} {
		h.wallet.Deposit(p, money("100"))
	}

	round, err := h.engine.OpenRound(ctx, "seed")
	require.NoError(t, err)
	preview := drawPreview(t, h, round)

	// One certain winner, one certain loser, one partial hit.
	winner, err := h.engine.PlaceWager(ctx, round.ID, "alice", preview[:5], money("1"))
	require.NoError(t, err)
	loser, err := h.engine.PlaceWager(ctx, round.ID, "bob", notDrawn(preview, round.PoolSize, 5), money("2"))
	require.NoError(t, err)
	partialSpots := append(append([]int{}, preview[:3]...), notDrawn(preview, round.PoolSize, 2)...)
	partial, err := h.engine.PlaceWager(ctx, round.ID, "carol", partialSpots, money("1"))
	require.NoError(t, err)

	_, err = h.engine.CloseRound(ctx, round.ID)
	require.NoError(t, err)

	require.NoError(t, h.engine.SettleRound(ctx, round.ID))
	// Second invocation must be a no-op: no state change, no extra credit.
	require.NoError(t, h.engine.SettleRound(ctx, round.ID))

	got, err := h.engine.GetRound(round.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RoundSettled, got.State)

	w, err := h.wagers.Get(round.ID, winner.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WagerSettled, w.State)
	assert.Equal(t, 5, w.Matches)
	assert.True(t, w.Payout.GreaterThan(decimal.Zero))

	l, err := h.wagers.Get(round.ID, loser.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WagerSettled, l.State)
	assert.Equal(t, 0, l.Matches)
	assert.True(t, l.Payout.IsZero())

	p, err := h.wagers.Get(round.ID, partial.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WagerSettled, p.State)
	assert.Equal(t, 3, p.Matches)

	// Conservation: every balance is the seed minus the stake plus the
	// recorded payout, after two settlement passes.
	assert.True(t, h.wallet.Balance("alice").Equal(money("100").Sub(money("1")).Add(w.Payout)))
	assert.True(t, h.wallet.Balance("bob").Equal(money("98")))
	assert.True(t, h.wallet.Balance("carol").Equal(money("100").Sub(money("1")).Add(p.Payout)))

	// Exactly one payout credit per winning wager was ever applied.
	assert.True(t, h.wallet.Applied("wager:"+winner.ID+":payout"))
	assert.False(t, h.wallet.Applied("wager:"+loser.ID+":payout"), "losing wagers get no credit")
}

func TestSettleRound_ConcurrentInvocations(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()
	h.wallet.Deposit("alice", money("100"))

	round, err := h.engine.OpenRound(ctx, "seed")
	require.NoError(t, err)
	preview := drawPreview(t, h, round)
	w, err := h.engine.PlaceWager(ctx, round.ID, "alice", preview[:5], money("1"))
	require.NoError(t, err)
	_, err = h.engine.CloseRound(ctx, round.ID)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, h.engine.SettleRound(ctx, round.ID))
		}()
	}
	wg.Wait()

	settled, err := h.wagers.Get(round.ID, w.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WagerSettled, settled.State)
	assert.True(t, h.wallet.Balance("alice").Equal(money("99").Add(settled.Payout)),
		"concurrent settlement passes must credit once")
}

func TestSettleRound_FailureIsolationAndRecovery(t *testing.T) {
	var flaky *failingLedger
	h := newHarnessWrapped(t, DefaultConfig(), func(inner ledger.Ledger) ledger.Ledger {
		flaky = &failingLedger{inner: inner}
		return flaky
	})
	ctx := context.Background()
	h.wallet.Deposit("alice", money("100"))
	h.wallet.Deposit("bob", money("100"))

	round, err := h.engine.OpenRound(ctx, "seed")
	require.NoError(t, err)
	preview := drawPreview(t, h, round)

	// Both wagers win, so both need a payout credit at settlement.
	wa, err := h.engine.PlaceWager(ctx, round.ID, "alice", preview[:5], money("1"))
	require.NoError(t, err)
	wb, err := h.engine.PlaceWager(ctx, round.ID, "bob", preview[5:10], money("1"))
	require.NoError(t, err)

	_, err = h.engine.CloseRound(ctx, round.ID)
	require.NoError(t, err)

	// One credit fails; the other wager must still settle, and the round
	// must stay drawn for a retry.
	flaky.failCredits(":payout", 1)
	err = h.engine.SettleRound(ctx, round.ID)
	require.Error(t, err)

	got, err := h.engine.GetRound(round.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RoundDrawn, got.State, "round with unsettled wagers must stay drawn")

	states := map[model.WagerState]int{}
	for _, id := range []string{wa.ID, wb.ID} {
		w, err := h.wagers.Get(round.ID, id)
		require.NoError(t, err)
		states[w.State]++
	}
	assert.Equal(t, 1, states[model.WagerSettled], "the unaffected wager settles despite its sibling's failure")
	assert.Equal(t, 1, states[model.WagerActive])

	unsettled, err := h.engine.UnsettledRounds()
	require.NoError(t, err)
	require.Len(t, unsettled, 1)
	assert.Equal(t, round.ID, unsettled[0].ID)

	// Ledger recovers; the retry completes the round without touching the
	// already-settled wager again.
	require.NoError(t, h.engine.SettleRound(ctx, round.ID))

	got, err = h.engine.GetRound(round.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RoundSettled, got.State)

	for _, tc := range []struct {
		principal string
		wagerID   string
	}{{"alice", wa.ID}, {"bob", wb.ID}} {
		w, err := h.wagers.Get(round.ID, tc.wagerID)
		require.NoError(t, err)
		assert.Equal(t, model.WagerSettled, w.State)
		assert.True(t, h.wallet.Balance(tc.principal).Equal(money("99").Add(w.Payout)))
	}

	unsettled, err = h.engine.UnsettledRounds()
	require.NoError(t, err)
	assert.Empty(t, unsettled)
}

func TestSettleRound_VoidsWagerPlacedAfterDraw(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()
	h.wallet.Deposit("alice", money("100"))

	// Controllable clock so PlacedAt ordering relative to DrawnAt is exact.
	clock := fixedClock(time.Now(), time.Second)
	h.engine.clock = clock

	round, err := h.engine.OpenRound(ctx, "seed")
	require.NoError(t, err)
	preview := drawPreview(t, h, round)

	w, err := h.engine.PlaceWager(ctx, round.ID, "alice", preview[:5], money("1"))
	require.NoError(t, err)

	_, err = h.engine.CloseRound(ctx, round.ID)
	require.NoError(t, err)

	// Forge a ticket that slipped in after the draw: backdate the round's
	// pipeline by writing a wager stamped later than DrawnAt directly.
	late := &model.Wager{
		ID:        "late-ticket",
		Principal: "alice",
		RoundID:   round.ID,
		Spots:     preview[:5],
		Amount:    money("1"),
		State:     model.WagerActive,
		PlacedAt:  clock(),
	}
	require.NoError(t, h.wagers.Create(late))
	require.NoError(t, h.wallet.Debit(ctx, "alice", money("1"), "wager:late-ticket:debit"))

	require.NoError(t, h.engine.SettleRound(ctx, round.ID))

	voided, err := h.wagers.Get(round.ID, late.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WagerCancelled, voided.State, "ticket placed after the draw is voided, not paid")
	assert.True(t, voided.Payout.IsZero())

	honest, err := h.wagers.Get(round.ID, w.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WagerSettled, honest.State)

	// The voided ticket got its stake back and nothing more.
	assert.True(t, h.wallet.Balance("alice").Equal(money("99").Add(honest.Payout)))
}

func TestSettleRound_RequiresDrawnRound(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()

	round, err := h.engine.OpenRound(ctx, "seed")
	require.NoError(t, err)

	err = h.engine.SettleRound(ctx, round.ID)
	assert.ErrorIs(t, err, ErrRoundNotDrawn)
}

func TestSettleRound_EmptyRound(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()

	round, err := h.engine.OpenRound(ctx, "seed")
	require.NoError(t, err)
	_, err = h.engine.CloseRound(ctx, round.ID)
	require.NoError(t, err)

	require.NoError(t, h.engine.SettleRound(ctx, round.ID))
	got, err := h.engine.GetRound(round.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RoundSettled, got.State)
}
