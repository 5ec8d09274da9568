package engine

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/fairdraw/keno-engine/internal/fairness"
	"github.com/fairdraw/keno-engine/internal/ledger"
	"github.com/fairdraw/keno-engine/internal/model"
	"github.com/fairdraw/keno-engine/internal/paytable"
	"github.com/fairdraw/keno-engine/internal/store"
	"github.com/fairdraw/keno-engine/pkg/common/logger"
	"github.com/fairdraw/keno-engine/pkg/common/types"
	"github.com/fairdraw/keno-engine/pkg/events"
	"github.com/fairdraw/keno-engine/pkg/retry"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrRoundNotOpen           = errors.New("round is not open")
	ErrRoundNotDrawn          = errors.New("round is not drawn")
	ErrAlreadyDrawn           = errors.New("round already drawn")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrInvalidWager           = errors.New("invalid wager")
	ErrWagerNotActive         = errors.New("wager is not active")
)

// Config is the round policy: fixed pool and draw sizes plus wager bounds.
type Config struct {
	PoolSize int
	DrawSize int
	MaxSpots int
	MinWager decimal.Decimal
	MaxWager decimal.Decimal
}

func DefaultConfig() Config {
	return Config{
		PoolSize: 80,
		DrawSize: 20,
		MaxSpots: paytable.MaxSpots,
		MinWager: decimal.RequireFromString("0.10"),
		MaxWager: decimal.NewFromInt(100),
	}
}

func (c Config) validate() error {
	if c.PoolSize < 1 {
		return fmt.Errorf("pool size must be >= 1, got %d", c.PoolSize)
	}
	if c.DrawSize < 0 || c.DrawSize > c.PoolSize {
		return fmt.Errorf("draw size %d out of range for pool %d", c.DrawSize, c.PoolSize)
	}
	if c.MaxSpots < 1 || c.MaxSpots > c.PoolSize {
		return fmt.Errorf("max spots %d out of range for pool %d", c.MaxSpots, c.PoolSize)
	}
	if c.MinWager.Sign() <= 0 || c.MaxWager.LessThan(c.MinWager) {
		return fmt.Errorf("wager bounds [%s, %s] are invalid", c.MinWager, c.MaxWager)
	}
	return nil
}

// Engine wires the commitment manager, sampler, paytable, stores and ledger
// into the round lifecycle. All state lives in the injected collaborators;
// the engine itself is safe for concurrent use.
type Engine struct {
	cfg     Config
	rounds  store.RoundStore
	wagers  store.WagerStore
	commits *fairness.Manager
	table   *paytable.Paytable
	ledger  ledger.Ledger
	emitter events.Emitter
	clock   func() time.Time
}

type Option func(*Engine)

func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

func New(cfg Config, rounds store.RoundStore, wagers store.WagerStore, commits *fairness.Manager, table *paytable.Paytable, wallet ledger.Ledger, emitter events.Emitter, opts ...Option) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:     cfg,
		rounds:  rounds,
		wagers:  wagers,
		commits: commits,
		table:   table,
		ledger:  wallet,
		emitter: emitter,
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// RotateCommitment retires the active secret and publishes the digest of its
// replacement. The retired secret is disclosed on the event feed, which makes
// every round drawn under it verifiable by anyone.
func (e *Engine) RotateCommitment() (string, error) {
	prev := e.commits.CurrentDigest()
	digest, err := e.commits.Rotate()
	if err != nil {
		return "", err
	}
	if err := e.emitter.EmitCommitment(digest); err != nil {
		logger.Warn("emit commitment event failed", "err", err)
	}
	if prev != "" {
		secret, err := e.commits.Disclose(prev)
		if err != nil {
			logger.Warn("disclose retired secret failed", "digest", prev, "err", err)
		} else if err := e.emitter.EmitSecretDisclosed(prev, hex.EncodeToString(secret)); err != nil {
			logger.Warn("emit secret disclosed failed", "digest", prev, "err", err)
		}
	}
	logger.Info("commitment rotated", "digest", digest)
	return digest, nil
}

// CurrentDigest returns the commitment published for new rounds.
func (e *Engine) CurrentDigest() string {
	return e.commits.CurrentDigest()
}

// OpenRound starts a new round under the current commitment. The client seed
// and nonce are frozen here; the nonce is the round's draw sequence number.
func (e *Engine) OpenRound(ctx context.Context, clientSeed string) (*model.Round, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	seq, err := e.rounds.NextSequence()
	if err != nil {
		return nil, fmt.Errorf("allocate round sequence: %w", err)
	}
	if clientSeed == "" {
		clientSeed = uuid.NewString()
	}

	round := &model.Round{
		ID:               uuid.NewString(),
		Sequence:         seq,
		ClientSeed:       clientSeed,
		Nonce:            seq,
		PoolSize:         e.cfg.PoolSize,
		DrawSize:         e.cfg.DrawSize,
		CommitmentDigest: e.commits.CurrentDigest(),
		PaytableVersion:  e.table.Version,
		State:            model.RoundOpen,
		OpenedAt:         e.clock(),
	}
	if err := e.rounds.Create(round); err != nil {
		return nil, err
	}

	if err := e.emitter.EmitRoundOpened(round.ID, round.CommitmentDigest); err != nil {
		logger.Warn("emit round opened failed", "round", round.ID, "err", err)
	}
	logger.Info("round opened", "round", round.ID, "sequence", seq, "digest", round.CommitmentDigest)
	return round, nil
}

// GetRound returns the stored round. Numbers are only present once drawn.
func (e *Engine) GetRound(roundID string) (*model.Round, error) {
	return e.rounds.Get(roundID)
}

// Rounds lists every stored round regardless of state.
func (e *Engine) Rounds() ([]*model.Round, error) {
	return e.rounds.List()
}

// PlaceWager validates the ticket, debits the stake and persists the wager.
// Debit and creation are tied by the wager's idempotency key: a crash between
// them leaves a debit the wallet can reconcile against the absent wager, and
// a retried debit is a no-op.
func (e *Engine) PlaceWager(ctx context.Context, roundID, principal string, spots []int, amount decimal.Decimal) (*model.Wager, error) {
	round, err := e.rounds.Get(roundID)
	if err != nil {
		return nil, err
	}
	if round.State != model.RoundOpen {
		return nil, fmt.Errorf("%w: %s is %s", ErrRoundNotOpen, roundID, round.State)
	}
	if err := e.validateWager(spots, amount, round.PoolSize); err != nil {
		return nil, err
	}

	wager := &model.Wager{
		ID:        uuid.NewString(),
		Principal: principal,
		RoundID:   roundID,
		Spots:     normalizeSpots(spots),
		Amount:    amount,
		State:     model.WagerActive,
		PlacedAt:  e.clock(),
	}

	if err := e.ledger.Debit(ctx, principal, amount, debitKey(wager.ID)); err != nil {
		return nil, fmt.Errorf("debit stake: %w", err)
	}
	if err := e.wagers.Create(wager); err != nil {
		// Stake was taken but the ticket was not written; give it back. The
		// reversal is retried in-process, a transient ledger hiccup must not
		// leave the stake to manual reconciliation.
		cerr := retry.Exponential(func() error {
			return e.ledger.Credit(ctx, principal, amount, reversalKey(wager.ID))
		}, retry.ExponentialConfig{
			InitialInterval: 100 * time.Millisecond,
			MaxElapsedTime:  5 * time.Second,
			OnRetry: func(rerr error, next time.Duration) {
				logger.Warn("stake reversal retry", "wager", wager.ID, "next", next, "err", rerr)
			},
		})
		if cerr != nil {
			logger.Error("stake reversal failed", "wager", wager.ID, "principal", principal, "err", cerr)
		}
		return nil, err
	}

	// The round may have been drawn while the ticket was being written. A
	// ticket created after the outcome is known must not stand; the losing
	// side of this race cancels itself and refunds.
	round, err = e.rounds.Get(roundID)
	if err == nil && round.State != model.RoundOpen {
		if _, cerr := e.cancelWager(ctx, roundID, wager.ID); cerr == nil {
			return nil, fmt.Errorf("%w: %s drawn while placing wager", ErrRoundNotOpen, roundID)
		}
	}

	logger.Info("wager placed", "wager", wager.ID, "round", roundID, "principal", principal, "amount", amount)
	return wager, nil
}

// CancelWager refunds an active wager while its round is still open. If
// cancellation races round close, exactly one of cancel and settle wins the
// wager's Active transition; the loser observes a stale state and aborts.
func (e *Engine) CancelWager(ctx context.Context, roundID, wagerID string) (*model.Wager, error) {
	round, err := e.rounds.Get(roundID)
	if err != nil {
		return nil, err
	}
	if round.State != model.RoundOpen {
		return nil, fmt.Errorf("%w: %s is %s", ErrRoundNotOpen, roundID, round.State)
	}
	return e.cancelWager(ctx, roundID, wagerID)
}

// cancelWager refunds the stake, then commits Active -> Cancelled. The credit
// goes first, same ordering as settlement: a failed or interrupted refund
// leaves the wager Active, so a retried cancel re-sends the credit under the
// same idempotency key and the ledger deduplicates it. The reverse ordering
// would strand a Cancelled wager whose stake was never returned.
func (e *Engine) cancelWager(ctx context.Context, roundID, wagerID string) (*model.Wager, error) {
	wager, err := e.wagers.Get(roundID, wagerID)
	if err != nil {
		return nil, err
	}
	if wager.State != model.WagerActive {
		return nil, fmt.Errorf("%w: %s is %s", ErrWagerNotActive, wagerID, wager.State)
	}

	if err := e.ledger.Credit(ctx, wager.Principal, wager.Amount, refundKey(wager.ID)); err != nil {
		logger.Error("refund failed", "wager", wager.ID, "principal", wager.Principal, "err", err)
		return nil, err
	}

	wager, err = e.wagers.Transition(roundID, wagerID, func(w *model.Wager) error {
		if w.State != model.WagerActive {
			return fmt.Errorf("%w: %s is %s", ErrWagerNotActive, wagerID, w.State)
		}
		w.State = model.WagerCancelled
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Info("wager cancelled", "wager", wager.ID, "round", roundID)
	return wager, nil
}

// CancelRound aborts a round that has not been drawn and refunds every active
// wager. The Open -> Cancelled transition commits first, so a wager racing in
// through PlaceWager observes the terminal state and voids itself.
func (e *Engine) CancelRound(ctx context.Context, roundID string) (*model.Round, error) {
	round, err := e.rounds.Transition(roundID, func(r *model.Round) error {
		if r.State != model.RoundOpen {
			return fmt.Errorf("%w: %s -> cancelled", ErrInvalidStateTransition, r.State)
		}
		r.State = model.RoundCancelled
		return nil
	})
	if err != nil {
		return nil, err
	}

	wagers, err := e.wagers.ListByRound(roundID)
	if err != nil {
		return round, fmt.Errorf("list wagers for round %s: %w", roundID, err)
	}
	var merr types.MultiError
	refunded := 0
	for _, w := range wagers {
		if w.State != model.WagerActive {
			continue
		}
		if _, err := e.cancelWager(ctx, roundID, w.ID); err != nil {
			merr.Add(fmt.Errorf("wager %s: %w", w.ID, err))
			continue
		}
		refunded++
	}
	if err := merr.ErrOrNil(); err != nil {
		return round, err
	}

	logger.Info("round cancelled", "round", roundID, "refunded", refunded)
	return round, nil
}

// CloseRound performs the Open -> Drawn transition: exactly one caller draws,
// every concurrent attempt observes ErrAlreadyDrawn. The draw itself is the
// deterministic sampler applied to the round's frozen parameters.
func (e *Engine) CloseRound(ctx context.Context, roundID string) (*model.Round, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	round, err := e.rounds.Transition(roundID, func(r *model.Round) error {
		switch r.State {
		case model.RoundOpen:
		case model.RoundDrawn, model.RoundSettled:
			return fmt.Errorf("%w: %s", ErrAlreadyDrawn, roundID)
		default:
			return fmt.Errorf("%w: %s -> drawn", ErrInvalidStateTransition, r.State)
		}

		secret, err := e.commits.SecretFor(r.CommitmentDigest)
		if err != nil {
			return err
		}
		numbers, err := fairness.Sample(secret, r.ClientSeed, r.Nonce, r.PoolSize, r.DrawSize)
		if err != nil {
			return err
		}
		r.Numbers = numbers
		r.State = model.RoundDrawn
		r.DrawnAt = e.clock()
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := e.emitter.EmitRoundDrawn(round.ID, events.DrawnData{
		Sequence:         round.Sequence,
		CommitmentDigest: round.CommitmentDigest,
		ClientSeed:       round.ClientSeed,
		Nonce:            round.Nonce,
		PoolSize:         round.PoolSize,
		DrawSize:         round.DrawSize,
		Numbers:          round.Numbers,
	}); err != nil {
		logger.Warn("emit round drawn failed", "round", round.ID, "err", err)
	}
	logger.Info("round drawn", "round", round.ID, "sequence", round.Sequence, "numbers", round.Numbers)
	return round, nil
}

func (e *Engine) validateWager(spots []int, amount decimal.Decimal, poolSize int) error {
	if len(spots) < paytable.MinSpots || len(spots) > e.cfg.MaxSpots {
		return fmt.Errorf("%w: %d spots, want %d..%d", ErrInvalidWager, len(spots), paytable.MinSpots, e.cfg.MaxSpots)
	}
	seen := make(map[int]struct{}, len(spots))
	for _, s := range spots {
		if s < 1 || s > poolSize {
			return fmt.Errorf("%w: spot %d outside [1, %d]", ErrInvalidWager, s, poolSize)
		}
		if _, dup := seen[s]; dup {
			return fmt.Errorf("%w: duplicate spot %d", ErrInvalidWager, s)
		}
		seen[s] = struct{}{}
	}
	if amount.LessThan(e.cfg.MinWager) || amount.GreaterThan(e.cfg.MaxWager) {
		return fmt.Errorf("%w: amount %s outside [%s, %s]", ErrInvalidWager, amount, e.cfg.MinWager, e.cfg.MaxWager)
	}
	return nil
}

func normalizeSpots(spots []int) []int {
	out := make([]int, len(spots))
	copy(out, spots)
	slices.Sort(out)
	return out
}

func debitKey(wagerID string) string    { return "wager:" + wagerID + ":debit" }
func reversalKey(wagerID string) string { return "wager:" + wagerID + ":debit-reversal" }
func refundKey(wagerID string) string   { return "wager:" + wagerID + ":refund" }
func payoutKey(wagerID string) string   { return "wager:" + wagerID + ":payout" }
