package worker

import (
	"context"
	"time"

	"github.com/fairdraw/keno-engine/internal/engine"
	"github.com/fairdraw/keno-engine/pkg/common/logger"
	"github.com/fairdraw/keno-engine/pkg/retry"
)

// Sweeper is the straggler pass: it re-attempts settlement of rounds that
// remained Drawn after their first settlement run. A wager must never sit
// unsettled without observability, so rounds drawn longer than staleAfter ago
// are logged loudly on every sweep.
type Sweeper struct {
	engine     *engine.Engine
	interval   time.Duration
	staleAfter time.Duration

	stop chan struct{}
	done chan struct{}
}

func NewSweeper(eng *engine.Engine, interval, staleAfter time.Duration) *Sweeper {
	return &Sweeper{
		engine:     eng,
		interval:   interval,
		staleAfter: staleAfter,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func (s *Sweeper) Start() {
	go s.run()
}

func (s *Sweeper) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Sweeper) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Sweeper) sweep() {
	rounds, err := s.engine.UnsettledRounds()
	if err != nil {
		logger.Error("sweep: list unsettled rounds failed", "err", err)
		return
	}

	for _, round := range rounds {
		age := time.Since(round.DrawnAt)
		if age > s.staleAfter {
			logger.Error("round drawn long ago still has outstanding wagers",
				"round", round.ID, "sequence", round.Sequence, "age", age)
		}

		roundID := round.ID
		err := retry.Constant(func() error {
			return s.engine.SettleRound(context.Background(), roundID)
		}, 2*time.Second, retry.DefaultMaxAttempts)
		if err != nil {
			logger.Warn("sweep: settlement still failing", "round", roundID, "err", err)
			continue
		}
		logger.Info("sweep: round settled", "round", roundID)
	}
}
