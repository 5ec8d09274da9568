package worker

import (
	"context"
	"errors"
	"time"

	"github.com/fairdraw/keno-engine/internal/engine"
	"github.com/fairdraw/keno-engine/pkg/common/logger"
)

// Runner drives the round cadence: open a round, keep it open for the wager
// window, close it (draw), settle it, repeat. Closing is guarded by the
// engine's draw-once transition, so overlapping runners are harmless.
type Runner struct {
	engine   *engine.Engine
	interval time.Duration
	rotate   time.Duration

	stop chan struct{}
	done chan struct{}
}

func NewRunner(eng *engine.Engine, roundInterval, rotateInterval time.Duration) *Runner {
	return &Runner{
		engine:   eng,
		interval: roundInterval,
		rotate:   rotateInterval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (r *Runner) Start() {
	go r.run()
}

func (r *Runner) Stop() {
	close(r.stop)
	<-r.done
}

func (r *Runner) run() {
	defer close(r.done)

	lastRotation := time.Now()
	for {
		select {
		case <-r.stop:
			return
		default:
		}

		if r.rotate > 0 && time.Since(lastRotation) >= r.rotate {
			if _, err := r.engine.RotateCommitment(); err != nil {
				// Without fresh entropy no new round may open.
				logger.Error("commitment rotation failed, pausing round cadence", "err", err)
				if !r.sleep(r.interval) {
					return
				}
				continue
			}
			lastRotation = time.Now()
		}

		r.runRound()

		if !r.sleep(r.interval / 4) {
			return
		}
	}
}

// runRound executes one full cycle. Settlement failures are logged and left
// to the sweeper; the cadence moves on.
func (r *Runner) runRound() {
	ctx := context.Background()

	round, err := r.engine.OpenRound(ctx, "")
	if err != nil {
		logger.Error("open round failed", "err", err)
		return
	}

	if !r.sleep(r.interval) {
		return
	}

	if _, err := r.engine.CloseRound(ctx, round.ID); err != nil {
		if errors.Is(err, engine.ErrAlreadyDrawn) {
			logger.Debug("round already drawn", "round", round.ID)
		} else {
			logger.Error("close round failed", "round", round.ID, "err", err)
			return
		}
	}

	if err := r.engine.SettleRound(ctx, round.ID); err != nil {
		logger.Warn("settlement left stragglers for sweep", "round", round.ID, "err", err)
	}
}

func (r *Runner) sleep(d time.Duration) bool {
	select {
	case <-r.stop:
		return false
	case <-time.After(d):
		return true
	}
}
