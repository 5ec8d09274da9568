package engine

import (
	"errors"
	"fmt"

	"github.com/fairdraw/keno-engine/internal/fairness"
	"github.com/fairdraw/keno-engine/internal/model"
)

var ErrRoundNotVerifiable = errors.New("round has no outcome yet")

// Proof is everything a third party needs to independently replay a round:
// the published commitment, the frozen parameters, the outcome, and the
// disclosed secret once the commitment has been rotated out.
type Proof struct {
	RoundID          string `json:"round_id"`
	Sequence         uint64 `json:"sequence"`
	CommitmentDigest string `json:"commitment_digest"`
	ClientSeed       string `json:"client_seed"`
	Nonce            uint64 `json:"nonce"`
	PoolSize         int    `json:"pool_size"`
	DrawSize         int    `json:"draw_size"`
	Numbers          []int  `json:"numbers"`
	DisclosedSecret  []byte `json:"disclosed_secret,omitempty"`
}

// Proof assembles the public verification record for a drawn or settled
// round. The secret is included only when disclosable, i.e. after the
// commitment it belongs to has been superseded.
func (e *Engine) Proof(roundID string) (*Proof, error) {
	round, err := e.rounds.Get(roundID)
	if err != nil {
		return nil, err
	}
	if round.State != model.RoundDrawn && round.State != model.RoundSettled {
		return nil, fmt.Errorf("%w: %s is %s", ErrRoundNotVerifiable, roundID, round.State)
	}

	proof := &Proof{
		RoundID:          round.ID,
		Sequence:         round.Sequence,
		CommitmentDigest: round.CommitmentDigest,
		ClientSeed:       round.ClientSeed,
		Nonce:            round.Nonce,
		PoolSize:         round.PoolSize,
		DrawSize:         round.DrawSize,
		Numbers:          round.Numbers,
	}
	if secret, err := e.commits.Disclose(round.CommitmentDigest); err == nil {
		proof.DisclosedSecret = secret
	}
	return proof, nil
}

// VerifyProof replays the draw from the proof's disclosed values. It never
// errors on a bad proof; a proof that cannot be replayed is simply not valid.
func VerifyProof(p *Proof) bool {
	if p == nil || len(p.DisclosedSecret) == 0 {
		return false
	}
	return fairness.Verify(p.DisclosedSecret, p.ClientSeed, p.Nonce, p.PoolSize, p.DrawSize, p.Numbers, p.CommitmentDigest)
}
