package model

import "time"

type RoundState string

const (
	RoundOpen      RoundState = "open"
	RoundDrawn     RoundState = "drawn"
	RoundSettled   RoundState = "settled"
	RoundCancelled RoundState = "cancelled"
)

// Round is one draw cycle. Numbers is populated exactly once, at the
// Open -> Drawn transition, and is never observable before that.
type Round struct {
	ID               string     `json:"id"`
	Sequence         uint64     `json:"sequence"`
	ClientSeed       string     `json:"client_seed"`
	Nonce            uint64     `json:"nonce"`
	PoolSize         int        `json:"pool_size"`
	DrawSize         int        `json:"draw_size"`
	CommitmentDigest string     `json:"commitment_digest"`
	PaytableVersion  string     `json:"paytable_version"`
	Numbers          []int      `json:"numbers,omitempty"`
	State            RoundState `json:"state"`
	OpenedAt         time.Time  `json:"opened_at"`
	DrawnAt          time.Time  `json:"drawn_at,omitempty"`
	SettledAt        time.Time  `json:"settled_at,omitempty"`
}
