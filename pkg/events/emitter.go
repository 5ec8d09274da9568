package events

import (
	"encoding/json"
	"time"

	"github.com/fairdraw/keno-engine/pkg/infra"
)

const (
	TypeCommitmentPublished = "commitment_published"
	TypeRoundOpened         = "round_opened"
	TypeRoundDrawn          = "round_drawn"
	TypeRoundSettled        = "round_settled"
	TypeSecretDisclosed     = "secret_disclosed"
)

// RoundEvent is the public verification surface feed: everything a third
// party needs to replay a draw is published here, nothing more. Secrets only
// appear in secret_disclosed events, after rotation.
type RoundEvent struct {
	Type      string `json:"type"`
	RoundID   string `json:"round_id,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// DrawnData is the payload published at round close.
type DrawnData struct {
	Sequence         uint64 `json:"sequence"`
	CommitmentDigest string `json:"commitment_digest"`
	ClientSeed       string `json:"client_seed"`
	Nonce            uint64 `json:"nonce"`
	PoolSize         int    `json:"pool_size"`
	DrawSize         int    `json:"draw_size"`
	Numbers          []int  `json:"numbers"`
}

type Emitter interface {
	EmitCommitment(digest string) error
	EmitRoundOpened(roundID string, digest string) error
	EmitRoundDrawn(roundID string, data DrawnData) error
	EmitRoundSettled(roundID string, settled int) error
	EmitSecretDisclosed(digest string, secret string) error
	Emit(event RoundEvent) error
	Close()
}

type emitter struct {
	queue         infra.MessageQueue
	subjectPrefix string
}

func NewEmitter(queue infra.MessageQueue, subjectPrefix string) Emitter {
	return &emitter{
		queue:         queue,
		subjectPrefix: subjectPrefix,
	}
}

func (e *emitter) EmitCommitment(digest string) error {
	return e.Emit(RoundEvent{
		Type:      TypeCommitmentPublished,
		Data:      map[string]string{"commitment_digest": digest},
		Timestamp: time.Now().UTC().Unix(),
	})
}

func (e *emitter) EmitRoundOpened(roundID string, digest string) error {
	return e.Emit(RoundEvent{
		Type:      TypeRoundOpened,
		RoundID:   roundID,
		Data:      map[string]string{"commitment_digest": digest},
		Timestamp: time.Now().UTC().Unix(),
	})
}

func (e *emitter) EmitRoundDrawn(roundID string, data DrawnData) error {
	return e.Emit(RoundEvent{
		Type:      TypeRoundDrawn,
		RoundID:   roundID,
		Data:      data,
		Timestamp: time.Now().UTC().Unix(),
	})
}

func (e *emitter) EmitRoundSettled(roundID string, settled int) error {
	return e.Emit(RoundEvent{
		Type:      TypeRoundSettled,
		RoundID:   roundID,
		Data:      map[string]int{"settled": settled},
		Timestamp: time.Now().UTC().Unix(),
	})
}

// EmitSecretDisclosed publishes the retired secret so anyone can verify the
// draws made under its digest.
func (e *emitter) EmitSecretDisclosed(digest string, secret string) error {
	return e.Emit(RoundEvent{
		Type:      TypeSecretDisclosed,
		Data:      map[string]string{"commitment_digest": digest, "server_secret": secret},
		Timestamp: time.Now().UTC().Unix(),
	})
}

func (e *emitter) Emit(event RoundEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return e.queue.Enqueue(e.subjectPrefix, data, nil)
}

func (e *emitter) Close() {
	if e.queue != nil {
		e.queue.Close()
	}
}

// NopEmitter discards events; development mode without NATS.
type NopEmitter struct{}

func (NopEmitter) EmitCommitment(string) error              { return nil }
func (NopEmitter) EmitRoundOpened(string, string) error     { return nil }
func (NopEmitter) EmitRoundDrawn(string, DrawnData) error   { return nil }
func (NopEmitter) EmitRoundSettled(string, int) error       { return nil }
func (NopEmitter) EmitSecretDisclosed(string, string) error { return nil }
func (NopEmitter) Emit(RoundEvent) error                    { return nil }
func (NopEmitter) Close()                                   {}
