package events

import (
	"encoding/json"
	"testing"

	"github.com/fairdraw/keno-engine/pkg/infra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureQueue struct {
	topics   []string
	payloads [][]byte
	closed   bool
}

func (q *captureQueue) Enqueue(topic string, message []byte, _ *infra.EnqueueOptions) error {
	q.topics = append(q.topics, topic)
	q.payloads = append(q.payloads, message)
	return nil
}

func (q *captureQueue) Dequeue(string, func([]byte) error) error { return nil }
func (q *captureQueue) Close()                                   { q.closed = true }

func TestEmitter_RoundDrawnPayload(t *testing.T) {
	q := &captureQueue{}
	e := NewEmitter(q, "draw.rounds")

	data := DrawnData{
		Sequence:         42,
		CommitmentDigest: "abc",
		ClientSeed:       "seed",
		Nonce:            42,
		PoolSize:         80,
		DrawSize:         20,
		Numbers:          []int{1, 2, 3},
	}
	require.NoError(t, e.EmitRoundDrawn("r-1", data))

	require.Len(t, q.payloads, 1)
	assert.Equal(t, "draw.rounds", q.topics[0])

	var event struct {
		Type    string    `json:"type"`
		RoundID string    `json:"round_id"`
		Data    DrawnData `json:"data"`
	}
	require.NoError(t, json.Unmarshal(q.payloads[0], &event))
	assert.Equal(t, TypeRoundDrawn, event.Type)
	assert.Equal(t, "r-1", event.RoundID)
	assert.Equal(t, data, event.Data)
}

func TestEmitter_EventTypes(t *testing.T) {
	q := &captureQueue{}
	e := NewEmitter(q, "draw.rounds")

	require.NoError(t, e.EmitCommitment("digest"))
	require.NoError(t, e.EmitRoundOpened("r-1", "digest"))
	require.NoError(t, e.EmitRoundSettled("r-1", 3))
	require.NoError(t, e.EmitSecretDisclosed("digest", "secret"))

	require.Len(t, q.payloads, 4)
	for i, want := range []string{TypeCommitmentPublished, TypeRoundOpened, TypeRoundSettled, TypeSecretDisclosed} {
		var event RoundEvent
		require.NoError(t, json.Unmarshal(q.payloads[i], &event))
		assert.Equal(t, want, event.Type)
		assert.NotZero(t, event.Timestamp)
	}
}

func TestEmitter_SecretDisclosedCarriesSecret(t *testing.T) {
	q := &captureQueue{}
	e := NewEmitter(q, "draw.rounds")

	require.NoError(t, e.EmitSecretDisclosed("digest-1", "secret-1"))

	var event struct {
		Type string            `json:"type"`
		Data map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(q.payloads[0], &event))
	assert.Equal(t, TypeSecretDisclosed, event.Type)
	assert.Equal(t, "digest-1", event.Data["commitment_digest"])
	assert.Equal(t, "secret-1", event.Data["server_secret"])
}

func TestEmitter_Close(t *testing.T) {
	q := &captureQueue{}
	NewEmitter(q, "draw.rounds").Close()
	assert.True(t, q.closed)
}
