package store

import (
	"fmt"

	"github.com/fairdraw/keno-engine/internal/fairness"
	"github.com/fairdraw/keno-engine/pkg/infra"
)

func commitmentKey(digest string) string {
	return fmt.Sprintf("commitments/%s", digest)
}

// CommitmentStore is the durable history of retired server secrets. Records
// are retained for the audit retention period so any past round stays
// verifiable. Implements fairness.HistoryStore.
type CommitmentStore struct {
	store infra.KVStore
	codec infra.Codec
}

func NewCommitmentStore(store infra.KVStore, codec infra.Codec) *CommitmentStore {
	return &CommitmentStore{store: store, codec: codec}
}

func (s *CommitmentStore) SaveSecret(rec fairness.SecretRecord) error {
	if rec.Digest == "" {
		return fmt.Errorf("commitment digest is required")
	}
	return s.store.SetAny(commitmentKey(rec.Digest), rec)
}

func (s *CommitmentStore) GetSecret(digest string) (*fairness.SecretRecord, bool, error) {
	var rec fairness.SecretRecord
	found, err := s.store.GetAny(commitmentKey(digest), &rec)
	if err != nil || !found {
		return nil, false, err
	}
	return &rec, true, nil
}

func (s *CommitmentStore) List() ([]*fairness.SecretRecord, error) {
	kvs, err := s.store.List("commitments/")
	if err != nil {
		return nil, err
	}
	records := make([]*fairness.SecretRecord, 0, len(kvs))
	for _, kv := range kvs {
		var rec fairness.SecretRecord
		if err := s.codec.Unmarshal(kv.Value, &rec); err != nil {
			return nil, fmt.Errorf("decode commitment %s: %w", kv.Key, err)
		}
		records = append(records, &rec)
	}
	return records, nil
}
