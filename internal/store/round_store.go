package store

import (
	"errors"
	"fmt"

	"github.com/fairdraw/keno-engine/internal/model"
	"github.com/fairdraw/keno-engine/pkg/infra"
)

const (
	roundSequenceKey = "rounds/sequence"
)

var (
	ErrRoundNotFound = errors.New("round not found")
	ErrRoundExists   = errors.New("round already exists")
)

func roundKey(id string) string {
	return fmt.Sprintf("rounds/item/%s", id)
}

// RoundStore persists rounds with conditional state transitions. Transition
// runs its mutate callback inside one store transaction, which is what makes
// Open -> Drawn a single-winner operation under concurrent scheduler fires.
type RoundStore interface {
	Create(round *model.Round) error
	Get(id string) (*model.Round, error)
	NextSequence() (uint64, error)
	Transition(id string, mutate func(*model.Round) error) (*model.Round, error)
	List() ([]*model.Round, error)
}

type roundStore struct {
	store infra.KVStore
	codec infra.Codec
}

// NewRoundStore wraps a KVStore. codec must match the codec the KVStore was
// built with; it is used to decode values returned by List.
func NewRoundStore(store infra.KVStore, codec infra.Codec) RoundStore {
	return &roundStore{store: store, codec: codec}
}

func (s *roundStore) Create(round *model.Round) error {
	if round.ID == "" {
		return errors.New("round id is required")
	}
	var existing model.Round
	return s.store.UpdateAny(roundKey(round.ID), &existing, func(found bool) (any, error) {
		if found {
			return nil, fmt.Errorf("%w: %s", ErrRoundExists, round.ID)
		}
		return round, nil
	})
}

func (s *roundStore) Get(id string) (*model.Round, error) {
	var round model.Round
	found, err := s.store.GetAny(roundKey(id), &round)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrRoundNotFound, id)
	}
	return &round, nil
}

type sequenceCounter struct {
	Next uint64 `json:"next"`
}

// NextSequence allocates the next draw number. Allocation happens inside a
// store transaction, so sequences are unique and gap-free.
func (s *roundStore) NextSequence() (uint64, error) {
	var seq sequenceCounter
	var out uint64
	err := s.store.UpdateAny(roundSequenceKey, &seq, func(found bool) (any, error) {
		if !found {
			seq.Next = 0
		}
		seq.Next++
		out = seq.Next
		return &seq, nil
	})
	return out, err
}

func (s *roundStore) Transition(id string, mutate func(*model.Round) error) (*model.Round, error) {
	var round model.Round
	err := s.store.UpdateAny(roundKey(id), &round, func(found bool) (any, error) {
		if !found {
			return nil, fmt.Errorf("%w: %s", ErrRoundNotFound, id)
		}
		if err := mutate(&round); err != nil {
			return nil, err
		}
		return &round, nil
	})
	if err != nil {
		return nil, err
	}
	return &round, nil
}

func (s *roundStore) List() ([]*model.Round, error) {
	kvs, err := s.store.List("rounds/item/")
	if err != nil {
		return nil, err
	}
	rounds := make([]*model.Round, 0, len(kvs))
	for _, kv := range kvs {
		var round model.Round
		if err := s.codec.Unmarshal(kv.Value, &round); err != nil {
			return nil, fmt.Errorf("decode round %s: %w", kv.Key, err)
		}
		rounds = append(rounds, &round)
	}
	return rounds, nil
}
