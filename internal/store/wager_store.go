package store

import (
	"errors"
	"fmt"

	"github.com/fairdraw/keno-engine/internal/model"
	"github.com/fairdraw/keno-engine/pkg/infra"
)

var ErrWagerNotFound = errors.New("wager not found")

// Wagers are keyed under their round so one prefix scan enumerates a round's
// tickets.
func wagerKey(roundID, wagerID string) string {
	return fmt.Sprintf("wagers/%s/%s", roundID, wagerID)
}

func wagerPrefix(roundID string) string {
	return fmt.Sprintf("wagers/%s/", roundID)
}

// WagerStore persists wagers. Transition is the settle-once guard: the mutate
// callback observes current state inside a store transaction and aborts the
// write by returning an error, so two concurrent settlement passes cannot
// both move the same wager out of Active.
type WagerStore interface {
	Create(wager *model.Wager) error
	Get(roundID, wagerID string) (*model.Wager, error)
	ListByRound(roundID string) ([]*model.Wager, error)
	Transition(roundID, wagerID string, mutate func(*model.Wager) error) (*model.Wager, error)
	Delete(roundID, wagerID string) error
}

type wagerStore struct {
	store infra.KVStore
	codec infra.Codec
}

func NewWagerStore(store infra.KVStore, codec infra.Codec) WagerStore {
	return &wagerStore{store: store, codec: codec}
}

func (s *wagerStore) Create(wager *model.Wager) error {
	if wager.ID == "" || wager.RoundID == "" {
		return errors.New("wager id and round id are required")
	}
	var existing model.Wager
	return s.store.UpdateAny(wagerKey(wager.RoundID, wager.ID), &existing, func(found bool) (any, error) {
		if found {
			return nil, fmt.Errorf("wager %s already exists", wager.ID)
		}
		return wager, nil
	})
}

func (s *wagerStore) Get(roundID, wagerID string) (*model.Wager, error) {
	var wager model.Wager
	found, err := s.store.GetAny(wagerKey(roundID, wagerID), &wager)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrWagerNotFound, wagerID)
	}
	return &wager, nil
}

func (s *wagerStore) ListByRound(roundID string) ([]*model.Wager, error) {
	kvs, err := s.store.List(wagerPrefix(roundID))
	if err != nil {
		return nil, err
	}
	wagers := make([]*model.Wager, 0, len(kvs))
	for _, kv := range kvs {
		var wager model.Wager
		if err := s.codec.Unmarshal(kv.Value, &wager); err != nil {
			return nil, fmt.Errorf("decode wager %s: %w", kv.Key, err)
		}
		wagers = append(wagers, &wager)
	}
	return wagers, nil
}

func (s *wagerStore) Transition(roundID, wagerID string, mutate func(*model.Wager) error) (*model.Wager, error) {
	var wager model.Wager
	err := s.store.UpdateAny(wagerKey(roundID, wagerID), &wager, func(found bool) (any, error) {
		if !found {
			return nil, fmt.Errorf("%w: %s", ErrWagerNotFound, wagerID)
		}
		if err := mutate(&wager); err != nil {
			return nil, err
		}
		return &wager, nil
	})
	if err != nil {
		return nil, err
	}
	return &wager, nil
}

func (s *wagerStore) Delete(roundID, wagerID string) error {
	return s.store.Delete(wagerKey(roundID, wagerID))
}
