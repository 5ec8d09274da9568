package kvstore

import (
	"errors"
	"testing"

	"github.com/fairdraw/keno-engine/pkg/infra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func newTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	store, err := NewBadgerStore(t.TempDir(), "test", infra.JSON)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestBadgerStore_SetGet(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Set("greeting", "hello"))
	v, err := store.Get("greeting")
	require.NoError(t, err)
	assert.Equal(t, "hello", v)

	_, err = store.Get("missing")
	assert.ErrorIs(t, err, infra.ErrKeyNotFound)

	_, err = store.Get("")
	assert.ErrorIs(t, err, infra.ErrKeyEmpty)
}

func TestBadgerStore_SetAnyGetAny(t *testing.T) {
	store := newTestStore(t)

	in := record{Name: "a", Count: 3}
	require.NoError(t, store.SetAny("records/a", in))

	var out record
	found, err := store.GetAny("records/a", &out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, in, out)

	found, err = store.GetAny("records/b", &out)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestBadgerStore_UpdateAny_InsertAndMutate(t *testing.T) {
	store := newTestStore(t)

	var cur record
	err := store.UpdateAny("records/a", &cur, func(found bool) (any, error) {
		assert.False(t, found)
		return record{Name: "a", Count: 1}, nil
	})
	require.NoError(t, err)

	err = store.UpdateAny("records/a", &cur, func(found bool) (any, error) {
		require.True(t, found)
		cur.Count++
		return &cur, nil
	})
	require.NoError(t, err)

	var out record
	_, err = store.GetAny("records/a", &out)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Count)
}

func TestBadgerStore_UpdateAny_AbortWritesNothing(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.SetAny("records/a", record{Name: "a", Count: 1}))

	abort := errors.New("state conflict")
	var cur record
	err := store.UpdateAny("records/a", &cur, func(found bool) (any, error) {
		cur.Count = 99
		return nil, abort
	})
	assert.ErrorIs(t, err, abort)

	var out record
	_, err = store.GetAny("records/a", &out)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Count, "aborted update must leave the stored value untouched")
}

func TestBadgerStore_ListByPrefix(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.SetAny("rounds/item/a", record{Name: "a"}))
	require.NoError(t, store.SetAny("rounds/item/b", record{Name: "b"}))
	require.NoError(t, store.SetAny("wagers/x/1", record{Name: "w"}))

	pairs, err := store.List("rounds/item/")
	require.NoError(t, err)
	assert.Len(t, pairs, 2)
}

func TestBadgerStore_Delete(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Set("k", "v"))
	require.NoError(t, store.Delete("k"))

	_, err := store.Get("k")
	assert.ErrorIs(t, err, infra.ErrKeyNotFound)
}
