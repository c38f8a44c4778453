package blobstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewLocalStore(filepath.Join(t.TempDir(), "pub"), nil)

	require.NoError(t, s.Put(ctx, "a.dict", []byte("dict-bytes")))
	require.NoError(t, s.Put(ctx, "a.mf", []byte("manifest")))

	data, err := s.Open(ctx, "a.dict")
	require.NoError(t, err)
	assert.Equal(t, []byte("dict-bytes"), data)

	names, err := s.List(ctx, "a.")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.dict", "a.mf"}, names)

	require.NoError(t, s.Delete(ctx, "a.dict"))
	_, err = s.Open(ctx, "a.dict")
	assert.True(t, errors.Is(err, ErrNotFound) || os.IsNotExist(err))
}

func TestLocalStoreOverwriteAtomic(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := NewLocalStore(dir, nil)

	require.NoError(t, s.Put(ctx, "x", []byte("one")))
	require.NoError(t, s.Put(ctx, "x", []byte("two")))

	data, err := s.Open(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), data)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files leak")
}

func TestLocalStoreMissing(t *testing.T) {
	ctx := context.Background()
	s := NewLocalStore(filepath.Join(t.TempDir(), "nope"), nil)

	assert.NoError(t, s.Delete(ctx, "ghost"))
	names, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Put(ctx, "a", []byte("1")))
	require.NoError(t, s.Put(ctx, "b", []byte("2")))

	_, err := s.Open(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	names, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)

	// Returned data is isolated from the store.
	data, err := s.Open(ctx, "a")
	require.NoError(t, err)
	data[0] = 'X'
	again, err := s.Open(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), again)
}

type failingStore struct{ err error }

func (f *failingStore) Put(context.Context, string, []byte) error { return f.err }
func (f *failingStore) Open(context.Context, string) ([]byte, error) {
	return nil, f.err
}
func (f *failingStore) Delete(context.Context, string) error { return f.err }
func (f *failingStore) List(context.Context, string) ([]string, error) {
	return nil, f.err
}

func TestMultiStoreFanOut(t *testing.T) {
	ctx := context.Background()
	a, b := NewMemoryStore(), NewMemoryStore()
	m := NewMultiStore(a, b)

	require.NoError(t, m.Put(ctx, "d", []byte("payload")))
	assert.Equal(t, 1, a.Len())
	assert.Equal(t, 1, b.Len())

	data, err := m.Open(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)

	require.NoError(t, m.Delete(ctx, "d"))
	assert.Equal(t, 0, a.Len())
	assert.Equal(t, 0, b.Len())
}

func TestMultiStorePropagatesPutError(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	healthy := NewMemoryStore()
	m := NewMultiStore(healthy, &failingStore{err: boom})

	err := m.Put(ctx, "d", []byte("payload"))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, healthy.Len(), "healthy store still receives the write")
}

func TestMultiStoreOpenFallsThrough(t *testing.T) {
	ctx := context.Background()
	empty := NewMemoryStore()
	full := NewMemoryStore()
	require.NoError(t, full.Put(ctx, "d", []byte("v")))

	m := NewMultiStore(empty, full)
	data, err := m.Open(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), data)

	_, err = m.Open(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}
