package blobstore

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// MultiStore fans writes out to several stores in parallel; reads are served
// by the first store that has the blob. Useful for publishing dictionaries
// both locally and to an object store in one step.
type MultiStore struct {
	stores []Store
}

// NewMultiStore combines the given stores. At least one is required.
func NewMultiStore(stores ...Store) *MultiStore {
	return &MultiStore{stores: stores}
}

// Put writes to every store; the first error wins but all writes are
// attempted.
func (m *MultiStore) Put(ctx context.Context, name string, data []byte) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, s := range m.stores {
		g.Go(func() error { return s.Put(ctx, name, data) })
	}
	return g.Wait()
}

// Open returns the blob from the first store that has it.
func (m *MultiStore) Open(ctx context.Context, name string) ([]byte, error) {
	var lastErr error = ErrNotFound
	for _, s := range m.stores {
		data, err := s.Open(ctx, name)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// Delete removes the blob from every store.
func (m *MultiStore) Delete(ctx context.Context, name string) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, s := range m.stores {
		g.Go(func() error { return s.Delete(ctx, name) })
	}
	return g.Wait()
}

// List merges the names from all stores, deduplicated.
func (m *MultiStore) List(ctx context.Context, prefix string) ([]string, error) {
	seen := map[string]bool{}
	var names []string
	for _, s := range m.stores {
		got, err := s.List(ctx, prefix)
		if err != nil {
			return nil, err
		}
		for _, n := range got {
			if !seen[n] {
				seen[n] = true
				names = append(names, n)
			}
		}
	}
	return names, nil
}
