package epoch

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedStore serves repeated Get calls from memory. Epochs are immutable,
// so entries never need invalidating.
type CachedStore struct {
	Store
	cache *lru.Cache[string, Epoch]
}

func NewCachedStore(s Store, size int) (*CachedStore, error) {
	if size <= 0 {
		size = 128
	}
	cache, err := lru.New[string, Epoch](size)
	if err != nil {
		return nil, fmt.Errorf("init epoch cache: %w", err)
	}
	return &CachedStore{Store: s, cache: cache}, nil
}

func cacheKey(projectID, id string) string { return projectID + "/" + id }

func (s *CachedStore) Put(ctx context.Context, e Epoch) error {
	if err := s.Store.Put(ctx, e); err != nil {
		return err
	}
	s.cache.Add(cacheKey(e.ProjectID, e.ID), e)
	return nil
}

func (s *CachedStore) Get(ctx context.Context, projectID, id string) (Epoch, error) {
	if e, ok := s.cache.Get(cacheKey(projectID, id)); ok {
		return e, nil
	}
	e, err := s.Store.Get(ctx, projectID, id)
	if err != nil {
		return Epoch{}, err
	}
	s.cache.Add(cacheKey(projectID, id), e)
	return e, nil
}

// Len reports how many epochs are cached.
func (s *CachedStore) Len() int { return s.cache.Len() }
