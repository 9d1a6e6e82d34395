package epoch

import (
	"context"
	"sort"
)

// Store persists epochs. Implementations are append-only: Put returns
// ErrExists for an ID that is already stored and never overwrites it.
type Store interface {
	Put(ctx context.Context, e Epoch) error
	Get(ctx context.Context, projectID, id string) (Epoch, error)

	// List returns the project's epochs oldest first.
	List(ctx context.Context, projectID string) ([]Epoch, error)
}

// Latest returns the newest epoch of a project, or ErrNotFound.
func Latest(ctx context.Context, s Store, projectID string) (Epoch, error) {
	all, err := s.List(ctx, projectID)
	if err != nil {
		return Epoch{}, err
	}
	if len(all) == 0 {
		return Epoch{}, ErrNotFound
	}
	return all[len(all)-1], nil
}

func sortEpochs(es []Epoch) {
	sort.Slice(es, func(i, j int) bool { return less(es[i], es[j]) })
}
