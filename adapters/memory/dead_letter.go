package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/coregx/broker"
	"github.com/coregx/broker/model"
)

// DeadLetterRepository implements broker.DeadLetterRepository.
type DeadLetterRepository struct {
	mu     sync.RWMutex
	items  map[int64]model.DeadLetter
	nextID int64
}

// NewDeadLetterRepository creates an empty DeadLetterRepository.
func NewDeadLetterRepository() *DeadLetterRepository {
	return &DeadLetterRepository{items: make(map[int64]model.DeadLetter)}
}

// Load retrieves a dead letter by ID.
func (r *DeadLetterRepository) Load(_ context.Context, id int64) (model.DeadLetter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dl, ok := r.items[id]
	if !ok {
		return model.DeadLetter{}, broker.ErrNoData
	}
	return dl, nil
}

// Save creates a new dead letter (if ID=0) or updates an existing one.
func (r *DeadLetterRepository) Save(_ context.Context, dl model.DeadLetter) (model.DeadLetter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if dl.ID == 0 {
		r.nextID++
		dl.ID = r.nextID
	} else if _, ok := r.items[dl.ID]; !ok {
		return dl, broker.ErrNoData
	}
	dl.Payload = slices.Clone(dl.Payload)
	r.items[dl.ID] = dl
	return dl, nil
}

// FindUnresolved retrieves unresolved dead letters, oldest first.
func (r *DeadLetterRepository) FindUnresolved(_ context.Context, limit int) ([]model.DeadLetter, error) {
	return r.find(limit, func(dl model.DeadLetter) bool { return !dl.IsResolved }, func(a, b model.DeadLetter) int {
		return compareMoved(a, b)
	})
}

// FindBySubKey retrieves dead letters of one subscription, newest first.
func (r *DeadLetterRepository) FindBySubKey(_ context.Context, subKey string, limit int) ([]model.DeadLetter, error) {
	return r.find(limit, func(dl model.DeadLetter) bool { return dl.SubKey == subKey }, func(a, b model.DeadLetter) int {
		return compareMoved(b, a)
	})
}

// GetStats returns dead letter counts.
func (r *DeadLetterRepository) GetStats(_ context.Context) (model.DeadLetterStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := model.DeadLetterStats{TotalItems: len(r.items), LastUpdated: time.Now().UTC()}
	for _, dl := range r.items {
		if dl.IsResolved {
			stats.ResolvedItems++
		} else {
			stats.UnresolvedItems++
		}
	}
	return stats, nil
}

func (r *DeadLetterRepository) find(limit int, keep func(model.DeadLetter) bool, cmp func(a, b model.DeadLetter) int) ([]model.DeadLetter, error) {
	r.mu.RLock()
	var out []model.DeadLetter
	for _, dl := range r.items {
		if keep(dl) {
			out = append(out, dl)
		}
	}
	r.mu.RUnlock()

	if len(out) == 0 {
		return nil, broker.ErrNoData
	}
	slices.SortFunc(out, cmp)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func compareMoved(a, b model.DeadLetter) int {
	if c := a.MovedAt.Compare(b.MovedAt); c != 0 {
		return c
	}
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}
