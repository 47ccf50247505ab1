package ingest

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrOutcomeNotFound is returned when no outcome has the requested id.
var ErrOutcomeNotFound = errors.New("outcome not found")

// OutcomeRepository stores the outcome history.
type OutcomeRepository interface {
	Create(ctx context.Context, o *Outcome) error
	GetByID(ctx context.Context, id uuid.UUID) (*Outcome, error)
	// List returns matching outcomes newest first, with the total count.
	List(ctx context.Context, filter OutcomeFilter, limit, offset int) ([]*Outcome, int, error)
}

// InMemoryOutcomeRepository keeps outcomes in process memory. It is used
// when no database is configured and in tests.
type InMemoryOutcomeRepository struct {
	mu    sync.RWMutex
	items []*Outcome
	byID  map[uuid.UUID]*Outcome
}

// NewInMemoryOutcomeRepository creates an empty repository.
func NewInMemoryOutcomeRepository() *InMemoryOutcomeRepository {
	return &InMemoryOutcomeRepository{byID: make(map[uuid.UUID]*Outcome)}
}

func (r *InMemoryOutcomeRepository) Create(_ context.Context, o *Outcome) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	cp := *o
	cp.Resource = nil
	cp.Provenance = nil

	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, &cp)
	r.byID[cp.ID] = &cp
	return nil
}

func (r *InMemoryOutcomeRepository) GetByID(_ context.Context, id uuid.UUID) (*Outcome, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.byID[id]
	if !ok {
		return nil, ErrOutcomeNotFound
	}
	cp := *o
	return &cp, nil
}

func (r *InMemoryOutcomeRepository) List(_ context.Context, filter OutcomeFilter, limit, offset int) ([]*Outcome, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*Outcome
	for i := len(r.items) - 1; i >= 0; i-- {
		if filter.Matches(r.items[i]) {
			matched = append(matched, r.items[i])
		}
	}

	total := len(matched)
	if offset >= total {
		return []*Outcome{}, total, nil
	}
	end := min(offset+limit, total)

	page := make([]*Outcome, 0, end-offset)
	for _, o := range matched[offset:end] {
		cp := *o
		page = append(page, &cp)
	}
	return page, total, nil
}
