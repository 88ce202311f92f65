package store

import (
	"context"
	"errors"

	"envelope.lock/internal/models"
)

var (
	ErrNotFound = errors.New("envelope not found")
	ErrCapacity = errors.New("envelope id space exhausted")
)

// Filter narrows List results. The zero value matches every envelope.
type Filter struct {
	Owner       string
	Beneficiary string
	Status      models.Status
}

func (f Filter) Matches(env *models.Envelope) bool {
	if f.Owner != "" && env.Owner != f.Owner {
		return false
	}
	if f.Beneficiary != "" && env.Beneficiary != f.Beneficiary {
		return false
	}
	if f.Status != "" && env.Status != f.Status {
		return false
	}
	return true
}

// Store is the durable keyed collection of envelope records. Ids are
// allocated monotonically starting at 0 and are never reused; records are
// never deleted.
type Store interface {
	// Insert allocates the next id, persists the envelope under it and
	// returns the id. Fails with ErrCapacity if the counter would overflow.
	Insert(ctx context.Context, env *models.Envelope) (uint64, error)
	// Get returns a snapshot of the envelope, or ErrNotFound.
	Get(ctx context.Context, id uint64) (*models.Envelope, error)
	// UpdateStatus transitions an envelope's status. Legality of the
	// transition is the caller's responsibility; fails with ErrNotFound if
	// the id is absent.
	UpdateStatus(ctx context.Context, id uint64, status models.Status) error
	// NextID reports the id the next Insert will assign.
	NextID(ctx context.Context) (uint64, error)
	// List returns snapshots of all envelopes matching the filter, in id
	// order.
	List(ctx context.Context, f Filter) ([]*models.Envelope, error)
	Close() error
}
