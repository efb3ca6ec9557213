package graph

import (
	"errors"
	"fmt"

	"github.com/skillgraph/backend/pkg/store"
)

var (
	// ErrUnknownEntity is returned when a referenced id/kind does not exist.
	ErrUnknownEntity = errors.New("unknown entity")
	// ErrInvalidRelationship is returned for a relationship type that does not
	// fit the endpoint kinds, or a strength outside [0, 1].
	ErrInvalidRelationship = errors.New("invalid relationship")
	// ErrNotFound is returned when an edge id is absent on update or an entity
	// is absent on describe.
	ErrNotFound = errors.New("not found")
	// ErrStoreUnavailable is returned when the backing store failed or timed out.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Reason tags used in bulk failure reports.
const (
	ReasonUnknownEntity       = "UnknownEntity"
	ReasonInvalidRelationship = "InvalidRelationship"
	ReasonNotFound            = "NotFound"
	ReasonStoreUnavailable    = "StoreUnavailable"
)

// Reason maps err to its taxonomy tag.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrUnknownEntity):
		return ReasonUnknownEntity
	case errors.Is(err, ErrInvalidRelationship):
		return ReasonInvalidRelationship
	case errors.Is(err, ErrNotFound):
		return ReasonNotFound
	default:
		return ReasonStoreUnavailable
	}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRelationship, fmt.Sprintf(format, args...))
}

// classify translates a store error: missing rows become notFound, timeouts
// and every other failure become ErrStoreUnavailable.
func classify(op string, err error, notFound error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", notFound, op)
	}
	return unavailable(op, err)
}
