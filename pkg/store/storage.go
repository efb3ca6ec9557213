package store

import (
	"context"
	"errors"

	"github.com/skillgraph/backend/pkg/common"
)

// ErrNotFound is returned by a Store when the requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence contract the graph engine works against. It owns
// all graph state; the engine keeps nothing between calls.
//
// Every method must be safe for concurrent use. Mutations must be atomic per
// call. Implementations apply their own timeout policy and return driver
// errors unchanged, except for missing rows which are reported as ErrNotFound.
type Store interface {
	// GetEntity returns ErrNotFound if the entity does not exist.
	GetEntity(ctx context.Context, ref common.EntityRef) (*common.Entity, error)
	// GetEntities returns the entities that exist; missing refs are omitted.
	GetEntities(ctx context.Context, refs []common.EntityRef) ([]common.Entity, error)

	GetEdges(ctx context.Context, filter common.EdgeFilter) ([]common.Edge, error)
	InsertEdge(ctx context.Context, edge common.Edge) error
	// UpdateEdge loads the edge, lets apply modify it and stores the result
	// in one atomic step, returning the stored edge. apply may run more than
	// once and must only touch the edge it is given. An error from apply
	// aborts the update and is returned unchanged. Changes to the id or the
	// endpoints are ignored. Returns ErrNotFound if the edge is gone.
	UpdateEdge(ctx context.Context, id string, apply func(*common.Edge) error) (*common.Edge, error)
	// DeleteEdge succeeds when the edge does not exist.
	DeleteEdge(ctx context.Context, id string) error

	// GetTeam returns ErrNotFound if the team does not exist.
	GetTeam(ctx context.Context, teamID string) (*common.Team, error)
	GetTeamMembers(ctx context.Context, teamID string) ([]string, error)
}
