package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/skillgraph/backend/pkg/common"
	"github.com/skillgraph/backend/pkg/store"

	"golang.org/x/sync/singleflight"
)

// Descriptor is the display view of an entity.
type Descriptor struct {
	Label string            `json:"label"`
	Kind  common.EntityKind `json:"kind"`
}

// Registry is a read-only view over people, skills and projects. It never
// mutates entities.
//
// Concurrent lookups of the same ref share one store round trip, which keeps
// bulk creates that reference one person many times from fanning out.
type Registry struct {
	store store.Store
	group singleflight.Group
}

func NewRegistry(s store.Store) *Registry {
	return &Registry{store: s}
}

// get runs the shared lookup detached from any single caller, so a caller
// that gives up only stops waiting and never fails the others.
func (r *Registry) get(ctx context.Context, ref common.EntityRef) (*common.Entity, error) {
	ch := r.group.DoChan(ref.String(), func() (any, error) {
		return r.store.GetEntity(context.WithoutCancel(ctx), ref)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*common.Entity), nil
	}
}

// Exists reports whether an entity of the given kind exists.
func (r *Registry) Exists(ctx context.Context, ref common.EntityRef) (bool, error) {
	if ref.ID == "" || !ref.Kind.IsValid() {
		return false, nil
	}
	_, err := r.get(ctx, ref)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, unavailable("get entity", err)
	}
	return true, nil
}

// Describe returns the label and kind of an entity, or ErrNotFound.
func (r *Registry) Describe(ctx context.Context, ref common.EntityRef) (*Descriptor, error) {
	if ref.ID == "" || !ref.Kind.IsValid() {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	ent, err := r.get(ctx, ref)
	if err != nil {
		return nil, classify("describe "+ref.String(), err, ErrNotFound)
	}
	return &Descriptor{Label: ent.Label, Kind: ent.Kind}, nil
}

// Lookup resolves many refs in one batch. Refs that do not exist are absent
// from the returned map.
func (r *Registry) Lookup(ctx context.Context, refs []common.EntityRef) (map[common.EntityRef]common.Entity, error) {
	out := make(map[common.EntityRef]common.Entity, len(refs))
	if len(refs) == 0 {
		return out, nil
	}
	ents, err := r.store.GetEntities(ctx, refs)
	if err != nil {
		return nil, unavailable("get entities", err)
	}
	for _, ent := range ents {
		out[ent.Ref()] = ent
	}
	return out, nil
}
