package graph

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/skillgraph/backend/pkg/common"
	"github.com/skillgraph/backend/pkg/logger"

	"golang.org/x/sync/errgroup"
)

func validateStrength(s *float64) error {
	if s == nil {
		return nil
	}
	if math.IsNaN(*s) || *s < 0 || *s > 1 {
		return invalid("strength %v outside [0, 1]", *s)
	}
	return nil
}

func validateShape(spec common.EdgeSpec) error {
	if !spec.RelationshipType.IsValid() {
		return invalid("unknown relationship type %q", spec.RelationshipType)
	}
	if !spec.SourceKind.IsValid() {
		return invalid("unknown source kind %q", spec.SourceKind)
	}
	if !spec.TargetKind.IsValid() {
		return invalid("unknown target kind %q", spec.TargetKind)
	}
	if !spec.RelationshipType.Allows(spec.SourceKind, spec.TargetKind) {
		return invalid("%s does not connect %s to %s", spec.RelationshipType, spec.SourceKind, spec.TargetKind)
	}
	return validateStrength(spec.Strength)
}

func (e *Engine) requireEntity(ctx context.Context, ref common.EntityRef) error {
	ok, err := e.registry.Exists(ctx, ref)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEntity, ref)
	}
	return nil
}

// CreateEdge validates spec and persists it as a new edge.
func (e *Engine) CreateEdge(ctx context.Context, spec common.EdgeSpec) (*common.Edge, error) {
	if err := validateShape(spec); err != nil {
		return nil, err
	}

	source := common.EntityRef{ID: spec.SourceID, Kind: spec.SourceKind}
	target := common.EntityRef{ID: spec.TargetID, Kind: spec.TargetKind}
	if err := e.requireEntity(ctx, source); err != nil {
		return nil, err
	}
	if err := e.requireEntity(ctx, target); err != nil {
		return nil, err
	}

	metadata, err := normalizeMetadata(spec.Metadata)
	if err != nil {
		return nil, err
	}

	id, err := e.newID()
	if err != nil {
		return nil, fmt.Errorf("generate edge id: %w", err)
	}
	now := e.now()
	edge := common.Edge{
		ID:               id,
		SourceID:         spec.SourceID,
		SourceKind:       spec.SourceKind,
		TargetID:         spec.TargetID,
		TargetKind:       spec.TargetKind,
		RelationshipType: spec.RelationshipType,
		Strength:         spec.Strength,
		Metadata:         metadata,
		CreatedBy:        spec.CreatedBy,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := e.store.InsertEdge(ctx, edge); err != nil {
		return nil, unavailable("insert edge", err)
	}

	logger.Debug("[Graph] Edge created", "edge_id", edge.ID, "type", edge.RelationshipType, "source", source, "target", target)
	return &edge, nil
}

// CreateEdgesBulk creates every spec independently. A failing item never
// aborts the others; its index and reason are reported in Failed. Created
// keeps the input order of the successful items.
func (e *Engine) CreateEdgesBulk(ctx context.Context, specs []common.EdgeSpec) *common.BulkResult {
	created := make([]*common.Edge, len(specs))
	failed := make([]error, len(specs))

	eg := errgroup.Group{}
	eg.SetLimit(e.cfg.BulkConcurrency)
	for i, spec := range specs {
		eg.Go(func() error {
			edge, err := e.CreateEdge(ctx, spec)
			if err != nil {
				failed[i] = err
				return nil
			}
			created[i] = edge
			return nil
		})
	}
	_ = eg.Wait()

	res := &common.BulkResult{
		Created: make([]common.Edge, 0, len(specs)),
		Failed:  []common.BulkFailure{},
	}
	for i := range specs {
		if failed[i] != nil {
			res.Failed = append(res.Failed, common.BulkFailure{
				Index:   i,
				Spec:    specs[i],
				Reason:  Reason(failed[i]),
				Message: failed[i].Error(),
			})
			continue
		}
		res.Created = append(res.Created, *created[i])
	}

	if len(res.Failed) > 0 {
		logger.Warn("[Graph] Bulk create finished with failures", "created", len(res.Created), "failed", len(res.Failed))
	}
	return res
}

// UpdateEdge applies patch to the edge with the given id. Endpoints are
// immutable; a new relationship type must fit the existing endpoint kinds.
// The patch is applied by the store in one atomic step so concurrent patches
// to different fields never overwrite each other.
func (e *Engine) UpdateEdge(ctx context.Context, id string, patch common.EdgePatch) (*common.Edge, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty edge id", ErrNotFound)
	}
	if patch.RelationshipType != nil {
		rt := *patch.RelationshipType
		if !rt.IsValid() {
			return nil, invalid("unknown relationship type %q", rt)
		}
	}
	if err := validateStrength(patch.Strength); err != nil {
		return nil, err
	}
	var metadata map[string]any
	if patch.Metadata != nil {
		m, err := normalizeMetadata(patch.Metadata)
		if err != nil {
			return nil, err
		}
		metadata = m
	}

	edge, err := e.store.UpdateEdge(ctx, id, func(edge *common.Edge) error {
		if patch.RelationshipType != nil {
			rt := *patch.RelationshipType
			if !rt.Allows(edge.SourceKind, edge.TargetKind) {
				return invalid("%s does not connect %s to %s", rt, edge.SourceKind, edge.TargetKind)
			}
			edge.RelationshipType = rt
		}
		if patch.Strength != nil {
			s := *patch.Strength
			edge.Strength = &s
		}
		if metadata != nil {
			edge.Metadata = metadata
		}
		edge.UpdatedAt = e.now()
		return nil
	})
	if errors.Is(err, ErrInvalidRelationship) {
		return nil, err
	}
	if err != nil {
		return nil, classify("update edge "+id, err, ErrNotFound)
	}
	return edge, nil
}

// normalizeMetadata gives m the shape it has after a trip through the store,
// numbers as float64 and nested values as plain maps and slices.
func normalizeMetadata(m map[string]any) (map[string]any, error) {
	if m == nil {
		return nil, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, invalid("metadata is not JSON encodable: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, invalid("metadata is not a JSON object: %v", err)
	}
	return out, nil
}

// DeleteEdge removes an edge. Deleting an id that does not exist succeeds.
func (e *Engine) DeleteEdge(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if err := e.store.DeleteEdge(ctx, id); err != nil {
		return unavailable("delete edge", err)
	}
	return nil
}

func validateFilter(filter common.EdgeFilter) error {
	for _, rt := range filter.RelationshipTypes {
		if !rt.IsValid() {
			return invalid("unknown relationship type %q", rt)
		}
	}
	if filter.Direction != "" {
		if _, err := common.ParseDirection(string(filter.Direction)); err != nil {
			return invalid("%v", err)
		}
	}
	if filter.StrengthMin != nil && filter.StrengthMax != nil && *filter.StrengthMin > *filter.StrengthMax {
		return invalid("strength_min %v above strength_max %v", *filter.StrengthMin, *filter.StrengthMax)
	}
	return nil
}

func sortEdges(edges []common.Edge) {
	slices.SortFunc(edges, func(a, b common.Edge) int {
		return cmp.Compare(a.ID, b.ID)
	})
}

// GetEdges returns every edge matching filter, ordered by id.
func (e *Engine) GetEdges(ctx context.Context, filter common.EdgeFilter) ([]common.Edge, error) {
	if err := validateFilter(filter); err != nil {
		return nil, err
	}
	edges, err := e.store.GetEdges(ctx, filter)
	if err != nil {
		return nil, unavailable("get edges", err)
	}
	if edges == nil {
		edges = []common.Edge{}
	}
	sortEdges(edges)
	return edges, nil
}

// EdgesFrom returns the edges of ref in the given direction, optionally
// restricted to a set of relationship types.
func (e *Engine) EdgesFrom(ctx context.Context, ref common.EntityRef, dir common.Direction, types []common.RelationshipType) ([]common.Edge, error) {
	if dir == "" {
		dir = common.DirectionBoth
	}
	return e.GetEdges(ctx, common.EdgeFilter{
		Nodes:             []common.EntityRef{ref},
		Direction:         dir,
		RelationshipTypes: types,
	})
}

// edgeIDLister is implemented by stores that can list the edges of an entity
// from an index without loading them.
type edgeIDLister interface {
	EdgeIDsForEntity(ctx context.Context, ref common.EntityRef) ([]string, error)
}

func (e *Engine) edgeIDsOf(ctx context.Context, ref common.EntityRef) ([]string, error) {
	if l, ok := e.store.(edgeIDLister); ok {
		return l.EdgeIDsForEntity(ctx, ref)
	}
	edges, err := e.store.GetEdges(ctx, common.EdgeFilter{
		Nodes:     []common.EntityRef{ref},
		Direction: common.DirectionBoth,
	})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(edges))
	for _, edge := range edges {
		ids = append(ids, edge.ID)
	}
	return ids, nil
}

// DetachEntity deletes every edge that references ref and returns how many
// were removed. It is the explicit cleanup the CRUD layer requests after
// deleting an entity; it never deletes the entity itself.
func (e *Engine) DetachEntity(ctx context.Context, ref common.EntityRef) (int, error) {
	if ref.ID == "" || !ref.Kind.IsValid() {
		return 0, fmt.Errorf("%w: %s", ErrUnknownEntity, ref)
	}
	ids, err := e.edgeIDsOf(ctx, ref)
	if err != nil {
		return 0, unavailable("list edges of "+ref.String(), err)
	}

	removed := 0
	for _, id := range ids {
		if err := e.store.DeleteEdge(ctx, id); err != nil {
			return removed, unavailable("delete edge "+id, err)
		}
		removed++
	}

	logger.Info("[Graph] Entity detached", "entity", ref, "edges_removed", removed)
	return removed, nil
}
