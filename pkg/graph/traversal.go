package graph

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/skillgraph/backend/pkg/common"
	"github.com/skillgraph/backend/pkg/logger"
)

// TraverseParams selects the subgraph Traverse returns.
type TraverseParams struct {
	Start             common.EntityRef
	Direction         common.Direction
	RelationshipTypes []common.RelationshipType
	// MaxDepth bounds the hop count. Nil or negative means 1, zero returns the
	// start node alone.
	MaxDepth *int
}

// TeamGraphParams selects the subgraph around the members of a team.
type TeamGraphParams struct {
	TeamID            string
	Direction         common.Direction
	RelationshipTypes []common.RelationshipType
	// NodeKinds restricts the returned nodes to these kinds. Team members are
	// always returned.
	NodeKinds []common.EntityKind
	MaxDepth  *int
}

// Depth returns a pointer to d, for building params inline.
func Depth(d int) *int {
	return &d
}

func resolveDepth(d *int) int {
	if d == nil || *d < 0 {
		return 1
	}
	return *d
}

func validateWalk(dir common.Direction, types []common.RelationshipType) (common.Direction, error) {
	parsed, err := common.ParseDirection(string(dir))
	if err != nil {
		return "", invalid("%v", err)
	}
	for _, rt := range types {
		if !rt.IsValid() {
			return "", invalid("unknown relationship type %q", rt)
		}
	}
	return parsed, nil
}

// Traverse walks the graph breadth first from p.Start and returns every node
// reached within the depth bound, each at the minimum distance it was first
// reached, plus every followed edge whose two endpoints were both reached.
func (e *Engine) Traverse(ctx context.Context, p TraverseParams) (*common.TraversalResult, error) {
	dir, err := validateWalk(p.Direction, p.RelationshipTypes)
	if err != nil {
		return nil, err
	}

	start, err := e.registry.Describe(ctx, p.Start)
	if err != nil {
		if Reason(err) == ReasonNotFound {
			return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, p.Start)
		}
		return nil, err
	}

	w := walk{
		engine:    e,
		direction: dir,
		types:     p.RelationshipTypes,
		depth:     resolveDepth(p.MaxDepth),
	}
	res, err := w.run(ctx, []common.Entity{{ID: p.Start.ID, Kind: p.Start.Kind, Label: start.Label}})
	if err != nil {
		return nil, err
	}

	logger.Debug("[Graph] Traversal finished", "start", p.Start, "depth", w.depth, "nodes", len(res.Nodes), "edges", len(res.Edges))
	return res, nil
}

// TeamGraph walks the graph from every member of a team at once. Members sit
// at distance 0 and every other node at its distance from the closest member.
func (e *Engine) TeamGraph(ctx context.Context, p TeamGraphParams) (*common.TraversalResult, error) {
	dir, err := validateWalk(p.Direction, p.RelationshipTypes)
	if err != nil {
		return nil, err
	}
	for _, k := range p.NodeKinds {
		if !k.IsValid() {
			return nil, invalid("unknown node kind %q", k)
		}
	}

	_, memberIDs, err := e.teamMembers(ctx, p.TeamID)
	if err != nil {
		return nil, err
	}
	refs := make([]common.EntityRef, 0, len(memberIDs))
	for _, id := range memberIDs {
		refs = append(refs, common.EntityRef{ID: id, Kind: common.KindPerson})
	}
	found, err := e.registry.Lookup(ctx, refs)
	if err != nil {
		return nil, err
	}
	members := make([]common.Entity, 0, len(refs))
	for _, ref := range refs {
		ent, ok := found[ref]
		if !ok {
			logger.Warn("[Graph] Team member has no person record", "team_id", p.TeamID, "person_id", ref.ID)
			continue
		}
		members = append(members, ent)
	}
	if len(members) == 0 {
		return &common.TraversalResult{Nodes: []common.TraversalNode{}, Edges: []common.Edge{}}, nil
	}

	w := walk{
		engine:    e,
		direction: dir,
		types:     p.RelationshipTypes,
		depth:     resolveDepth(p.MaxDepth),
	}
	res, err := w.run(ctx, members)
	if err != nil {
		return nil, err
	}

	if len(p.NodeKinds) > 0 {
		res = keepKinds(res, p.NodeKinds)
	}

	logger.Debug("[Graph] Team graph finished", "team_id", p.TeamID, "members", len(members), "nodes", len(res.Nodes), "edges", len(res.Edges))
	return res, nil
}

func keepKinds(res *common.TraversalResult, kinds []common.EntityKind) *common.TraversalResult {
	kept := make(map[common.EntityRef]struct{}, len(res.Nodes))
	out := &common.TraversalResult{Nodes: []common.TraversalNode{}, Edges: []common.Edge{}}
	for _, n := range res.Nodes {
		if n.Distance == 0 || slices.Contains(kinds, n.Kind) {
			kept[n.Ref()] = struct{}{}
			out.Nodes = append(out.Nodes, n)
		}
	}
	for _, edge := range res.Edges {
		_, s := kept[edge.Source()]
		_, t := kept[edge.Target()]
		if s && t {
			out.Edges = append(out.Edges, edge)
		}
	}
	return out
}

// walk is one breadth-first traversal. Each level costs one batched edge
// query anchored on the whole frontier and one batched entity lookup for the
// newly discovered neighbors.
type walk struct {
	engine    *Engine
	direction common.Direction
	types     []common.RelationshipType
	depth     int
	// admit, when set, decides whether a discovered neighbor may be visited.
	admit func(common.EntityRef) bool
}

func (w *walk) fetch(ctx context.Context, frontier []common.EntityRef) ([]common.Edge, error) {
	edges, err := w.engine.store.GetEdges(ctx, common.EdgeFilter{
		Nodes:             frontier,
		Direction:         w.direction,
		RelationshipTypes: w.types,
	})
	if err != nil {
		return nil, unavailable("get edges", err)
	}
	return edges, nil
}

// neighbors returns the endpoints of edge that can be reached from a node in
// frontier under the walk's direction.
func (w *walk) neighbors(edge common.Edge, frontier map[common.EntityRef]struct{}) []common.EntityRef {
	var out []common.EntityRef
	if w.direction != common.DirectionIncoming {
		if _, ok := frontier[edge.Source()]; ok {
			out = append(out, edge.Target())
		}
	}
	if w.direction != common.DirectionOutgoing {
		if _, ok := frontier[edge.Target()]; ok {
			out = append(out, edge.Source())
		}
	}
	return out
}

func (w *walk) run(ctx context.Context, starts []common.Entity) (*common.TraversalResult, error) {
	visited := make(map[common.EntityRef]common.TraversalNode, len(starts))
	rejected := make(map[common.EntityRef]struct{})
	seenEdges := make(map[string]common.Edge)

	frontier := make([]common.EntityRef, 0, len(starts))
	for _, ent := range starts {
		ref := ent.Ref()
		if _, ok := visited[ref]; ok {
			continue
		}
		visited[ref] = common.TraversalNode{ID: ent.ID, Kind: ent.Kind, Label: ent.Label}
		frontier = append(frontier, ref)
	}

	// The level after the last expansion is still fetched so that edges
	// between two nodes at the maximum distance are part of the result.
	for level := 0; w.depth > 0 && level <= w.depth && len(frontier) > 0; level++ {
		edges, err := w.fetch(ctx, frontier)
		if err != nil {
			return nil, err
		}

		frontierSet := make(map[common.EntityRef]struct{}, len(frontier))
		for _, ref := range frontier {
			frontierSet[ref] = struct{}{}
		}

		var candidates []common.EntityRef
		pending := make(map[common.EntityRef]struct{})
		for _, edge := range edges {
			seenEdges[edge.ID] = edge
			if level == w.depth {
				continue
			}
			for _, ref := range w.neighbors(edge, frontierSet) {
				if _, ok := visited[ref]; ok {
					continue
				}
				if _, ok := rejected[ref]; ok {
					continue
				}
				if _, ok := pending[ref]; ok {
					continue
				}
				if w.admit != nil && !w.admit(ref) {
					rejected[ref] = struct{}{}
					continue
				}
				pending[ref] = struct{}{}
				candidates = append(candidates, ref)
			}
		}
		if len(candidates) == 0 {
			frontier = nil
			continue
		}

		found, err := w.engine.registry.Lookup(ctx, candidates)
		if err != nil {
			return nil, err
		}

		next := make([]common.EntityRef, 0, len(candidates))
		for _, ref := range candidates {
			ent, ok := found[ref]
			if !ok {
				// The edge outlived its endpoint; leave it out rather than fail.
				logger.Warn("[Graph] Dropping dangling endpoint", "entity", ref)
				rejected[ref] = struct{}{}
				continue
			}
			visited[ref] = common.TraversalNode{ID: ent.ID, Kind: ent.Kind, Label: ent.Label, Distance: level + 1}
			next = append(next, ref)
		}
		frontier = next
	}

	res := &common.TraversalResult{
		Nodes: make([]common.TraversalNode, 0, len(visited)),
		Edges: []common.Edge{},
	}
	for _, n := range visited {
		res.Nodes = append(res.Nodes, n)
	}
	slices.SortFunc(res.Nodes, func(a, b common.TraversalNode) int {
		return cmp.Or(
			cmp.Compare(a.Distance, b.Distance),
			cmp.Compare(a.Kind, b.Kind),
			cmp.Compare(a.ID, b.ID),
		)
	})

	for _, edge := range seenEdges {
		_, s := visited[edge.Source()]
		_, t := visited[edge.Target()]
		if s && t {
			res.Edges = append(res.Edges, edge)
		}
	}
	sortEdges(res.Edges)

	return res, nil
}
