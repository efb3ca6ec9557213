package store

import (
	"slices"

	"github.com/skillgraph/backend/pkg/common"
)

// MatchEdge reports whether edge satisfies filter. Backends that cannot push
// the filter down to their query language use it to filter in process.
func MatchEdge(edge common.Edge, filter common.EdgeFilter) bool {
	if len(filter.IDs) > 0 && !slices.Contains(filter.IDs, edge.ID) {
		return false
	}
	if len(filter.Nodes) > 0 && !matchAnchor(edge, filter.Nodes, filter.Direction) {
		return false
	}
	if len(filter.RelationshipTypes) > 0 && !slices.Contains(filter.RelationshipTypes, edge.RelationshipType) {
		return false
	}
	strength := edge.EffectiveStrength()
	if filter.StrengthMin != nil && strength < *filter.StrengthMin {
		return false
	}
	if filter.StrengthMax != nil && strength > *filter.StrengthMax {
		return false
	}
	if filter.CreatedAfter != nil && !edge.CreatedAt.After(*filter.CreatedAfter) {
		return false
	}
	if filter.CreatedBefore != nil && !edge.CreatedAt.Before(*filter.CreatedBefore) {
		return false
	}
	if filter.CreatedBy != "" && edge.CreatedBy != filter.CreatedBy {
		return false
	}
	return true
}

func matchAnchor(edge common.Edge, nodes []common.EntityRef, dir common.Direction) bool {
	source := slices.Contains(nodes, edge.Source())
	target := slices.Contains(nodes, edge.Target())
	switch dir {
	case common.DirectionOutgoing:
		return source
	case common.DirectionIncoming:
		return target
	default:
		return source || target
	}
}

// DedupeStrings drops empty and repeated values, keeping first-seen order.
func DedupeStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// ChunkRange calls fn for consecutive [start, end) windows of at most
// chunkSize over total items.
func ChunkRange(total, chunkSize int, fn func(start, end int) error) error {
	if total <= 0 {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = total
	}
	for start := 0; start < total; start += chunkSize {
		end := min(start+chunkSize, total)
		if err := fn(start, end); err != nil {
			return err
		}
	}
	return nil
}
