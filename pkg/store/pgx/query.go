package pgx

import (
	"strconv"
	"strings"

	"github.com/skillgraph/backend/pkg/common"
)

type queryBuilder struct {
	where []string
	args  []any
}

func (q *queryBuilder) arg(v any) string {
	q.args = append(q.args, v)
	return "$" + strconv.Itoa(len(q.args))
}

func (q *queryBuilder) add(clause string) {
	q.where = append(q.where, clause)
}

// buildEdgeQuery translates filter into a parameterised SELECT on edges.
func buildEdgeQuery(filter common.EdgeFilter) (string, []any) {
	q := &queryBuilder{}

	if len(filter.IDs) > 0 {
		q.add("id = ANY(" + q.arg(filter.IDs) + ")")
	}

	if len(filter.Nodes) > 0 {
		kinds := make([]string, len(filter.Nodes))
		ids := make([]string, len(filter.Nodes))
		for i, ref := range filter.Nodes {
			kinds[i] = string(ref.Kind)
			ids[i] = ref.ID
		}
		anchors := "(SELECT k, i FROM unnest(" + q.arg(kinds) + "::text[], " + q.arg(ids) + "::text[]) AS a(k, i))"
		bySource := "(source_kind, source_id) IN " + anchors
		byTarget := "(target_kind, target_id) IN " + anchors
		switch filter.Direction {
		case common.DirectionOutgoing:
			q.add(bySource)
		case common.DirectionIncoming:
			q.add(byTarget)
		default:
			q.add("(" + bySource + " OR " + byTarget + ")")
		}
	}

	if len(filter.RelationshipTypes) > 0 {
		types := make([]string, len(filter.RelationshipTypes))
		for i, rt := range filter.RelationshipTypes {
			types[i] = string(rt)
		}
		q.add("relationship_type = ANY(" + q.arg(types) + ")")
	}
	if filter.StrengthMin != nil {
		q.add("COALESCE(strength, 1.0) >= " + q.arg(*filter.StrengthMin))
	}
	if filter.StrengthMax != nil {
		q.add("COALESCE(strength, 1.0) <= " + q.arg(*filter.StrengthMax))
	}
	if filter.CreatedAfter != nil {
		q.add("created_at > " + q.arg(*filter.CreatedAfter))
	}
	if filter.CreatedBefore != nil {
		q.add("created_at < " + q.arg(*filter.CreatedBefore))
	}
	if filter.CreatedBy != "" {
		q.add("created_by = " + q.arg(filter.CreatedBy))
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(edgeColumns)
	sb.WriteString("\nFROM edges")
	if len(q.where) > 0 {
		sb.WriteString("\nWHERE ")
		sb.WriteString(strings.Join(q.where, "\n  AND "))
	}
	sb.WriteString("\nORDER BY id")
	return sb.String(), q.args
}
