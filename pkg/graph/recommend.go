package graph

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/skillgraph/backend/pkg/common"
	"github.com/skillgraph/backend/pkg/logger"
)

// adjacencyTypes are the edges a recommendation walk follows.
var adjacencyTypes = []common.RelationshipType{
	common.RelKnows,
	common.RelCollaboratesOn,
	common.RelTeaching,
}

// RecommendSkills ranks skills held by people close to personID that the
// person does not hold yet. A skill reached in fewer hops scores higher:
// score = 1 / (1 + path length). Ties are broken by skill id.
//
// A non-positive maxDepth uses the configured default depth. A non-positive
// limit returns every candidate; the result is always capped at the
// configured ceiling.
func (e *Engine) RecommendSkills(ctx context.Context, personID string, maxDepth, limit int) ([]common.RecommendationRow, error) {
	person := common.EntityRef{ID: personID, Kind: common.KindPerson}
	ok, err := e.registry.Exists(ctx, person)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, person)
	}

	if maxDepth <= 0 {
		maxDepth = e.cfg.RecommendationDefaultDepth
	}
	if limit <= 0 || limit > e.cfg.RecommendationCeiling {
		limit = e.cfg.RecommendationCeiling
	}

	w := walk{
		engine:    e,
		direction: common.DirectionBoth,
		types:     adjacencyTypes,
		depth:     maxDepth,
		admit: func(ref common.EntityRef) bool {
			return ref.Kind != common.KindProject
		},
	}
	sub, err := w.run(ctx, []common.Entity{{ID: personID, Kind: common.KindPerson}})
	if err != nil {
		return nil, err
	}

	held := make(map[string]struct{})
	for _, edge := range sub.Edges {
		if edge.Source() == person && edge.TargetKind == common.KindSkill && edge.RelationshipType.HoldsSkill() {
			held[edge.TargetID] = struct{}{}
		}
	}

	rows := make([]common.RecommendationRow, 0)
	seen := make(map[string]struct{})
	for _, edge := range sub.Edges {
		if !edge.RelationshipType.HoldsSkill() || edge.SourceKind != common.KindPerson || edge.TargetKind != common.KindSkill {
			continue
		}
		if _, ok := held[edge.TargetID]; ok {
			continue
		}
		if _, ok := seen[edge.TargetID]; ok {
			continue
		}
		node, ok := sub.Node(edge.Target())
		if !ok {
			continue
		}
		seen[edge.TargetID] = struct{}{}
		rows = append(rows, common.RecommendationRow{
			SkillID:    node.ID,
			SkillName:  node.Label,
			PathLength: node.Distance,
			Score:      1 / (1 + float64(node.Distance)),
		})
	}

	slices.SortFunc(rows, func(a, b common.RecommendationRow) int {
		return cmp.Or(
			cmp.Compare(b.Score, a.Score),
			cmp.Compare(a.SkillID, b.SkillID),
		)
	})
	if len(rows) > limit {
		rows = rows[:limit]
	}

	logger.Debug("[Graph] Recommendations computed", "person_id", personID, "depth", maxDepth, "candidates", len(seen), "returned", len(rows))
	return rows, nil
}
