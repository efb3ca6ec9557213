package graph

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/skillgraph/backend/pkg/common"
	"github.com/skillgraph/backend/pkg/store"
)

// teamMembers returns the team and its distinct member ids. An unknown team
// is reported as ErrUnknownEntity.
func (e *Engine) teamMembers(ctx context.Context, teamID string) (*common.Team, []string, error) {
	if teamID == "" {
		return nil, nil, fmt.Errorf("%w: empty team id", ErrUnknownEntity)
	}
	team, err := e.store.GetTeam(ctx, teamID)
	if err != nil {
		return nil, nil, classify("get team "+teamID, err, ErrUnknownEntity)
	}
	members, err := e.store.GetTeamMembers(ctx, teamID)
	if err != nil {
		return nil, nil, unavailable("get team members", err)
	}
	return team, store.DedupeStrings(members), nil
}

type skillTally struct {
	strengths map[string]float64
}

// TeamSkillCoverage reports, for every skill held by at least one member of
// the team, how many members hold it and at what average strength. A member
// counts once per skill, with the strongest of their knows/teaching edges to
// it. Rows are ordered by member count, then skill id.
func (e *Engine) TeamSkillCoverage(ctx context.Context, teamID string) ([]common.CoverageRow, error) {
	team, members, err := e.teamMembers(ctx, teamID)
	if err != nil {
		return nil, err
	}
	rows := make([]common.CoverageRow, 0)
	if len(members) == 0 {
		return rows, nil
	}

	anchors := make([]common.EntityRef, 0, len(members))
	for _, id := range members {
		anchors = append(anchors, common.EntityRef{ID: id, Kind: common.KindPerson})
	}
	edges, err := e.store.GetEdges(ctx, common.EdgeFilter{
		Nodes:             anchors,
		Direction:         common.DirectionOutgoing,
		RelationshipTypes: []common.RelationshipType{common.RelKnows, common.RelTeaching},
	})
	if err != nil {
		return nil, unavailable("get edges", err)
	}

	tallies := make(map[string]*skillTally)
	for _, edge := range edges {
		if edge.SourceKind != common.KindPerson || edge.TargetKind != common.KindSkill || !edge.RelationshipType.HoldsSkill() {
			continue
		}
		t, ok := tallies[edge.TargetID]
		if !ok {
			t = &skillTally{strengths: make(map[string]float64)}
			tallies[edge.TargetID] = t
		}
		s := edge.EffectiveStrength()
		if prev, ok := t.strengths[edge.SourceID]; !ok || s > prev {
			t.strengths[edge.SourceID] = s
		}
	}
	if len(tallies) == 0 {
		return rows, nil
	}

	refs := make([]common.EntityRef, 0, len(tallies))
	for id := range tallies {
		refs = append(refs, common.EntityRef{ID: id, Kind: common.KindSkill})
	}
	skills, err := e.registry.Lookup(ctx, refs)
	if err != nil {
		return nil, err
	}

	total := len(members)
	for _, ref := range refs {
		skill, ok := skills[ref]
		if !ok {
			continue
		}
		t := tallies[ref.ID]
		sum := 0.0
		for _, s := range t.strengths {
			sum += s
		}
		count := len(t.strengths)
		rows = append(rows, common.CoverageRow{
			TeamID:             team.ID,
			TeamName:           team.Name,
			SkillID:            skill.ID,
			SkillName:          skill.Label,
			Category:           skill.Category,
			MembersWithSkill:   count,
			AvgStrength:        sum / float64(count),
			TotalMembers:       total,
			CoveragePercentage: round2(float64(count) / float64(total) * 100),
		})
	}

	slices.SortFunc(rows, func(a, b common.CoverageRow) int {
		return cmp.Or(
			cmp.Compare(b.MembersWithSkill, a.MembersWithSkill),
			cmp.Compare(a.SkillID, b.SkillID),
		)
	})
	return rows, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
