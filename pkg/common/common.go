package common

import (
	"fmt"
	"time"
)

// EntityKind is the closed set of node kinds in the collaboration graph.
type EntityKind string

const (
	KindPerson  EntityKind = "person"
	KindSkill   EntityKind = "skill"
	KindProject EntityKind = "project"
)

// EntityKinds lists every kind in a stable order.
var EntityKinds = []EntityKind{KindPerson, KindSkill, KindProject}

// IsValid reports whether k is one of the known entity kinds.
func (k EntityKind) IsValid() bool {
	switch k {
	case KindPerson, KindSkill, KindProject:
		return true
	default:
		return false
	}
}

func (k EntityKind) String() string {
	return string(k)
}

// EntityRef names an entity by id and kind. Ids are only unique within a kind,
// so every lookup in the graph goes through a ref and never through a bare id.
type EntityRef struct {
	ID   string     `json:"id"`
	Kind EntityKind `json:"kind"`
}

func (r EntityRef) String() string {
	return fmt.Sprintf("%s:%s", r.Kind, r.ID)
}

// Entity is the read-only view of a person, skill or project that the graph
// needs for validation and display. Entities are owned by the CRUD layer.
//
// Label is the person's name, the skill's name or the project's title.
// Category is only set for skills.
type Entity struct {
	ID       string     `json:"id"`
	Kind     EntityKind `json:"kind"`
	Label    string     `json:"label"`
	Category string     `json:"category,omitempty"`
}

// Ref returns the entity's reference.
func (e Entity) Ref() EntityRef {
	return EntityRef{ID: e.ID, Kind: e.Kind}
}

// Edge is a directed, typed relationship between two entities.
//
// Strength is optional; when it is nil, aggregations treat the edge as having
// full strength. Metadata is opaque and passed through unchanged.
type Edge struct {
	ID               string           `json:"id"`
	SourceID         string           `json:"source_id"`
	SourceKind       EntityKind       `json:"source_kind"`
	TargetID         string           `json:"target_id"`
	TargetKind       EntityKind       `json:"target_kind"`
	RelationshipType RelationshipType `json:"relationship_type"`
	Strength         *float64         `json:"strength,omitempty"`
	Metadata         map[string]any   `json:"metadata,omitempty"`
	CreatedBy        string           `json:"created_by"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// Source returns the reference of the edge's source entity.
func (e Edge) Source() EntityRef {
	return EntityRef{ID: e.SourceID, Kind: e.SourceKind}
}

// Target returns the reference of the edge's target entity.
func (e Edge) Target() EntityRef {
	return EntityRef{ID: e.TargetID, Kind: e.TargetKind}
}

// EffectiveStrength returns the edge strength, or 1.0 when none was recorded.
func (e Edge) EffectiveStrength() float64 {
	if e.Strength == nil {
		return 1.0
	}
	return *e.Strength
}

// EdgeSpec is the input for creating an edge.
type EdgeSpec struct {
	SourceID         string           `json:"source_id" validate:"required"`
	SourceKind       EntityKind       `json:"source_kind" validate:"required"`
	TargetID         string           `json:"target_id" validate:"required"`
	TargetKind       EntityKind       `json:"target_kind" validate:"required"`
	RelationshipType RelationshipType `json:"relationship_type" validate:"required"`
	Strength         *float64         `json:"strength,omitempty"`
	Metadata         map[string]any   `json:"metadata,omitempty"`
	CreatedBy        string           `json:"created_by,omitempty"`
}

// EdgePatch holds the mutable fields of an edge. Nil fields are left untouched.
type EdgePatch struct {
	RelationshipType *RelationshipType `json:"relationship_type,omitempty"`
	Strength         *float64          `json:"strength,omitempty"`
	Metadata         map[string]any    `json:"metadata,omitempty"`
}

// Direction selects which edges of a node are followed.
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
	DirectionBoth     Direction = "both"
)

// ParseDirection parses a direction, defaulting the empty string to both.
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case "":
		return DirectionBoth, nil
	case DirectionOutgoing, DirectionIncoming, DirectionBoth:
		return Direction(s), nil
	default:
		return "", fmt.Errorf("unknown direction %q", s)
	}
}

// EdgeFilter selects edges from the store in a single batch.
//
// Nodes together with Direction anchor the query: outgoing keeps edges whose
// source is one of Nodes, incoming keeps edges whose target is one of Nodes and
// both keeps either. An empty Nodes slice does not anchor the query at all.
// Every other non-zero field narrows the result further.
type EdgeFilter struct {
	IDs               []string
	Nodes             []EntityRef
	Direction         Direction
	RelationshipTypes []RelationshipType
	StrengthMin       *float64
	StrengthMax       *float64
	CreatedAfter      *time.Time
	CreatedBefore     *time.Time
	CreatedBy         string
}

// Team is the minimal team view needed to label coverage rows.
type Team struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// TraversalNode is an entity reached by a traversal, with its hop distance
// from the start.
type TraversalNode struct {
	ID       string     `json:"id"`
	Kind     EntityKind `json:"kind"`
	Label    string     `json:"label"`
	Distance int        `json:"distance"`
}

// Ref returns the node's reference.
func (n TraversalNode) Ref() EntityRef {
	return EntityRef{ID: n.ID, Kind: n.Kind}
}

// TraversalResult is the connected subgraph reached from a start entity.
// Nodes are ordered by distance, then kind, then id.
type TraversalResult struct {
	Nodes []TraversalNode `json:"nodes"`
	Edges []Edge          `json:"edges"`
}

// Node returns the node for ref, if it is part of the result.
func (r *TraversalResult) Node(ref EntityRef) (TraversalNode, bool) {
	for _, n := range r.Nodes {
		if n.ID == ref.ID && n.Kind == ref.Kind {
			return n, true
		}
	}
	return TraversalNode{}, false
}

// RecommendationRow is a ranked skill suggestion.
type RecommendationRow struct {
	SkillID    string  `json:"skill_id"`
	SkillName  string  `json:"skill_name"`
	PathLength int     `json:"path_length"`
	Score      float64 `json:"score"`
}

// CoverageRow reports how many members of a team hold a skill.
type CoverageRow struct {
	TeamID             string  `json:"team_id"`
	TeamName           string  `json:"team_name"`
	SkillID            string  `json:"skill_id"`
	SkillName          string  `json:"skill_name"`
	Category           string  `json:"category,omitempty"`
	MembersWithSkill   int     `json:"members_with_skill"`
	AvgStrength        float64 `json:"avg_strength"`
	TotalMembers       int     `json:"total_members"`
	CoveragePercentage float64 `json:"coverage_percentage"`
}

// BulkFailure describes one rejected item of a bulk edge creation.
type BulkFailure struct {
	Index   int      `json:"index"`
	Spec    EdgeSpec `json:"spec"`
	Reason  string   `json:"reason"`
	Message string   `json:"message"`
}

// BulkResult is the per-item outcome of a bulk edge creation. Items succeed
// or fail independently.
type BulkResult struct {
	Created []Edge        `json:"created"`
	Failed  []BulkFailure `json:"failed"`
}
