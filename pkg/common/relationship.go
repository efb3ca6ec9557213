package common

// RelationshipType is the closed set of labels an edge can carry.
type RelationshipType string

const (
	RelKnows          RelationshipType = "knows"
	RelWantsToLearn   RelationshipType = "wants_to_learn"
	RelTeaching       RelationshipType = "teaching"
	RelRequires       RelationshipType = "requires"
	RelProvides       RelationshipType = "provides"
	RelCollaboratesOn RelationshipType = "collaborates_on"
	RelLeads          RelationshipType = "leads"
	RelParticipatesIn RelationshipType = "participates_in"
	RelDependsOn      RelationshipType = "depends_on"
)

// RelationshipTypes lists every relationship type in a stable order.
var RelationshipTypes = []RelationshipType{
	RelKnows,
	RelWantsToLearn,
	RelTeaching,
	RelRequires,
	RelProvides,
	RelCollaboratesOn,
	RelLeads,
	RelParticipatesIn,
	RelDependsOn,
}

// KindPair is an allowed (source kind, target kind) combination.
type KindPair struct {
	Source EntityKind
	Target EntityKind
}

// IsValid reports whether t is one of the known relationship types.
func (t RelationshipType) IsValid() bool {
	return t.AllowedPairs() != nil
}

func (t RelationshipType) String() string {
	return string(t)
}

// AllowedPairs returns the endpoint kinds an edge of type t may connect.
// Unknown types return nil.
func (t RelationshipType) AllowedPairs() []KindPair {
	switch t {
	case RelKnows:
		return []KindPair{{KindPerson, KindSkill}, {KindPerson, KindPerson}}
	case RelWantsToLearn, RelTeaching:
		return []KindPair{{KindPerson, KindSkill}}
	case RelRequires, RelProvides:
		return []KindPair{{KindProject, KindSkill}}
	case RelCollaboratesOn:
		return []KindPair{{KindPerson, KindProject}, {KindPerson, KindPerson}}
	case RelLeads, RelParticipatesIn:
		return []KindPair{{KindPerson, KindProject}}
	case RelDependsOn:
		return []KindPair{{KindProject, KindProject}, {KindSkill, KindSkill}}
	default:
		return nil
	}
}

// Allows reports whether an edge of type t may go from source to target.
func (t RelationshipType) Allows(source, target EntityKind) bool {
	for _, p := range t.AllowedPairs() {
		if p.Source == source && p.Target == target {
			return true
		}
	}
	return false
}

// HoldsSkill reports whether t expresses that a person has a skill.
func (t RelationshipType) HoldsSkill() bool {
	return t == RelKnows || t == RelTeaching
}
