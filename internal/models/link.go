package models

import "time"

// RelationType is the kind of a directed Link between two memories.
type RelationType string

const (
	RelationRelatedTo  RelationType = "related_to"
	RelationDependsOn  RelationType = "depends_on"
	RelationImplements RelationType = "implements"
	RelationPartOf     RelationType = "part_of"
	RelationSupersedes RelationType = "supersedes"
	RelationUsedBy     RelationType = "used_by"
	RelationCreatedBy  RelationType = "created_by"
)

// ValidRelationTypes is the set of all valid relation types.
var ValidRelationTypes = []RelationType{
	RelationRelatedTo,
	RelationDependsOn,
	RelationImplements,
	RelationPartOf,
	RelationSupersedes,
	RelationUsedBy,
	RelationCreatedBy,
}

// IsValid returns true if the relation type is recognized.
func (rt RelationType) IsValid() bool {
	for i := range ValidRelationTypes {
		if rt == ValidRelationTypes[i] {
			return true
		}
	}
	return false
}

// Link is a directed, typed relation between two memories.
type Link struct {
	ID           string       `json:"id"`
	FromID       string       `json:"from_id"`
	ToID         string       `json:"to_id"`
	RelationType RelationType `json:"relation_type"`
	RemoteEdgeID string       `json:"remote_edge_id,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}
