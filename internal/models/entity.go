package models

import "time"

// EntityType classifies the kind of entity.
type EntityType string

const (
	EntityTypeProduct EntityType = "product"
	EntityTypeCompany EntityType = "company"
	EntityTypePerson  EntityType = "person"
	EntityTypeEmail   EntityType = "email"
	EntityTypePhone   EntityType = "phone"
	EntityTypeURL     EntityType = "url"
	EntityTypeTicket  EntityType = "ticket"
	EntityTypeSujet   EntityType = "sujet"
	EntityTypeConcept EntityType = "concept"
)

// ValidEntityTypes is the set of all valid entity types.
var ValidEntityTypes = []EntityType{
	EntityTypeProduct,
	EntityTypeCompany,
	EntityTypePerson,
	EntityTypeEmail,
	EntityTypePhone,
	EntityTypeURL,
	EntityTypeTicket,
	EntityTypeSujet,
	EntityTypeConcept,
}

// IsValid returns true if the entity type is recognized.
func (et EntityType) IsValid() bool {
	for i := range ValidEntityTypes {
		if et == ValidEntityTypes[i] {
			return true
		}
	}
	return false
}

// Entity is a named real-world object referenced by memories.
// ID is the canonical id; MemoryIDs is derived from the association table.
type Entity struct {
	ID        string     `json:"canonical_id"`
	Name      string     `json:"name"`
	Type      EntityType `json:"type"`
	Aliases   []string   `json:"aliases,omitempty"`
	MemoryIDs []string   `json:"memory_ids,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Mention is one occurrence of an entity in a piece of text.
// Start and End are byte offsets into the analyzed text; End is exclusive.
type Mention struct {
	Name    string     `json:"name"`
	Type    EntityType `json:"type"`
	Aliases []string   `json:"aliases,omitempty"`
	Start   int        `json:"start"`
	End     int        `json:"end"`
}

// Ambiguity records a name that matched more than one canonical entity.
type Ambiguity struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	MemoryID   string    `json:"memory_id"`
	ChosenID   string    `json:"chosen_id"`
	Candidates []string  `json:"candidates"`
	CreatedAt  time.Time `json:"created_at"`
}
