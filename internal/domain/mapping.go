package domain

import (
	"time"

	"github.com/google/uuid"
)

// MappingKind selects how a mapping's rules are interpreted.
type MappingKind string

const (
	// MappingKindPath replays source path -> destination path rules.
	MappingKindPath MappingKind = "path"
	// MappingKindJSONata is reserved for expression mappings and cannot be applied.
	MappingKindJSONata MappingKind = "jsonata"
)

// Valid reports whether the kind is a known discriminator.
func (k MappingKind) Valid() bool {
	return k == MappingKindPath || k == MappingKindJSONata
}

// MappingKey addresses the mapping reused for a header set.
type MappingKey struct {
	OrganizationID uuid.UUID
	EntityType     string
	SourceType     string
	HeaderHash     string
}

// Mapping is the persisted configuration replayed against every row of a
// source file whose headers match HeaderHash.
type Mapping struct {
	ID                  uuid.UUID    `json:"id"`
	OrganizationID      uuid.UUID    `json:"organizationId"`
	OwnerID             *uuid.UUID   `json:"ownerId,omitempty"`
	EntityType          string       `json:"entityType"`
	SourceType          string       `json:"sourceType"`
	Name                string       `json:"name"`
	Description         string       `json:"description,omitempty"`
	Kind                MappingKind  `json:"kind"`
	Rules               RuleTable    `json:"rules"`
	Defaults            DefaultTable `json:"defaults,omitempty"`
	Version             int          `json:"version"`
	RawHeaders          []string     `json:"rawHeaders"`
	NormalizedHeaders   []string     `json:"normalizedHeaders"`
	HeaderHash          string       `json:"headerHash"`
	HeaderHashAlgorithm string       `json:"headerHashAlgorithm"`
	Active              bool         `json:"active"`
	CreatedAt           time.Time    `json:"createdAt"`
	UpdatedAt           time.Time    `json:"updatedAt"`
	DeletedAt           *time.Time   `json:"deletedAt,omitempty"`
}

// MappingDraft carries everything needed to create a mapping.
type MappingDraft struct {
	OrganizationID      uuid.UUID
	OwnerID             *uuid.UUID
	EntityType          string
	SourceType          string
	Name                string
	Description         string
	Kind                MappingKind
	Rules               RuleTable
	Defaults            DefaultTable
	RawHeaders          []string
	NormalizedHeaders   []string
	HeaderHash          string
	HeaderHashAlgorithm string
}

// NewMapping creates an active version 1 mapping from a draft.
func NewMapping(draft MappingDraft) Mapping {
	now := time.Now().UTC()
	kind := draft.Kind
	if kind == "" {
		kind = MappingKindPath
	}
	return Mapping{
		ID:                  uuid.New(),
		OrganizationID:      draft.OrganizationID,
		OwnerID:             draft.OwnerID,
		EntityType:          draft.EntityType,
		SourceType:          draft.SourceType,
		Name:                draft.Name,
		Description:         draft.Description,
		Kind:                kind,
		Rules:               draft.Rules.Clone(),
		Defaults:            draft.Defaults.Clone(),
		Version:             1,
		RawHeaders:          append([]string(nil), draft.RawHeaders...),
		NormalizedHeaders:   append([]string(nil), draft.NormalizedHeaders...),
		HeaderHash:          draft.HeaderHash,
		HeaderHashAlgorithm: draft.HeaderHashAlgorithm,
		Active:              true,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// Key returns the lookup key of the mapping.
func (m Mapping) Key() MappingKey {
	return MappingKey{
		OrganizationID: m.OrganizationID,
		EntityType:     m.EntityType,
		SourceType:     m.SourceType,
		HeaderHash:     m.HeaderHash,
	}
}

// WithRules returns the next version of the mapping carrying new rules and defaults.
func (m Mapping) WithRules(rules RuleTable, defaults DefaultTable) Mapping {
	next := m.clone()
	next.Rules = rules.Clone()
	next.Defaults = defaults.Clone()
	next.Version = m.Version + 1
	next.UpdatedAt = time.Now().UTC()
	return next
}

// WithName returns a copy with an updated name and description.
func (m Mapping) WithName(name, description string) Mapping {
	next := m.clone()
	next.Name = name
	next.Description = description
	next.UpdatedAt = time.Now().UTC()
	return next
}

// Deactivated returns the soft-deleted form of the mapping.
func (m Mapping) Deactivated(at time.Time) Mapping {
	next := m.clone()
	deletedAt := at.UTC()
	next.Active = false
	next.DeletedAt = &deletedAt
	next.UpdatedAt = deletedAt
	return next
}

func (m Mapping) clone() Mapping {
	next := m
	next.Rules = m.Rules.Clone()
	next.Defaults = m.Defaults.Clone()
	next.RawHeaders = append([]string(nil), m.RawHeaders...)
	next.NormalizedHeaders = append([]string(nil), m.NormalizedHeaders...)
	if m.DeletedAt != nil {
		deletedAt := *m.DeletedAt
		next.DeletedAt = &deletedAt
	}
	return next
}

// MappingFilter narrows mapping listings.
type MappingFilter struct {
	EntityType      string
	SourceType      string
	IncludeInactive bool
}
