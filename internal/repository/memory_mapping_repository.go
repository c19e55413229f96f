package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rpattn/rowmap/internal/domain"

	"github.com/google/uuid"
)

// MemoryMappingRepository keeps mappings in process. It backs the CLI and
// tests, and honours the same single-active-mapping-per-key rule as the
// Postgres implementation.
type MemoryMappingRepository struct {
	mu       sync.RWMutex
	mappings map[uuid.UUID]domain.Mapping
	active   map[domain.MappingKey]uuid.UUID
}

// NewMemoryMappingRepository returns an empty in-memory repository.
func NewMemoryMappingRepository() *MemoryMappingRepository {
	return &MemoryMappingRepository{
		mappings: make(map[uuid.UUID]domain.Mapping),
		active:   make(map[domain.MappingKey]uuid.UUID),
	}
}

var _ MappingRepository = (*MemoryMappingRepository)(nil)

func (r *MemoryMappingRepository) FindActive(_ context.Context, key domain.MappingKey) (domain.Mapping, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.active[key]
	if !ok {
		return domain.Mapping{}, fmt.Errorf("failed to find active mapping: %w", ErrNotFound)
	}
	return r.mappings[id], nil
}

func (r *MemoryMappingRepository) Create(_ context.Context, mapping domain.Mapping) (domain.Mapping, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := mapping.Key()
	if mapping.Active {
		if id, ok := r.active[key]; ok {
			return r.mappings[id], false, nil
		}
	}
	if _, exists := r.mappings[mapping.ID]; exists {
		return domain.Mapping{}, false, fmt.Errorf("failed to create mapping: duplicate id %s", mapping.ID)
	}

	r.mappings[mapping.ID] = mapping
	if mapping.Active {
		r.active[key] = mapping.ID
	}
	return mapping, true, nil
}

func (r *MemoryMappingRepository) GetByID(_ context.Context, id uuid.UUID) (domain.Mapping, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	mapping, ok := r.mappings[id]
	if !ok {
		return domain.Mapping{}, fmt.Errorf("failed to get mapping: %w", ErrNotFound)
	}
	return mapping, nil
}

func (r *MemoryMappingRepository) GetByIDs(_ context.Context, ids []uuid.UUID) ([]domain.Mapping, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Mapping, 0, len(ids))
	for _, id := range ids {
		if mapping, ok := r.mappings[id]; ok {
			out = append(out, mapping)
		}
	}
	return out, nil
}

func (r *MemoryMappingRepository) List(_ context.Context, organizationID uuid.UUID, filter domain.MappingFilter) ([]domain.Mapping, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []domain.Mapping{}
	for _, mapping := range r.mappings {
		if mapping.OrganizationID != organizationID {
			continue
		}
		if filter.EntityType != "" && mapping.EntityType != filter.EntityType {
			continue
		}
		if filter.SourceType != "" && mapping.SourceType != filter.SourceType {
			continue
		}
		if !filter.IncludeInactive && !mapping.Active {
			continue
		}
		out = append(out, mapping)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (r *MemoryMappingRepository) Update(_ context.Context, mapping domain.Mapping, expectedVersion int) (domain.Mapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.mappings[mapping.ID]
	if !ok || !current.Active || current.Version != expectedVersion {
		return domain.Mapping{}, fmt.Errorf("failed to update mapping %s: %w", mapping.ID, ErrStaleVersion)
	}

	// Identity, key and headers are immutable once created.
	current.Name = mapping.Name
	current.Description = mapping.Description
	current.Rules = mapping.Rules.Clone()
	current.Defaults = mapping.Defaults.Clone()
	current.Version = mapping.Version
	current.UpdatedAt = mapping.UpdatedAt
	r.mappings[mapping.ID] = current
	return current, nil
}

func (r *MemoryMappingRepository) SoftDelete(_ context.Context, id uuid.UUID, at time.Time) (domain.Mapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.mappings[id]
	if !ok || !current.Active {
		return domain.Mapping{}, fmt.Errorf("failed to delete mapping: %w", ErrNotFound)
	}

	deleted := current.Deactivated(at)
	r.mappings[id] = deleted
	if r.active[current.Key()] == id {
		delete(r.active, current.Key())
	}
	return deleted, nil
}
