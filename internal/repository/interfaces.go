package repository

import (
	"context"
	"errors"
	"time"

	"github.com/rpattn/rowmap/internal/domain"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when no row matches the lookup.
	ErrNotFound = errors.New("not found")
	// ErrStaleVersion is returned when an update targets a version that is no longer current.
	ErrStaleVersion = errors.New("stale mapping version")
)

// MappingRepository persists import mappings.
type MappingRepository interface {
	// FindActive returns the active mapping for key or ErrNotFound.
	FindActive(ctx context.Context, key domain.MappingKey) (domain.Mapping, error)
	// Create inserts the mapping unless an active mapping already exists for
	// its key, in which case the existing one is returned with created=false.
	Create(ctx context.Context, mapping domain.Mapping) (domain.Mapping, bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.Mapping, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Mapping, error)
	List(ctx context.Context, organizationID uuid.UUID, filter domain.MappingFilter) ([]domain.Mapping, error)
	// Update stores mapping if the persisted version still equals expectedVersion.
	Update(ctx context.Context, mapping domain.Mapping, expectedVersion int) (domain.Mapping, error)
	SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) (domain.Mapping, error)
}

// IngestionLogRepository stores ingestion errors for observability.
type IngestionLogRepository interface {
	Record(ctx context.Context, entry domain.IngestionLogEntry) error
	List(ctx context.Context, organizationID uuid.UUID, fileName string, limit int, offset int) ([]domain.IngestionLogEntry, error)
}
