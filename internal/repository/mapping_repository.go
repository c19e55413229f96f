package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rpattn/rowmap/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const mappingColumns = `id, organization_id, owner_id, entity_type, source_type, name, description, kind,
	rules, defaults, version, raw_headers, normalized_headers, header_hash, header_hash_algorithm,
	active, created_at, updated_at, deleted_at`

type mappingRepository struct {
	pool *pgxpool.Pool
}

// NewMappingRepository wires a mapping repository backed by pgxpool.
func NewMappingRepository(pool *pgxpool.Pool) MappingRepository {
	return &mappingRepository{pool: pool}
}

func (r *mappingRepository) FindActive(ctx context.Context, key domain.MappingKey) (domain.Mapping, error) {
	if r.pool == nil {
		return domain.Mapping{}, fmt.Errorf("mapping repository not initialized")
	}

	row := r.pool.QueryRow(
		ctx,
		`SELECT `+mappingColumns+`
		 FROM import_mappings
		 WHERE organization_id = $1
		   AND entity_type = $2
		   AND source_type = $3
		   AND header_hash = $4
		   AND active
		 ORDER BY created_at
		 LIMIT 1`,
		key.OrganizationID,
		key.EntityType,
		key.SourceType,
		key.HeaderHash,
	)
	mapping, err := scanMapping(row)
	if err != nil {
		return domain.Mapping{}, wrapNotFound(err, "failed to find active mapping")
	}
	return mapping, nil
}

func (r *mappingRepository) Create(ctx context.Context, mapping domain.Mapping) (domain.Mapping, bool, error) {
	if r.pool == nil {
		return domain.Mapping{}, false, fmt.Errorf("mapping repository not initialized")
	}

	rulesJSON, defaultsJSON, err := encodeTables(mapping)
	if err != nil {
		return domain.Mapping{}, false, err
	}

	row := r.pool.QueryRow(
		ctx,
		`INSERT INTO import_mappings (`+mappingColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		 ON CONFLICT (organization_id, entity_type, source_type, header_hash) WHERE active DO NOTHING
		 RETURNING `+mappingColumns,
		mapping.ID,
		mapping.OrganizationID,
		mapping.OwnerID,
		mapping.EntityType,
		mapping.SourceType,
		mapping.Name,
		nullableText(mapping.Description),
		string(mapping.Kind),
		rulesJSON,
		defaultsJSON,
		mapping.Version,
		nonNilStrings(mapping.RawHeaders),
		nonNilStrings(mapping.NormalizedHeaders),
		mapping.HeaderHash,
		mapping.HeaderHashAlgorithm,
		mapping.Active,
		mapping.CreatedAt,
		mapping.UpdatedAt,
		mapping.DeletedAt,
	)
	created, err := scanMapping(row)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Mapping{}, false, fmt.Errorf("failed to create mapping: %w", err)
	}

	// Another writer holds the active slot for this key.
	existing, err := r.FindActive(ctx, mapping.Key())
	if err != nil {
		return domain.Mapping{}, false, err
	}
	return existing, false, nil
}

func (r *mappingRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Mapping, error) {
	if r.pool == nil {
		return domain.Mapping{}, fmt.Errorf("mapping repository not initialized")
	}

	row := r.pool.QueryRow(ctx, `SELECT `+mappingColumns+` FROM import_mappings WHERE id = $1`, id)
	mapping, err := scanMapping(row)
	if err != nil {
		return domain.Mapping{}, wrapNotFound(err, "failed to get mapping")
	}
	return mapping, nil
}

func (r *mappingRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Mapping, error) {
	if len(ids) == 0 {
		return []domain.Mapping{}, nil
	}
	if r.pool == nil {
		return nil, fmt.Errorf("mapping repository not initialized")
	}

	rows, err := r.pool.Query(ctx, `SELECT `+mappingColumns+` FROM import_mappings WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get mappings by IDs: %w", err)
	}
	return collectMappings(rows)
}

func (r *mappingRepository) List(ctx context.Context, organizationID uuid.UUID, filter domain.MappingFilter) ([]domain.Mapping, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("mapping repository not initialized")
	}

	conditions := []string{"organization_id = $1"}
	args := []any{organizationID}
	if filter.EntityType != "" {
		args = append(args, filter.EntityType)
		conditions = append(conditions, fmt.Sprintf("entity_type = $%d", len(args)))
	}
	if filter.SourceType != "" {
		args = append(args, filter.SourceType)
		conditions = append(conditions, fmt.Sprintf("source_type = $%d", len(args)))
	}
	if !filter.IncludeInactive {
		conditions = append(conditions, "active")
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT `+mappingColumns+`
		 FROM import_mappings
		 WHERE `+strings.Join(conditions, " AND ")+`
		 ORDER BY updated_at DESC`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list mappings: %w", err)
	}
	return collectMappings(rows)
}

func (r *mappingRepository) Update(ctx context.Context, mapping domain.Mapping, expectedVersion int) (domain.Mapping, error) {
	if r.pool == nil {
		return domain.Mapping{}, fmt.Errorf("mapping repository not initialized")
	}

	rulesJSON, defaultsJSON, err := encodeTables(mapping)
	if err != nil {
		return domain.Mapping{}, err
	}

	row := r.pool.QueryRow(
		ctx,
		`UPDATE import_mappings
		 SET name = $2, description = $3, rules = $4, defaults = $5, version = $6, updated_at = $7
		 WHERE id = $1 AND version = $8 AND active
		 RETURNING `+mappingColumns,
		mapping.ID,
		mapping.Name,
		nullableText(mapping.Description),
		rulesJSON,
		defaultsJSON,
		mapping.Version,
		mapping.UpdatedAt,
		expectedVersion,
	)
	updated, err := scanMapping(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Mapping{}, fmt.Errorf("failed to update mapping %s: %w", mapping.ID, ErrStaleVersion)
	}
	if err != nil {
		return domain.Mapping{}, fmt.Errorf("failed to update mapping: %w", err)
	}
	return updated, nil
}

func (r *mappingRepository) SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) (domain.Mapping, error) {
	if r.pool == nil {
		return domain.Mapping{}, fmt.Errorf("mapping repository not initialized")
	}

	row := r.pool.QueryRow(
		ctx,
		`UPDATE import_mappings
		 SET active = FALSE, deleted_at = $2, updated_at = $2
		 WHERE id = $1 AND active
		 RETURNING `+mappingColumns,
		id,
		at,
	)
	mapping, err := scanMapping(row)
	if err != nil {
		return domain.Mapping{}, wrapNotFound(err, "failed to delete mapping")
	}
	return mapping, nil
}

func scanMapping(row pgx.Row) (domain.Mapping, error) {
	var (
		mapping      domain.Mapping
		ownerID      pgtype.UUID
		description  pgtype.Text
		kind         string
		rulesJSON    []byte
		defaultsJSON []byte
		deletedAt    pgtype.Timestamptz
	)
	if err := row.Scan(
		&mapping.ID,
		&mapping.OrganizationID,
		&ownerID,
		&mapping.EntityType,
		&mapping.SourceType,
		&mapping.Name,
		&description,
		&kind,
		&rulesJSON,
		&defaultsJSON,
		&mapping.Version,
		&mapping.RawHeaders,
		&mapping.NormalizedHeaders,
		&mapping.HeaderHash,
		&mapping.HeaderHashAlgorithm,
		&mapping.Active,
		&mapping.CreatedAt,
		&mapping.UpdatedAt,
		&deletedAt,
	); err != nil {
		return domain.Mapping{}, err
	}

	if ownerID.Valid {
		owner := uuid.UUID(ownerID.Bytes)
		mapping.OwnerID = &owner
	}
	if description.Valid {
		mapping.Description = description.String
	}
	if deletedAt.Valid {
		at := deletedAt.Time
		mapping.DeletedAt = &at
	}
	mapping.Kind = domain.MappingKind(kind)

	if err := json.Unmarshal(rulesJSON, &mapping.Rules); err != nil {
		return domain.Mapping{}, fmt.Errorf("failed to unmarshal rules: %w", err)
	}
	if len(defaultsJSON) > 0 {
		if err := json.Unmarshal(defaultsJSON, &mapping.Defaults); err != nil {
			return domain.Mapping{}, fmt.Errorf("failed to unmarshal defaults: %w", err)
		}
	}
	return mapping, nil
}

func collectMappings(rows pgx.Rows) ([]domain.Mapping, error) {
	defer rows.Close()

	mappings := []domain.Mapping{}
	for rows.Next() {
		mapping, err := scanMapping(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan mapping: %w", err)
		}
		mappings = append(mappings, mapping)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate mappings: %w", err)
	}
	return mappings, nil
}

func encodeTables(mapping domain.Mapping) ([]byte, any, error) {
	rulesJSON, err := json.Marshal(mapping.Rules)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal rules: %w", err)
	}
	if mapping.Defaults == nil {
		return rulesJSON, nil, nil
	}
	defaultsJSON, err := json.Marshal(mapping.Defaults)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal defaults: %w", err)
	}
	return rulesJSON, defaultsJSON, nil
}

func nullableText(value string) pgtype.Text {
	return pgtype.Text{String: value, Valid: value != ""}
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func wrapNotFound(err error, message string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", message, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", message, err)
}
