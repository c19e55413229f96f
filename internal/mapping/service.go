package mapping

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rpattn/rowmap/internal/auth"
	"github.com/rpattn/rowmap/internal/domain"
	"github.com/rpattn/rowmap/internal/fingerprint"
	"github.com/rpattn/rowmap/internal/repository"
	"github.com/rpattn/rowmap/pkg/pathexpr"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// FindOrCreateRequest identifies the header layout of a source file and
// carries the mapping to create when none exists yet.
type FindOrCreateRequest struct {
	OrganizationID uuid.UUID
	OwnerID        *uuid.UUID
	EntityType     string
	SourceType     string

	RawHeaders []string
	// NormalizedHeaders are computed from RawHeaders when omitted.
	NormalizedHeaders []string
	// HeaderHash is the caller's fingerprint. When set it must match the
	// server-side digest.
	HeaderHash          string
	HeaderHashAlgorithm string

	Name        string
	Description string
	Kind        domain.MappingKind
	Rules       domain.RuleTable
	Defaults    domain.DefaultTable
}

// Resolution is the outcome of FindOrCreate.
type Resolution struct {
	Mapping domain.Mapping `json:"mapping"`
	Created bool           `json:"created"`
}

// UpdateRulesRequest replaces the rules of an active mapping.
type UpdateRulesRequest struct {
	ID uuid.UUID
	// ExpectedVersion guards against lost updates; 0 skips the check.
	ExpectedVersion int
	Rules           domain.RuleTable
	Defaults        domain.DefaultTable
	Name            *string
	Description     *string
}

// Service resolves mappings by header fingerprint and manages their lifecycle.
type Service struct {
	repo      repository.MappingRepository
	engine    *Engine
	logger    zerolog.Logger
	algorithm string
	now       func() time.Time
}

// NewService wires a mapping service. An empty algorithm selects the fingerprint default.
func NewService(repo repository.MappingRepository, logger zerolog.Logger, algorithm string) *Service {
	if algorithm == "" {
		algorithm = fingerprint.DefaultAlgorithm
	}
	return &Service{
		repo:      repo,
		engine:    NewEngine(),
		logger:    logger.With().Str("component", "mapping").Logger(),
		algorithm: algorithm,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Algorithm is the header hash algorithm used when a request names none.
func (s *Service) Algorithm() string {
	return s.algorithm
}

// Engine exposes the rule engine used by Apply.
func (s *Service) Engine() *Engine {
	return s.engine
}

type preparedRequest struct {
	key        domain.MappingKey
	normalized []string
	algorithm  string
	kind       domain.MappingKind
}

// FindOrCreate returns the active mapping for the request's tenant, entity
// type, source type and header fingerprint, creating a version 1 mapping when
// none exists. Fingerprint disagreements are rejected before the repository
// is consulted.
func (s *Service) FindOrCreate(ctx context.Context, req FindOrCreateRequest) (Resolution, error) {
	prepared, err := s.prepare(ctx, req)
	if err != nil {
		return Resolution{}, err
	}

	existing, found, err := s.findActive(ctx, prepared.key)
	if err != nil {
		return Resolution{}, err
	}
	if found {
		return Resolution{Mapping: existing}, nil
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = fmt.Sprintf("%s from %s", prepared.key.EntityType, prepared.key.SourceType)
	}
	draft := domain.NewMapping(domain.MappingDraft{
		OrganizationID:      req.OrganizationID,
		OwnerID:             req.OwnerID,
		EntityType:          prepared.key.EntityType,
		SourceType:          prepared.key.SourceType,
		Name:                name,
		Description:         req.Description,
		Kind:                prepared.kind,
		Rules:               req.Rules,
		Defaults:            req.Defaults,
		RawHeaders:          req.RawHeaders,
		NormalizedHeaders:   prepared.normalized,
		HeaderHash:          prepared.key.HeaderHash,
		HeaderHashAlgorithm: prepared.algorithm,
	})
	if draft.Rules == nil {
		draft.Rules = domain.RuleTable{}
	}

	stored, created, err := s.repo.Create(ctx, draft)
	if err != nil {
		return Resolution{}, internal("failed to create mapping", err)
	}

	s.logger.Info().
		Str("mapping_id", stored.ID.String()).
		Str("organization_id", stored.OrganizationID.String()).
		Str("entity_type", stored.EntityType).
		Str("header_hash", stored.HeaderHash).
		Bool("created", created).
		Msg("mapping resolved")
	return Resolution{Mapping: stored, Created: created}, nil
}

// Lookup runs the same checks as FindOrCreate but never writes. found is
// false when no active mapping exists for the headers.
func (s *Service) Lookup(ctx context.Context, req FindOrCreateRequest) (domain.Mapping, bool, error) {
	prepared, err := s.prepare(ctx, req)
	if err != nil {
		return domain.Mapping{}, false, err
	}
	return s.findActive(ctx, prepared.key)
}

func (s *Service) findActive(ctx context.Context, key domain.MappingKey) (domain.Mapping, bool, error) {
	existing, err := s.repo.FindActive(ctx, key)
	if err == nil {
		s.logger.Debug().
			Str("mapping_id", existing.ID.String()).
			Str("header_hash", key.HeaderHash).
			Msg("mapping reused")
		return existing, true, nil
	}
	if errors.Is(err, repository.ErrNotFound) {
		return domain.Mapping{}, false, nil
	}
	return domain.Mapping{}, false, internal("failed to look up mapping", err)
}

func (s *Service) prepare(ctx context.Context, req FindOrCreateRequest) (preparedRequest, error) {
	entityType := strings.TrimSpace(req.EntityType)
	sourceType := strings.TrimSpace(req.SourceType)
	if err := auth.EnforceOrganizationScope(ctx, req.OrganizationID); err != nil {
		return preparedRequest{}, err
	}
	if entityType == "" {
		return preparedRequest{}, invalidArgument("entityType is required")
	}
	if sourceType == "" {
		return preparedRequest{}, invalidArgument("sourceType is required")
	}
	if len(req.RawHeaders) == 0 {
		return preparedRequest{}, invalidArgument("rawHeaders must not be empty")
	}

	algorithmName := req.HeaderHashAlgorithm
	if strings.TrimSpace(algorithmName) == "" {
		algorithmName = s.algorithm
	}
	algorithm, err := fingerprint.CanonicalAlgorithm(algorithmName)
	if err != nil {
		return preparedRequest{}, err
	}

	normalized := req.NormalizedHeaders
	if normalized == nil {
		normalized = fingerprint.Normalize(req.RawHeaders)
	}
	if len(normalized) != len(req.RawHeaders) {
		return preparedRequest{}, invalidArgument(fmt.Sprintf(
			"normalizedHeaders has %d entries but rawHeaders has %d", len(normalized), len(req.RawHeaders)))
	}

	digest, err := fingerprint.Hash(normalized, algorithm)
	if err != nil {
		return preparedRequest{}, err
	}
	if claimed := strings.TrimSpace(req.HeaderHash); claimed != "" && !strings.EqualFold(claimed, digest) {
		return preparedRequest{}, invalidArgument(fmt.Sprintf(
			"header hash mismatch: client sent %s, server computed %s (%s)", claimed, digest, algorithm))
	}

	kind := req.Kind
	if kind == "" {
		kind = domain.MappingKindPath
	}
	if !kind.Valid() {
		return preparedRequest{}, invalidArgument(fmt.Sprintf("unknown mapping kind %q", kind))
	}
	if err := ValidateTables(req.Rules, req.Defaults); err != nil {
		return preparedRequest{}, err
	}

	return preparedRequest{
		key: domain.MappingKey{
			OrganizationID: req.OrganizationID,
			EntityType:     entityType,
			SourceType:     sourceType,
			HeaderHash:     digest,
		},
		normalized: normalized,
		algorithm:  algorithm,
		kind:       kind,
	}, nil
}

// Get returns a mapping by id. Mappings outside the caller's organization
// scope are reported as not found.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (domain.Mapping, error) {
	if id == uuid.Nil {
		return domain.Mapping{}, invalidArgument("mapping id is required")
	}
	m, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return domain.Mapping{}, translate(err, id)
	}
	if scoped, ok := auth.OrganizationIDFromContext(ctx); ok && scoped != m.OrganizationID {
		return domain.Mapping{}, notFound(id)
	}
	return m, nil
}

// List returns the tenant's mappings, most recently updated first.
func (s *Service) List(ctx context.Context, organizationID uuid.UUID, filter domain.MappingFilter) ([]domain.Mapping, error) {
	organizationID, err := auth.ResolveOrganizationID(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	filter.EntityType = strings.TrimSpace(filter.EntityType)
	filter.SourceType = strings.TrimSpace(filter.SourceType)

	mappings, err := s.repo.List(ctx, organizationID, filter)
	if err != nil {
		return nil, internal("failed to list mappings", err)
	}
	return mappings, nil
}

// UpdateRules stores new rules as the next version of an active mapping.
func (s *Service) UpdateRules(ctx context.Context, req UpdateRulesRequest) (domain.Mapping, error) {
	current, err := s.Get(ctx, req.ID)
	if err != nil {
		return domain.Mapping{}, err
	}
	if !current.Active {
		return domain.Mapping{}, failedPrecondition(fmt.Sprintf("mapping %s is inactive", current.ID))
	}
	if req.ExpectedVersion != 0 && req.ExpectedVersion != current.Version {
		return domain.Mapping{}, staleVersion(current.ID, req.ExpectedVersion, current.Version)
	}
	if err := ValidateTables(req.Rules, req.Defaults); err != nil {
		return domain.Mapping{}, err
	}

	rules := req.Rules
	if rules == nil {
		rules = domain.RuleTable{}
	}
	next := current.WithRules(rules, req.Defaults)
	if req.Name != nil || req.Description != nil {
		name, description := next.Name, next.Description
		if req.Name != nil {
			name = strings.TrimSpace(*req.Name)
		}
		if req.Description != nil {
			description = *req.Description
		}
		next = next.WithName(name, description)
	}

	updated, err := s.repo.Update(ctx, next, current.Version)
	if err != nil {
		if errors.Is(err, repository.ErrStaleVersion) {
			return domain.Mapping{}, staleVersion(current.ID, current.Version, 0)
		}
		return domain.Mapping{}, internal("failed to update mapping", err)
	}

	s.logger.Info().
		Str("mapping_id", updated.ID.String()).
		Int("version", updated.Version).
		Int("rules", len(updated.Rules)).
		Msg("mapping rules updated")
	return updated, nil
}

// Deactivate soft deletes a mapping. The next import with the same headers
// creates a fresh mapping.
func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) (domain.Mapping, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return domain.Mapping{}, err
	}
	if !current.Active {
		return current, nil
	}

	deleted, err := s.repo.SoftDelete(ctx, id, s.now())
	if err != nil {
		return domain.Mapping{}, translate(err, id)
	}
	s.logger.Info().Str("mapping_id", id.String()).Msg("mapping deactivated")
	return deleted, nil
}

// Apply loads a mapping and maps every row with it.
func (s *Service) Apply(ctx context.Context, id uuid.UUID, rows []map[string]any) ([]map[string]any, error) {
	m, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.ApplyMapping(m, rows)
}

// ApplyMapping maps rows with an already loaded mapping.
func (s *Service) ApplyMapping(m domain.Mapping, rows []map[string]any) ([]map[string]any, error) {
	if !m.Active {
		return nil, failedPrecondition(fmt.Sprintf("mapping %s is inactive", m.ID))
	}
	return s.engine.ApplyAll(m, rows)
}

// ValidateTables checks authored rules and defaults: every rule needs a
// source and every destination or default path must pass pathexpr.Validate.
func ValidateTables(rules domain.RuleTable, defaults domain.DefaultTable) error {
	for i, rule := range rules {
		if strings.TrimSpace(rule.Source) == "" {
			return invalidArgument(fmt.Sprintf("rule %d: source is required", i))
		}
		if err := pathexpr.Validate(rule.Destination); err != nil {
			return errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("rule %d: invalid destination %q", i, rule.Destination)).
				WithCause(err)
		}
	}
	for _, path := range defaults.Paths() {
		if err := pathexpr.Validate(path); err != nil {
			return errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("invalid default path %q", path)).
				WithCause(err)
		}
	}
	return nil
}

func translate(err error, id uuid.UUID) error {
	if errors.Is(err, repository.ErrNotFound) {
		return notFound(id)
	}
	return internal("mapping repository failure", err)
}

func invalidArgument(msg string) error {
	return errbuilder.New().
		WithCode(errbuilder.CodeInvalidArgument).
		WithMsg(msg)
}

func failedPrecondition(msg string) error {
	return errbuilder.New().
		WithCode(errbuilder.CodeFailedPrecondition).
		WithMsg(msg)
}

func staleVersion(id uuid.UUID, expected, current int) error {
	msg := fmt.Sprintf("mapping %s changed concurrently: expected version %d", id, expected)
	if current > 0 {
		msg = fmt.Sprintf("mapping %s is at version %d, expected %d", id, current, expected)
	}
	return failedPrecondition(msg)
}

func notFound(id uuid.UUID) error {
	return errbuilder.New().
		WithCode(errbuilder.CodeNotFound).
		WithMsg(fmt.Sprintf("mapping %s not found", id))
}

func internal(msg string, cause error) error {
	return errbuilder.New().
		WithCode(errbuilder.CodeInternal).
		WithMsg(msg).
		WithCause(cause)
}

// IsUnsupportedKind reports whether err came from applying a mapping kind
// the engine cannot run.
func IsUnsupportedKind(err error) bool {
	return errors.Is(err, ErrUnsupportedKind)
}
