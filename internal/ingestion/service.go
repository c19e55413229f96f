package ingestion

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rpattn/rowmap/internal/domain"
	"github.com/rpattn/rowmap/internal/fingerprint"
	"github.com/rpattn/rowmap/internal/mapper"
	"github.com/rpattn/rowmap/internal/mapping"
	"github.com/rpattn/rowmap/internal/repository"
	"github.com/rpattn/rowmap/internal/tabular"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const defaultBatchSize = 500

// EntitySink receives mapped entities for bulk creation.
type EntitySink interface {
	CreateBatch(ctx context.Context, organizationID uuid.UUID, entityType string, entities []map[string]any) (int, error)
}

// Service imports tabular files: it resolves the mapping for the file's
// headers, maps every row and hands the entities to the sink.
type Service struct {
	mappings  *mapping.Service
	sink      EntitySink
	logRepo   repository.IngestionLogRepository
	logger    zerolog.Logger
	batchSize int
}

// NewService creates a new ingestion service.
func NewService(
	mappings *mapping.Service,
	sink EntitySink,
	logRepo repository.IngestionLogRepository,
	logger zerolog.Logger,
) *Service {
	return &Service{
		mappings:  mappings,
		sink:      sink,
		logRepo:   logRepo,
		logger:    logger.With().Str("component", "ingestion").Logger(),
		batchSize: defaultBatchSize,
	}
}

// Request describes the ingestion input.
type Request struct {
	OrganizationID      uuid.UUID
	OwnerID             *uuid.UUID
	EntityType          string
	FileName            string
	HeaderRowIndex      *int
	HeaderHash          string
	HeaderHashAlgorithm string
	// Transforms maps destination paths to built-in transform names.
	Transforms map[string]string
	Data       io.Reader
}

// PreviewRequest describes the preview input prior to ingestion.
type PreviewRequest struct {
	Request
	Limit int
}

// RowError reports a row that could not be turned into an entity.
type RowError struct {
	RowNumber int    `json:"rowNumber"`
	Message   string `json:"message"`
}

// Summary returns ingestion level metrics.
type Summary struct {
	MappingID      uuid.UUID  `json:"mappingId"`
	MappingVersion int        `json:"mappingVersion"`
	MappingCreated bool       `json:"mappingCreated"`
	HeaderHash     string     `json:"headerHash"`
	NeedsRules     bool       `json:"needsRules"`
	TotalRows      int        `json:"totalRows"`
	ValidRows      int        `json:"validRows"`
	InvalidRows    int        `json:"invalidRows"`
	Persisted      int        `json:"persisted"`
	Errors         []RowError `json:"errors"`
}

// PreviewRow captures sample data and the entity it maps to.
type PreviewRow struct {
	RowNumber int            `json:"rowNumber"`
	Values    map[string]any `json:"values"`
	Entity    map[string]any `json:"entity,omitempty"`
	Errors    []string       `json:"errors,omitempty"`
}

// PreviewResult returns preview metadata back to clients.
type PreviewResult struct {
	Fingerprint      fingerprint.Fingerprint   `json:"fingerprint"`
	SourceType       string                    `json:"sourceType"`
	Mapping          *domain.Mapping           `json:"mapping,omitempty"`
	TotalRows        int                       `json:"totalRows"`
	Rows             []PreviewRow              `json:"rows"`
	HeaderCandidates []tabular.HeaderCandidate `json:"headerCandidates"`
}

// Import reads the uploaded file, resolves its mapping and persists every
// row that maps cleanly. Rows whose transforms fail are logged and skipped.
func (s *Service) Import(ctx context.Context, req Request) (Summary, error) {
	summary := Summary{Errors: []RowError{}}

	table, transforms, err := s.load(req)
	if err != nil {
		return summary, err
	}
	summary.TotalRows = len(table.Rows)

	res, err := s.mappings.FindOrCreate(ctx, s.resolveRequest(req, table))
	if err != nil {
		return summary, err
	}
	m := res.Mapping
	summary.MappingID = m.ID
	summary.MappingVersion = m.Version
	summary.MappingCreated = res.Created
	summary.HeaderHash = m.HeaderHash

	if len(m.Rules) == 0 {
		summary.NeedsRules = true
		s.logger.Info().
			Str("mapping_id", m.ID.String()).
			Str("file", req.FileName).
			Msg("mapping has no rules yet, nothing imported")
		return summary, nil
	}

	engine := s.mappings.Engine()
	valid := make([]map[string]any, 0, len(table.Rows))
	for i, row := range table.KeyedBy(m.RawHeaders).RowMaps() {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		rowNumber := i + 1

		entity, err := engine.Apply(m, row)
		if err != nil {
			return summary, err
		}
		if err := mapper.ApplyTransforms(entity, transforms); err != nil {
			summary.InvalidRows++
			summary.Errors = append(summary.Errors, RowError{RowNumber: rowNumber, Message: err.Error()})
			s.logIngestionError(ctx, req, &m.ID, &rowNumber, err)
			continue
		}
		valid = append(valid, entity)
	}
	summary.ValidRows = len(valid)

	for start := 0; start < len(valid); start += s.batchSize {
		end := start + s.batchSize
		if end > len(valid) {
			end = len(valid)
		}
		created, err := s.sink.CreateBatch(ctx, req.OrganizationID, m.EntityType, valid[start:end])
		summary.Persisted += created
		if err != nil {
			s.logIngestionError(ctx, req, &m.ID, nil, err)
			return summary, errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg(fmt.Sprintf("failed to persist entities %d-%d", start+1, end)).
				WithCause(err)
		}
	}

	s.logger.Info().
		Str("mapping_id", m.ID.String()).
		Str("file", req.FileName).
		Int("rows", summary.TotalRows).
		Int("persisted", summary.Persisted).
		Int("invalid", summary.InvalidRows).
		Msg("import finished")
	return summary, nil
}

// Preview parses the file and maps a sample of rows with the existing
// mapping, if any. It never creates a mapping or persists entities.
func (s *Service) Preview(ctx context.Context, req PreviewRequest) (PreviewResult, error) {
	table, transforms, err := s.load(req.Request)
	if err != nil {
		return PreviewResult{}, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 20
	}

	resolveReq := s.resolveRequest(req.Request, table)
	m, found, err := s.mappings.Lookup(ctx, resolveReq)
	if err != nil {
		return PreviewResult{}, err
	}

	algorithm := req.HeaderHashAlgorithm
	if strings.TrimSpace(algorithm) == "" {
		algorithm = s.mappings.Algorithm()
	}
	fp, err := fingerprint.Compute(table.Headers, algorithm)
	if err != nil {
		return PreviewResult{}, err
	}

	result := PreviewResult{
		Fingerprint:      fp,
		SourceType:       table.SourceType,
		TotalRows:        len(table.Rows),
		Rows:             []PreviewRow{},
		HeaderCandidates: table.HeaderCandidates(10),
	}
	if found {
		result.Mapping = &m
		table = table.KeyedBy(m.RawHeaders)
	}

	for i, row := range table.RowMaps() {
		if i >= limit {
			break
		}
		preview := PreviewRow{RowNumber: i + 1, Values: row}
		if found {
			entity, err := s.mappings.Engine().Apply(m, row)
			if err == nil {
				err = mapper.ApplyTransforms(entity, transforms)
			}
			if err != nil {
				preview.Errors = append(preview.Errors, err.Error())
			} else {
				preview.Entity = entity
			}
		}
		result.Rows = append(result.Rows, preview)
	}

	return result, nil
}

func (s *Service) load(req Request) (tabular.Table, mapper.TransformTable, error) {
	if strings.TrimSpace(req.EntityType) == "" {
		return tabular.Table{}, nil, invalidArgument("entityType is required", nil)
	}
	if req.Data == nil {
		return tabular.Table{}, nil, invalidArgument("data reader is required", nil)
	}

	transforms, err := mapper.BuildTransformTable(req.Transforms)
	if err != nil {
		return tabular.Table{}, nil, invalidArgument("invalid transforms", err)
	}

	payload, err := io.ReadAll(req.Data)
	if err != nil {
		return tabular.Table{}, nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if len(payload) == 0 {
		return tabular.Table{}, nil, invalidArgument("file is empty", nil)
	}

	table, err := tabular.Parse(req.FileName, payload, req.HeaderRowIndex)
	if err != nil {
		return tabular.Table{}, nil, invalidArgument(fmt.Sprintf("failed to parse %s", req.FileName), err)
	}
	if len(table.Headers) == 0 {
		return tabular.Table{}, nil, invalidArgument("no header row detected", nil)
	}
	return table, transforms, nil
}

func (s *Service) resolveRequest(req Request, table tabular.Table) mapping.FindOrCreateRequest {
	return mapping.FindOrCreateRequest{
		OrganizationID:      req.OrganizationID,
		OwnerID:             req.OwnerID,
		EntityType:          req.EntityType,
		SourceType:          table.SourceType,
		RawHeaders:          table.Headers,
		HeaderHash:          req.HeaderHash,
		HeaderHashAlgorithm: req.HeaderHashAlgorithm,
		Name:                req.FileName,
	}
}

func (s *Service) logIngestionError(ctx context.Context, req Request, mappingID *uuid.UUID, rowNumber *int, err error) {
	if s.logRepo == nil || err == nil {
		return
	}
	entry := domain.IngestionLogEntry{
		OrganizationID: req.OrganizationID,
		MappingID:      mappingID,
		EntityType:     req.EntityType,
		FileName:       req.FileName,
		RowNumber:      rowNumber,
		ErrorMessage:   err.Error(),
	}
	if recordErr := s.logRepo.Record(ctx, entry); recordErr != nil {
		s.logger.Warn().Err(recordErr).Msg("failed to record ingestion log")
	}
}

func invalidArgument(msg string, cause error) error {
	b := errbuilder.New().
		WithCode(errbuilder.CodeInvalidArgument).
		WithMsg(msg)
	if cause != nil {
		return b.WithCause(cause)
	}
	return b
}
