package httpapi

import (
	"net/http"
	"sync"

	"github.com/rpattn/rowmap/internal/auth"
	"github.com/rpattn/rowmap/internal/domain"
	"github.com/rpattn/rowmap/internal/fingerprint"
	"github.com/rpattn/rowmap/internal/mapper"
	"github.com/rpattn/rowmap/internal/mapping"
	"github.com/rpattn/rowmap/internal/middleware"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/google/uuid"
)

type resolveRequest struct {
	OrganizationID      uuid.UUID           `json:"organizationId"`
	OwnerID             *uuid.UUID          `json:"ownerId,omitempty"`
	EntityType          string              `json:"entityType"`
	SourceType          string              `json:"sourceType"`
	RawHeaders          []string            `json:"rawHeaders"`
	NormalizedHeaders   []string            `json:"normalizedHeaders,omitempty"`
	HeaderHash          string              `json:"headerHash,omitempty"`
	HeaderHashAlgorithm string              `json:"headerHashAlgorithm,omitempty"`
	Name                string              `json:"name,omitempty"`
	Description         string              `json:"description,omitempty"`
	Kind                domain.MappingKind  `json:"kind,omitempty"`
	Rules               domain.RuleTable    `json:"rules,omitempty"`
	Defaults            domain.DefaultTable `json:"defaults,omitempty"`
}

type updateRequest struct {
	ExpectedVersion int                 `json:"expectedVersion"`
	Rules           domain.RuleTable    `json:"rules"`
	Defaults        domain.DefaultTable `json:"defaults,omitempty"`
	Name            *string             `json:"name,omitempty"`
	Description     *string             `json:"description,omitempty"`
}

type rowsRequest struct {
	Rows []map[string]any `json:"rows"`
}

type entitiesResponse struct {
	MappingID      uuid.UUID        `json:"mappingId"`
	MappingVersion int              `json:"mappingVersion"`
	Entities       []map[string]any `json:"entities"`
}

type batchItem struct {
	MappingID uuid.UUID        `json:"mappingId"`
	Rows      []map[string]any `json:"rows"`
}

type batchRequest struct {
	Items []batchItem `json:"items"`
}

type batchResult struct {
	MappingID uuid.UUID        `json:"mappingId"`
	Entities  []map[string]any `json:"entities,omitempty"`
	Error     string           `json:"error,omitempty"`
	Status    int              `json:"status"`
}

type mapRequest struct {
	Rules      domain.RuleTable  `json:"rules"`
	Transforms map[string]string `json:"transforms,omitempty"`
	Rows       []map[string]any  `json:"rows"`
}

type fingerprintRequest struct {
	Headers   []string `json:"headers"`
	Algorithm string   `json:"algorithm,omitempty"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	orgID, err := auth.ResolveOrganizationID(r.Context(), req.OrganizationID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.mappings.FindOrCreate(r.Context(), mapping.FindOrCreateRequest{
		OrganizationID:      orgID,
		OwnerID:             req.OwnerID,
		EntityType:          req.EntityType,
		SourceType:          req.SourceType,
		RawHeaders:          req.RawHeaders,
		NormalizedHeaders:   req.NormalizedHeaders,
		HeaderHash:          req.HeaderHash,
		HeaderHashAlgorithm: req.HeaderHashAlgorithm,
		Name:                req.Name,
		Description:         req.Description,
		Kind:                req.Kind,
		Rules:               req.Rules,
		Defaults:            req.Defaults,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	orgID, err := parseOptionalUUID(query.Get("organizationId"), "organizationId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	mappings, err := s.mappings.List(r.Context(), orgID, domain.MappingFilter{
		EntityType:      query.Get("entityType"),
		SourceType:      query.Get("sourceType"),
		IncludeInactive: query.Get("includeInactive") == "true",
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"mappings": mappings})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	m, err := s.mappings.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req updateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	updated, err := s.mappings.UpdateRules(r.Context(), mapping.UpdateRulesRequest{
		ID:              id,
		ExpectedVersion: req.ExpectedVersion,
		Rules:           req.Rules,
		Defaults:        req.Defaults,
		Name:            req.Name,
		Description:     req.Description,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	deleted, err := s.mappings.Deactivate(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deleted)
}

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req rowsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	m, err := s.mappings.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	entities, err := s.mappings.ApplyMapping(m, req.Rows)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entitiesResponse{MappingID: m.ID, MappingVersion: m.Version, Entities: entities})
}

// handleApplyBatch applies several mappings in one request. Mapping lookups
// go through the request's loader so repeated or concurrent ids cost one
// repository round trip.
func (s *Server) handleApplyBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	loader := middleware.MappingLoaderFromContext(r.Context())
	if loader == nil {
		s.writeError(w, r, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("mapping loader not configured"))
		return
	}

	scopedID, scoped := auth.OrganizationIDFromContext(r.Context())
	results := make([]batchResult, len(req.Items))
	var wg sync.WaitGroup
	for i, item := range req.Items {
		wg.Add(1)
		go func(i int, item batchItem) {
			defer wg.Done()
			result := batchResult{MappingID: item.MappingID, Status: http.StatusOK}

			m, err := loader.Load(r.Context(), item.MappingID)
			if err == nil && scoped && m.OrganizationID != scopedID {
				err = errbuilder.New().
					WithCode(errbuilder.CodeNotFound).
					WithMsg("mapping " + item.MappingID.String() + " not found")
			}
			if err == nil {
				result.Entities, err = s.mappings.ApplyMapping(m, item.Rows)
			}
			if err != nil {
				result.Status = statusFor(err)
				result.Error = errorMessage(err)
				result.Entities = nil
			}
			results[i] = result
		}(i, item)
	}
	wg.Wait()

	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleMap(w http.ResponseWriter, r *http.Request) {
	var req mapRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := mapping.ValidateTables(req.Rules, nil); err != nil {
		s.writeError(w, r, err)
		return
	}
	transforms, err := mapper.BuildTransformTable(req.Transforms)
	if err != nil {
		s.writeError(w, r, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(err.Error()))
		return
	}

	entities, err := mapper.TransformCSV(req.Rows, req.Rules, transforms)
	if err != nil {
		s.writeError(w, r, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(err.Error()).
			WithCause(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entities": entities})
}

func (s *Server) handleFingerprint(w http.ResponseWriter, r *http.Request) {
	var req fingerprintRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	algorithm := req.Algorithm
	if algorithm == "" {
		algorithm = s.mappings.Algorithm()
	}
	fp, err := fingerprint.Compute(req.Headers, algorithm)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fp)
}
