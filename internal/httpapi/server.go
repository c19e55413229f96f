// Package httpapi serves the mapping, fingerprint and import endpoints as JSON over HTTP.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rpattn/rowmap/internal/auth"
	"github.com/rpattn/rowmap/internal/ingestion"
	"github.com/rpattn/rowmap/internal/mapping"
	"github.com/rpattn/rowmap/internal/middleware"
	"github.com/rpattn/rowmap/internal/repository"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const defaultMaxBodyBytes = 8 << 20

// Options wires the server's collaborators.
type Options struct {
	Mappings       *mapping.Service
	MappingRepo    repository.MappingRepository
	Ingestion      *ingestion.Service
	IngestionLogs  repository.IngestionLogRepository
	Logger         zerolog.Logger
	MaxUploadBytes int64
	PreviewLimit   int
}

// Server routes API requests to the services.
type Server struct {
	mappings       *mapping.Service
	ingestion      *ingestion.Service
	logs           repository.IngestionLogRepository
	logger         zerolog.Logger
	maxUploadBytes int64
	previewLimit   int
	mux            *http.ServeMux
}

// NewServer builds the API handler. Requests are scoped by the
// X-Organization-ID header and share a per-request mapping loader.
func NewServer(opts Options) http.Handler {
	s := &Server{
		mappings:       opts.Mappings,
		ingestion:      opts.Ingestion,
		logs:           opts.IngestionLogs,
		logger:         opts.Logger.With().Str("component", "http").Logger(),
		maxUploadBytes: opts.MaxUploadBytes,
		previewLimit:   opts.PreviewLimit,
		mux:            http.NewServeMux(),
	}
	if s.maxUploadBytes <= 0 {
		s.maxUploadBytes = 32 << 20
	}

	s.mux.HandleFunc("POST /mappings/resolve", s.handleResolve)
	s.mux.HandleFunc("POST /mappings/apply-batch", s.handleApplyBatch)
	s.mux.HandleFunc("GET /mappings", s.handleList)
	s.mux.HandleFunc("GET /mappings/{id}", s.handleGet)
	s.mux.HandleFunc("PUT /mappings/{id}", s.handleUpdate)
	s.mux.HandleFunc("DELETE /mappings/{id}", s.handleDelete)
	s.mux.HandleFunc("POST /mappings/{id}/apply", s.handleApply)
	s.mux.HandleFunc("POST /map", s.handleMap)
	s.mux.HandleFunc("POST /fingerprint", s.handleFingerprint)
	s.mux.Handle("POST /imports", newImportHandler(s))
	s.mux.HandleFunc("GET /ingestion-logs", s.handleIngestionLogs)
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	var handler http.Handler = s.mux
	handler = middleware.DataLoaderMiddleware(opts.MappingRepo)(handler)
	handler = auth.OrganizationScopeMiddleware(handler)
	return handler
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, status, errorResponse{Error: errorMessage(err)})
}

func statusFor(err error) int {
	if errors.Is(err, repository.ErrNotFound) {
		return http.StatusNotFound
	}
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		return http.StatusRequestEntityTooLarge
	}

	switch errbuilder.CodeOf(err) {
	case errbuilder.CodeInvalidArgument:
		return http.StatusBadRequest
	case errbuilder.CodeNotFound:
		return http.StatusNotFound
	case errbuilder.CodePermissionDenied:
		return http.StatusForbidden
	case errbuilder.CodeAlreadyExists:
		return http.StatusConflict
	case errbuilder.CodeFailedPrecondition:
		if mapping.IsUnsupportedKind(err) {
			return http.StatusUnprocessableEntity
		}
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func errorMessage(err error) string {
	var builder *errbuilder.ErrBuilder
	if errors.As(err, &builder) && strings.TrimSpace(builder.Msg) != "" {
		return builder.Msg
	}
	return err.Error()
}

// decodeJSON reads a bounded JSON body. Numbers are kept as json.Number so
// row values survive the round trip unchanged.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, defaultMaxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return err
		}
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("invalid JSON body: %v", err)).
			WithCause(err)
	}
	return nil
}

func pathID(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(r.PathValue("id"))
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("invalid mapping id %q", raw))
	}
	return id, nil
}

func parseOptionalUUID(raw, field string) (uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("invalid %s: %v", field, err))
	}
	return id, nil
}
