package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/rpattn/rowmap/internal/auth"
	"github.com/rpattn/rowmap/internal/ingestion"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/google/uuid"
)

// importHandler accepts multipart uploads of CSV or XLSX files.
type importHandler struct {
	server *Server
}

func newImportHandler(s *Server) http.Handler {
	return &importHandler{server: s}
}

func (h *importHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s := h.server
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			s.writeError(w, r, err)
			return
		}
		s.writeError(w, r, formError(fmt.Sprintf("invalid form data: %v", err), err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, r, formError(fmt.Sprintf("file required: %v", err), nil))
		return
	}
	defer file.Close()

	req, err := importRequestFromForm(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	req.FileName = header.Filename
	req.Data = file

	if previewOnly, _ := strconv.ParseBool(r.FormValue("previewOnly")); previewOnly {
		limit := s.previewLimit
		if raw := strings.TrimSpace(r.FormValue("limit")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				s.writeError(w, r, formError(fmt.Sprintf("invalid limit %q", raw), nil))
				return
			}
			limit = parsed
		}

		preview, err := s.ingestion.Preview(r.Context(), ingestion.PreviewRequest{Request: req, Limit: limit})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, preview)
		return
	}

	summary, err := s.ingestion.Import(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func importRequestFromForm(r *http.Request) (ingestion.Request, error) {
	requested, err := parseOptionalUUID(r.FormValue("organizationId"), "organization id")
	if err != nil {
		return ingestion.Request{}, err
	}
	orgID, err := auth.ResolveOrganizationID(r.Context(), requested)
	if err != nil {
		return ingestion.Request{}, err
	}

	ownerID, err := parseOptionalUUID(r.FormValue("ownerId"), "owner id")
	if err != nil {
		return ingestion.Request{}, err
	}

	req := ingestion.Request{
		OrganizationID:      orgID,
		EntityType:          strings.TrimSpace(r.FormValue("entityType")),
		HeaderHash:          strings.TrimSpace(r.FormValue("headerHash")),
		HeaderHashAlgorithm: strings.TrimSpace(r.FormValue("headerHashAlgorithm")),
	}
	if ownerID != uuid.Nil {
		req.OwnerID = &ownerID
	}
	if req.EntityType == "" {
		return ingestion.Request{}, formError("entityType is required", nil)
	}

	if raw := strings.TrimSpace(r.FormValue("headerRowIndex")); raw != "" {
		idx, err := strconv.Atoi(raw)
		if err != nil || idx < 0 {
			return ingestion.Request{}, formError(fmt.Sprintf("invalid headerRowIndex %q", raw), nil)
		}
		req.HeaderRowIndex = &idx
	}

	if raw := strings.TrimSpace(r.FormValue("transforms")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.Transforms); err != nil {
			return ingestion.Request{}, formError(fmt.Sprintf("invalid transforms: %v", err), err)
		}
	}
	return req, nil
}

func (s *Server) handleIngestionLogs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	requested, err := parseOptionalUUID(query.Get("organizationId"), "organizationId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	orgID, err := auth.ResolveOrganizationID(r.Context(), requested)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	limit, err := queryInt(query.Get("limit"), 50, "limit")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	offset, err := queryInt(query.Get("offset"), 0, "offset")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	entries, err := s.logs.List(r.Context(), orgID, query.Get("fileName"), limit, offset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func queryInt(raw string, fallback int, field string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, formError(fmt.Sprintf("invalid %s %q", field, raw), nil)
	}
	return value, nil
}

func formError(msg string, cause error) error {
	b := errbuilder.New().
		WithCode(errbuilder.CodeInvalidArgument).
		WithMsg(msg)
	if cause != nil {
		return b.WithCause(cause)
	}
	return b
}
