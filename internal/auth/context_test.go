package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/google/uuid"
)

func TestEnforceOrganizationScope(t *testing.T) {
	org := uuid.New()
	ctx := ContextWithOrganizationID(context.Background(), org)

	if err := EnforceOrganizationScope(ctx, org); err != nil {
		t.Fatalf("expected matching scope to pass, got %v", err)
	}
	if err := EnforceOrganizationScope(context.Background(), org); err != nil {
		t.Fatalf("expected unscoped context to pass, got %v", err)
	}

	err := EnforceOrganizationScope(ctx, uuid.New())
	if errbuilder.CodeOf(err) != errbuilder.CodePermissionDenied {
		t.Fatalf("expected permission denied, got %v", err)
	}

	err = EnforceOrganizationScope(ctx, uuid.Nil)
	if errbuilder.CodeOf(err) != errbuilder.CodeInvalidArgument {
		t.Fatalf("expected invalid argument for nil organization, got %v", err)
	}
}

func TestResolveOrganizationIDFallsBackToScope(t *testing.T) {
	org := uuid.New()
	ctx := ContextWithOrganizationID(context.Background(), org)

	got, err := ResolveOrganizationID(ctx, uuid.Nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != org {
		t.Fatalf("expected scoped organization %s, got %s", org, got)
	}

	if _, err := ResolveOrganizationID(context.Background(), uuid.Nil); err == nil {
		t.Fatalf("expected error without any organization")
	}
}

func TestOrganizationScopeMiddleware(t *testing.T) {
	org := uuid.New()
	var seen uuid.UUID
	handler := OrganizationScopeMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = OrganizationIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/mappings", nil)
	req.Header.Set(OrganizationHeader, org.String())
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if seen != org {
		t.Fatalf("expected scope %s, got %s", org, seen)
	}

	bad := httptest.NewRequest(http.MethodGet, "/mappings", nil)
	bad.Header.Set(OrganizationHeader, "not-a-uuid")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, bad)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed header, got %d", rec.Code)
	}
}
