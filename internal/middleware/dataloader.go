package middleware

import (
	"context"
	"net/http"

	"github.com/rpattn/rowmap/internal/mappingloader"
	"github.com/rpattn/rowmap/internal/repository"
)

type ctxKey string

const mappingLoaderKey ctxKey = "mappingLoader"

// DataLoaderMiddleware attaches a per-request mapping loader to the request context
func DataLoaderMiddleware(repo repository.MappingRepository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			loader := mappingloader.NewMappingLoader(repo)
			ctx := context.WithValue(r.Context(), mappingLoaderKey, loader)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// MappingLoaderFromContext retrieves the mapping loader from context
func MappingLoaderFromContext(ctx context.Context) *mappingloader.MappingLoader {
	if l, ok := ctx.Value(mappingLoaderKey).(*mappingloader.MappingLoader); ok {
		return l
	}
	return nil
}
