package mappingloader

import (
	"context"
	"fmt"
	"time"

	"github.com/rpattn/rowmap/internal/domain"
	"github.com/rpattn/rowmap/internal/repository"

	"github.com/google/uuid"
	"github.com/graph-gophers/dataloader"
)

// MappingLoader batches mapping lookups issued within a short window into a
// single repository call.
type MappingLoader struct {
	Loader *dataloader.Loader
}

func NewMappingLoader(repo repository.MappingRepository) *MappingLoader {
	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		ids := make([]uuid.UUID, len(keys))
		for i, k := range keys {
			id, err := uuid.Parse(k.String())
			if err != nil {
				results := make([]*dataloader.Result, len(keys))
				for j := range results {
					results[j] = &dataloader.Result{Error: fmt.Errorf("invalid UUID: %w", err)}
				}
				return results
			}
			ids[i] = id
		}

		mappings, err := repo.GetByIDs(ctx, ids)
		if err != nil {
			results := make([]*dataloader.Result, len(keys))
			for i := range results {
				results[i] = &dataloader.Result{Error: err}
			}
			return results
		}

		mappingMap := make(map[uuid.UUID]domain.Mapping, len(mappings))
		for _, m := range mappings {
			mappingMap[m.ID] = m
		}

		// Results must line up with keys
		results := make([]*dataloader.Result, len(keys))
		for i, id := range ids {
			if m, ok := mappingMap[id]; ok {
				results[i] = &dataloader.Result{Data: m}
			} else {
				results[i] = &dataloader.Result{Error: fmt.Errorf("mapping %s: %w", id, repository.ErrNotFound)}
			}
		}
		return results
	}

	loader := dataloader.NewBatchedLoader(batchFn, dataloader.WithWait(5*time.Millisecond))
	return &MappingLoader{Loader: loader}
}

// Load returns the mapping with id, batching with concurrent calls.
func (l *MappingLoader) Load(ctx context.Context, id uuid.UUID) (domain.Mapping, error) {
	value, err := l.Loader.Load(ctx, dataloader.StringKey(id.String()))()
	if err != nil {
		return domain.Mapping{}, err
	}
	mapping, ok := value.(domain.Mapping)
	if !ok {
		return domain.Mapping{}, fmt.Errorf("unexpected loader value %T", value)
	}
	return mapping, nil
}
