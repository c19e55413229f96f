package mappingloader

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rpattn/rowmap/internal/domain"
	"github.com/rpattn/rowmap/internal/repository"

	"github.com/google/uuid"
)

type countingRepo struct {
	repository.MappingRepository

	mu    sync.Mutex
	calls int
	byID  map[uuid.UUID]domain.Mapping
	err   error
}

func (r *countingRepo) GetByIDs(_ context.Context, ids []uuid.UUID) ([]domain.Mapping, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	out := []domain.Mapping{}
	for _, id := range ids {
		if m, ok := r.byID[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func TestMappingLoaderLoadsConcurrentKeys(t *testing.T) {
	first := domain.NewMapping(domain.MappingDraft{EntityType: "contact", SourceType: "csv", HeaderHash: "a"})
	second := domain.NewMapping(domain.MappingDraft{EntityType: "contact", SourceType: "csv", HeaderHash: "b"})
	repo := &countingRepo{byID: map[uuid.UUID]domain.Mapping{first.ID: first, second.ID: second}}
	loader := NewMappingLoader(repo)

	ids := []uuid.UUID{first.ID, second.ID, first.ID}
	got := make([]domain.Mapping, len(ids))
	errs := make([]error, len(ids))

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id uuid.UUID) {
			defer wg.Done()
			got[i], errs[i] = loader.Load(context.Background(), id)
		}(i, id)
	}
	wg.Wait()

	for i := range ids {
		if errs[i] != nil {
			t.Fatalf("load %d: unexpected error %v", i, errs[i])
		}
		if got[i].ID != ids[i] {
			t.Fatalf("load %d: expected %s, got %s", i, ids[i], got[i].ID)
		}
	}
	if repo.calls == 0 || repo.calls > len(ids) {
		t.Fatalf("unexpected repository call count %d", repo.calls)
	}
}

func TestMappingLoaderMissingMapping(t *testing.T) {
	loader := NewMappingLoader(&countingRepo{byID: map[uuid.UUID]domain.Mapping{}})

	_, err := loader.Load(context.Background(), uuid.New())
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMappingLoaderPropagatesRepositoryError(t *testing.T) {
	boom := errors.New("boom")
	loader := NewMappingLoader(&countingRepo{err: boom})

	_, err := loader.Load(context.Background(), uuid.New())
	if !errors.Is(err, boom) {
		t.Fatalf("expected repository error, got %v", err)
	}
}
