package ingestion

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rpattn/rowmap/internal/domain"
	"github.com/rpattn/rowmap/internal/mapping"
	"github.com/rpattn/rowmap/internal/repository"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const contactsCSV = `First Name,E-mail,Phone
Anna,ANNA@EXAMPLE.COM,+39 011 1234
Bruno,,+39 333 9876
`

func newTestService(t *testing.T) (*Service, *mapping.Service, *stubSink, *stubLogRepo) {
	t.Helper()
	mappings := mapping.NewService(repository.NewMemoryMappingRepository(), zerolog.Nop(), "")
	sink := &stubSink{}
	logRepo := &stubLogRepo{}
	return NewService(mappings, sink, logRepo, zerolog.Nop()), mappings, sink, logRepo
}

func contactRules() domain.RuleTable {
	return domain.NewRuleTable(
		"First Name", "firstName",
		"E-mail", "emails[0].address",
		"Phone", "phones[0].number",
	)
}

func TestServiceImportFirstSightNeedsRules(t *testing.T) {
	service, _, sink, _ := newTestService(t)

	summary, err := service.Import(context.Background(), Request{
		OrganizationID: uuid.New(),
		EntityType:     "contact",
		FileName:       "contacts.csv",
		Data:           strings.NewReader(contactsCSV),
	})
	if err != nil {
		t.Fatalf("import returned error: %v", err)
	}

	if !summary.MappingCreated || !summary.NeedsRules {
		t.Fatalf("expected a new rule-less mapping, got %+v", summary)
	}
	if summary.TotalRows != 2 || summary.Persisted != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(sink.batches) != 0 {
		t.Fatalf("expected nothing persisted, got %d batches", len(sink.batches))
	}
}

func TestServiceImportReusesMappingAndPersists(t *testing.T) {
	service, mappings, sink, _ := newTestService(t)
	ctx := context.Background()
	orgID := uuid.New()

	first, err := service.Import(ctx, Request{
		OrganizationID: orgID,
		EntityType:     "contact",
		FileName:       "contacts.csv",
		Data:           strings.NewReader(contactsCSV),
	})
	if err != nil {
		t.Fatalf("first import returned error: %v", err)
	}
	if _, err := mappings.UpdateRules(ctx, mapping.UpdateRulesRequest{
		ID:              first.MappingID,
		ExpectedVersion: 1,
		Rules:           contactRules(),
		Defaults:        domain.DefaultTable{"source": "csv-import"},
	}); err != nil {
		t.Fatalf("update rules: %v", err)
	}

	// Same layout with cosmetic header differences.
	second, err := service.Import(ctx, Request{
		OrganizationID: orgID,
		EntityType:     "contact",
		FileName:       "contacts-march.csv",
		Transforms:     map[string]string{"emails[0].address": "lowercase"},
		Data:           strings.NewReader("first name , e-mail,PHONE\nCarla,Carla@Example.com,+39 02 1\n"),
	})
	if err != nil {
		t.Fatalf("second import returned error: %v", err)
	}

	if second.MappingCreated || second.MappingID != first.MappingID || second.MappingVersion != 2 {
		t.Fatalf("expected existing mapping version 2 to be reused, got %+v", second)
	}
	if second.Persisted != 1 || len(sink.batches) != 1 {
		t.Fatalf("expected one persisted entity, got %+v", second)
	}

	entity := sink.batches[0].entities[0]
	if entity["firstName"] != "Carla" || entity["source"] != "csv-import" {
		t.Fatalf("unexpected entity %#v", entity)
	}
	emails, ok := entity["emails"].([]any)
	if !ok || emails[0].(map[string]any)["address"] != "carla@example.com" {
		t.Fatalf("expected lowercased email, got %#v", entity["emails"])
	}
	if sink.batches[0].entityType != "contact" || sink.batches[0].organizationID != orgID {
		t.Fatalf("unexpected batch metadata %+v", sink.batches[0])
	}
}

func TestServiceImportLogsFailingRows(t *testing.T) {
	service, mappings, sink, logRepo := newTestService(t)
	ctx := context.Background()
	orgID := uuid.New()

	// A non-string default makes the uppercase transform fail for rows without a name.
	res, err := mappings.FindOrCreate(ctx, mapping.FindOrCreateRequest{
		OrganizationID: orgID,
		EntityType:     "contact",
		SourceType:     "csv",
		RawHeaders:     []string{"First Name", "E-mail", "Phone"},
		Rules:          contactRules(),
		Defaults:       domain.DefaultTable{"firstName": 7},
	})
	if err != nil {
		t.Fatalf("seed mapping: %v", err)
	}

	service.batchSize = 1
	summary, err := service.Import(ctx, Request{
		OrganizationID: orgID,
		EntityType:     "contact",
		FileName:       "contacts.csv",
		Transforms:     map[string]string{"firstName": "uppercase"},
		Data:           strings.NewReader("First Name,E-mail,Phone\n,x@example.com,1\nDora,d@example.com,2\nEzio,e@example.com,3\n"),
	})
	if err != nil {
		t.Fatalf("import returned error: %v", err)
	}

	if summary.MappingID != res.Mapping.ID {
		t.Fatalf("expected seeded mapping to be used")
	}
	if summary.InvalidRows != 1 || summary.ValidRows != 2 || summary.Persisted != 2 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if len(sink.batches) != 2 || sink.batches[0].entities[0]["firstName"] != "DORA" {
		t.Fatalf("expected two single-entity batches, got %+v", sink.batches)
	}
	if len(summary.Errors) != 1 || summary.Errors[0].RowNumber != 1 {
		t.Fatalf("unexpected row errors %+v", summary.Errors)
	}
	if len(logRepo.entries) != 1 || logRepo.entries[0].RowNumber == nil || *logRepo.entries[0].RowNumber != 1 {
		t.Fatalf("expected one ingestion log entry for row 1, got %+v", logRepo.entries)
	}
	if logRepo.entries[0].MappingID == nil || *logRepo.entries[0].MappingID != res.Mapping.ID {
		t.Fatalf("expected log entry to reference the mapping")
	}
}

func TestServiceImportSinkFailure(t *testing.T) {
	service, mappings, sink, logRepo := newTestService(t)
	ctx := context.Background()
	orgID := uuid.New()
	if _, err := mappings.FindOrCreate(ctx, mapping.FindOrCreateRequest{
		OrganizationID: orgID,
		EntityType:     "contact",
		SourceType:     "csv",
		RawHeaders:     []string{"First Name", "E-mail", "Phone"},
		Rules:          contactRules(),
	}); err != nil {
		t.Fatalf("seed mapping: %v", err)
	}

	sink.err = errors.New("bulk api down")
	_, err := service.Import(ctx, Request{
		OrganizationID: orgID,
		EntityType:     "contact",
		FileName:       "contacts.csv",
		Data:           strings.NewReader(contactsCSV),
	})
	if errbuilder.CodeOf(err) != errbuilder.CodeInternal {
		t.Fatalf("expected internal error, got %v", err)
	}
	if len(logRepo.entries) != 1 || logRepo.entries[0].RowNumber != nil {
		t.Fatalf("expected one file-level log entry, got %+v", logRepo.entries)
	}
}

func TestServiceImportValidation(t *testing.T) {
	service, _, _, _ := newTestService(t)
	ctx := context.Background()

	cases := map[string]Request{
		"missing entity type": {OrganizationID: uuid.New(), FileName: "a.csv", Data: strings.NewReader("a\n1\n")},
		"missing data":        {OrganizationID: uuid.New(), EntityType: "contact", FileName: "a.csv"},
		"empty file":          {OrganizationID: uuid.New(), EntityType: "contact", FileName: "a.csv", Data: strings.NewReader("")},
		"unsupported format":  {OrganizationID: uuid.New(), EntityType: "contact", FileName: "a.txt", Data: strings.NewReader("a\n")},
		"unknown transform":   {OrganizationID: uuid.New(), EntityType: "contact", FileName: "a.csv", Transforms: map[string]string{"a": "rot13"}, Data: strings.NewReader("a\n1\n")},
		"header mismatch":     {OrganizationID: uuid.New(), EntityType: "contact", FileName: "a.csv", HeaderHash: "abc", Data: strings.NewReader("a\n1\n")},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := service.Import(ctx, req)
			if errbuilder.CodeOf(err) != errbuilder.CodeInvalidArgument {
				t.Fatalf("expected invalid argument, got %v", err)
			}
		})
	}
}

func TestServicePreviewDoesNotCreate(t *testing.T) {
	service, mappings, sink, _ := newTestService(t)
	ctx := context.Background()
	orgID := uuid.New()

	preview, err := service.Preview(ctx, PreviewRequest{
		Request: Request{
			OrganizationID: orgID,
			EntityType:     "contact",
			FileName:       "contacts.csv",
			Data:           strings.NewReader(contactsCSV),
		},
		Limit: 1,
	})
	if err != nil {
		t.Fatalf("preview returned error: %v", err)
	}
	if preview.Mapping != nil {
		t.Fatalf("expected no mapping yet")
	}
	if preview.TotalRows != 2 || len(preview.Rows) != 1 {
		t.Fatalf("unexpected preview rows: %+v", preview)
	}
	if preview.Fingerprint.Hash == "" || preview.SourceType != "csv" {
		t.Fatalf("unexpected fingerprint: %+v", preview.Fingerprint)
	}

	listed, err := mappings.List(ctx, orgID, domain.MappingFilter{IncludeInactive: true})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 0 || len(sink.batches) != 0 {
		t.Fatalf("preview must not write anything")
	}

	res, err := mappings.FindOrCreate(ctx, mapping.FindOrCreateRequest{
		OrganizationID: orgID,
		EntityType:     "contact",
		SourceType:     "csv",
		RawHeaders:     []string{"First Name", "E-mail", "Phone"},
		Rules:          contactRules(),
	})
	if err != nil {
		t.Fatalf("seed mapping: %v", err)
	}
	if res.Mapping.HeaderHash != preview.Fingerprint.Hash {
		t.Fatalf("preview fingerprint %s differs from mapping %s", preview.Fingerprint.Hash, res.Mapping.HeaderHash)
	}

	preview, err = service.Preview(ctx, PreviewRequest{
		Request: Request{
			OrganizationID: orgID,
			EntityType:     "contact",
			FileName:       "contacts.csv",
			Data:           strings.NewReader(contactsCSV),
		},
	})
	if err != nil {
		t.Fatalf("preview returned error: %v", err)
	}
	if preview.Mapping == nil || preview.Mapping.ID != res.Mapping.ID {
		t.Fatalf("expected preview to find the mapping")
	}
	if preview.Rows[0].Entity["firstName"] != "Anna" {
		t.Fatalf("unexpected preview entity %#v", preview.Rows[0].Entity)
	}
}

type sinkBatch struct {
	organizationID uuid.UUID
	entityType     string
	entities       []map[string]any
}

type stubSink struct {
	batches []sinkBatch
	err     error
}

func (s *stubSink) CreateBatch(_ context.Context, organizationID uuid.UUID, entityType string, entities []map[string]any) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.batches = append(s.batches, sinkBatch{
		organizationID: organizationID,
		entityType:     entityType,
		entities:       append([]map[string]any(nil), entities...),
	})
	return len(entities), nil
}

var _ EntitySink = (*stubSink)(nil)

type stubLogRepo struct {
	entries []domain.IngestionLogEntry
}

func (s *stubLogRepo) Record(_ context.Context, entry domain.IngestionLogEntry) error {
	s.entries = append(s.entries, entry)
	return nil
}

func (s *stubLogRepo) List(context.Context, uuid.UUID, string, int, int) ([]domain.IngestionLogEntry, error) {
	return s.entries, nil
}

var _ repository.IngestionLogRepository = (*stubLogRepo)(nil)
