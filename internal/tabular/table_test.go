package tabular

import (
	"errors"
	"testing"

	"github.com/xuri/excelize/v2"
)

func TestParseCSVStripsBOMAndBlankRows(t *testing.T) {
	payload := []byte("\xEF\xBB\xBF\n First Name ,E-mail,,\nAnna,anna@example.com\n,,\nBruno,,extra,cells\n")

	table, err := Parse("contacts.CSV", payload, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if table.SourceType != SourceTypeCSV {
		t.Fatalf("expected csv source type, got %q", table.SourceType)
	}
	if got := table.Headers; len(got) != 2 || got[0] != "First Name" || got[1] != "E-mail" {
		t.Fatalf("unexpected headers %#v", got)
	}
	// encoding/csv drops blank lines, so the header is the first record.
	if table.HeaderRowIndex != 0 {
		t.Fatalf("expected header row 0, got %d", table.HeaderRowIndex)
	}
	if len(table.Rows) != 2 {
		t.Fatalf("expected 2 data rows, got %d", len(table.Rows))
	}

	records := table.RowMaps()
	if records[0]["First Name"] != "Anna" || records[0]["E-mail"] != "anna@example.com" {
		t.Fatalf("unexpected first record %#v", records[0])
	}
	if records[1]["E-mail"] != "" {
		t.Fatalf("expected blank cell to be kept as empty string, got %#v", records[1]["E-mail"])
	}
	if len(records[1]) != 2 {
		t.Fatalf("expected overflow cells to be dropped, got %#v", records[1])
	}
}

func TestParseCSVExplicitHeaderRow(t *testing.T) {
	payload := []byte("Exported by CRM\nName,Name,\nAnna,Rossi,x\n")
	index := 1

	table, err := ParseCSV(payload, &index)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(table.Keys) != 2 || table.Keys[0] != "Name" || table.Keys[1] != "Name_2" {
		t.Fatalf("expected deduplicated keys, got %v", table.Keys)
	}

	candidates := table.HeaderCandidates(5)
	if len(candidates) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(candidates))
	}
	if !candidates[1].Current || candidates[0].Current {
		t.Fatalf("expected second candidate to be current: %#v", candidates)
	}

	bad := 7
	if _, err := ParseCSV(payload, &bad); err == nil {
		t.Fatalf("expected out of range header index to fail")
	}
}

func TestParseBlankHeaderGetsColumnKey(t *testing.T) {
	table, err := ParseCSV([]byte("Name,,City\nAnna,42,Torino\n"), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if table.Keys[1] != "column_2" {
		t.Fatalf("expected column_2 key, got %q", table.Keys[1])
	}
	if table.Headers[1] != "" {
		t.Fatalf("expected raw header to stay blank, got %q", table.Headers[1])
	}
}

func TestParseUnsupportedFormat(t *testing.T) {
	_, err := Parse("contacts.json", []byte("{}"), nil)
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestParseEmptyFile(t *testing.T) {
	if _, err := ParseCSV(nil, nil); err == nil {
		t.Fatalf("expected error for empty csv")
	}
}

func TestParseExcelFirstSheet(t *testing.T) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(0)
	cells := map[string]string{
		"A1": "Ragione Sociale", "B1": "Partita IVA", "C1": "Telefono 1",
		"A2": "ACME S.p.A.", "B2": "IT01234567890", "C2": "+39 011 123",
		"A4": "Initech", "C4": "+39 02 456",
	}
	for cell, value := range cells {
		if err := f.SetCellValue(sheet, cell, value); err != nil {
			t.Fatalf("set cell %s: %v", cell, err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("write workbook: %v", err)
	}

	table, err := Parse("companies.xlsx", buf.Bytes(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if table.SourceType != SourceTypeXLSX {
		t.Fatalf("expected xlsx source type, got %q", table.SourceType)
	}
	if len(table.Headers) != 3 || table.Headers[1] != "Partita IVA" {
		t.Fatalf("unexpected headers %#v", table.Headers)
	}
	if len(table.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(table.Rows))
	}
	second := table.RowMaps()[1]
	if second["Ragione Sociale"] != "Initech" || second["Partita IVA"] != "" || second["Telefono 1"] != "+39 02 456" {
		t.Fatalf("unexpected second record %#v", second)
	}
}

func TestKeyedByUsesStoredHeaders(t *testing.T) {
	table, err := ParseCSV([]byte("first name , E-MAIL\nAnna,a@example.com\n"), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	record := table.KeyedBy([]string{"First Name", "E-mail"}).RowMaps()[0]
	if record["First Name"] != "Anna" || record["E-mail"] != "a@example.com" {
		t.Fatalf("expected stored header keys, got %#v", record)
	}

	unchanged := table.KeyedBy([]string{"only one"}).RowMaps()[0]
	if unchanged["first name"] != "Anna" {
		t.Fatalf("expected original keys when column counts differ, got %#v", unchanged)
	}
}
