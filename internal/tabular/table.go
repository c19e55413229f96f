// Package tabular reads CSV and XLSX uploads into a header row plus string
// records keyed by header.
package tabular

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

const (
	SourceTypeCSV  = "csv"
	SourceTypeXLSX = "xlsx"
)

var (
	// ErrUnsupportedFormat is returned when an uploaded file is not supported.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	byteOrderMark = []byte{0xEF, 0xBB, 0xBF}
)

// Table is a parsed upload.
type Table struct {
	// SourceType is "csv" or "xlsx".
	SourceType string
	// Headers are the header cells as they appear, trimmed.
	Headers []string
	// Keys are the record keys for each column: the header, or column_<n>
	// when blank, suffixed _<n> when repeated.
	Keys           []string
	Rows           [][]string
	HeaderRowIndex int
	// Records holds every non-empty row of the file, header row included.
	Records [][]string
}

// HeaderCandidate represents a potential header row option.
type HeaderCandidate struct {
	Index   int      `json:"index"`
	Values  []string `json:"values"`
	Current bool     `json:"current"`
}

// SourceTypeFor maps a file name to its source type.
func SourceTypeFor(fileName string) (string, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	switch ext {
	case ".csv":
		return SourceTypeCSV, nil
	case ".xlsx":
		return SourceTypeXLSX, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

// Parse dispatches on the file extension. headerRowIndex selects the header
// row; nil picks the first non-empty row.
func Parse(fileName string, payload []byte, headerRowIndex *int) (Table, error) {
	sourceType, err := SourceTypeFor(fileName)
	if err != nil {
		return Table{}, err
	}
	switch sourceType {
	case SourceTypeXLSX:
		return ParseExcel(payload, headerRowIndex)
	default:
		return ParseCSV(payload, headerRowIndex)
	}
}

// ParseCSV reads comma separated data, skipping a UTF-8 byte order mark.
func ParseCSV(payload []byte, headerRowIndex *int) (Table, error) {
	reader := bufio.NewReader(bytes.NewReader(payload))
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	records, err := csvReader.ReadAll()
	if err != nil {
		return Table{}, fmt.Errorf("failed to read csv: %w", err)
	}

	table, err := normalizeTable(records, headerRowIndex)
	if err != nil {
		return Table{}, err
	}
	table.SourceType = SourceTypeCSV
	return table, nil
}

// ParseExcel reads the first sheet of a workbook.
func ParseExcel(payload []byte, headerRowIndex *int) (Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return Table{}, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return Table{}, errors.New("excel file has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return Table{}, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}

	table, err := normalizeTable(rows, headerRowIndex)
	if err != nil {
		return Table{}, err
	}
	table.SourceType = SourceTypeXLSX
	return table, nil
}

// RowMaps returns each data row keyed by Keys. Blank cells are kept as "".
func (t Table) RowMaps() []map[string]any {
	out := make([]map[string]any, len(t.Rows))
	for i, row := range t.Rows {
		record := make(map[string]any, len(t.Keys))
		for col, key := range t.Keys {
			record[key] = row[col]
		}
		out[i] = record
	}
	return out
}

// KeyedBy returns the table with record keys derived from headers instead of
// the file's own header cells. Files whose headers only differ cosmetically
// from a stored layout are read with the stored names this way. The table is
// returned unchanged when the column counts differ.
func (t Table) KeyedBy(headers []string) Table {
	if len(headers) != len(t.Keys) {
		return t
	}
	t.Keys = recordKeys(headers)
	return t
}

// HeaderCandidates lists up to limit non-empty rows that could serve as header.
func (t Table) HeaderCandidates(limit int) []HeaderCandidate {
	if limit <= 0 {
		limit = 10
	}

	candidates := make([]HeaderCandidate, 0, limit)
	for idx, row := range t.Records {
		if len(cleanRow(row)) == 0 {
			continue
		}

		values := make([]string, len(row))
		for i, cell := range row {
			values[i] = strings.TrimSpace(cell)
		}

		candidates = append(candidates, HeaderCandidate{
			Index:   idx,
			Values:  values,
			Current: idx == t.HeaderRowIndex,
		})

		if len(candidates) >= limit {
			break
		}
	}

	return candidates
}

func normalizeTable(records [][]string, headerRowIndex *int) (Table, error) {
	if len(records) == 0 {
		return Table{}, errors.New("no rows found in file")
	}

	var headerRow []string
	var dataRows [][]string
	headerIndex := -1

	if headerRowIndex != nil {
		if *headerRowIndex < 0 || *headerRowIndex >= len(records) {
			return Table{}, fmt.Errorf("header row index %d out of range", *headerRowIndex)
		}
		if len(cleanRow(records[*headerRowIndex])) == 0 {
			return Table{}, fmt.Errorf("selected header row %d is empty", *headerRowIndex+1)
		}
		headerRow = records[*headerRowIndex]
		headerIndex = *headerRowIndex
		for idx := *headerRowIndex + 1; idx < len(records); idx++ {
			if len(cleanRow(records[idx])) == 0 {
				continue
			}
			dataRows = append(dataRows, records[idx])
		}
	} else {
		for idx, row := range records {
			if len(cleanRow(row)) == 0 {
				continue
			}
			if headerRow == nil {
				headerRow = row
				headerIndex = idx
				continue
			}
			dataRows = append(dataRows, row)
		}
	}

	if headerRow == nil {
		return Table{}, errors.New("header row could not be detected")
	}

	headers := trimTrailingBlank(headerRow)
	rawHeaders := make([]string, len(headers))
	for i, value := range headers {
		rawHeaders[i] = strings.TrimSpace(value)
	}

	for i := range dataRows {
		dataRows[i] = padRow(dataRows[i], len(rawHeaders))
	}

	return Table{
		Headers:        rawHeaders,
		Keys:           recordKeys(rawHeaders),
		Rows:           dataRows,
		HeaderRowIndex: headerIndex,
		Records:        records,
	}, nil
}

// trimTrailingBlank drops empty cells after the last labelled column, which
// spreadsheets tend to leave behind.
func trimTrailingBlank(row []string) []string {
	end := len(row)
	for end > 0 && strings.TrimSpace(row[end-1]) == "" {
		end--
	}
	return row[:end]
}

func cleanRow(row []string) []string {
	var cleaned []string
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			cleaned = append(cleaned, cell)
		}
	}
	return cleaned
}

func recordKeys(headers []string) []string {
	keys := make([]string, len(headers))
	seen := make(map[string]int)

	for idx, name := range headers {
		if name == "" {
			name = fmt.Sprintf("column_%d", idx+1)
		}

		base := name
		count := seen[base]
		if count > 0 {
			name = fmt.Sprintf("%s_%d", base, count+1)
		}
		seen[base] = count + 1

		keys[idx] = name
	}

	return keys
}

func padRow(row []string, length int) []string {
	if len(row) >= length {
		return row[:length]
	}
	padded := make([]string, length)
	copy(padded, row)
	return padded
}
