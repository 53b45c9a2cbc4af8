// Package ingestion turns uploaded roster snapshot exports (CSV or XLSX)
// into entity snapshot collections the delta calculator can compare.
package ingestion

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/rpattn/rostersync/internal/domain"
)

var (
	// ErrUnsupportedFormat is returned when an uploaded file is not supported.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	byteOrderMark = []byte{0xEF, 0xBB, 0xBF}

	timeLayouts = []string{
		time.RFC3339,
		time.RFC3339Nano,
		"2006-01-02",
		"2006-01-02 15:04:05",
		"2006/01/02",
		"01/02/2006",
	}
)

// Column names recognized as entity identity rather than properties.
var (
	idColumns       = map[string]struct{}{"id": {}, "entity_id": {}, "entityid": {}}
	externalColumns = map[string]struct{}{"external_id": {}, "externalid": {}, "sourced_id": {}, "sourcedid": {}}
)

type tableData struct {
	headers []string
	rows    [][]string
}

// ParseSnapshots reads one roster export and produces entity snapshots of
// the given type. Cell values are typed: booleans, numbers and dates are
// recognized, everything else stays a string.
func ParseSnapshots(entityType, fileName string, data io.Reader) ([]domain.EntitySnapshot, error) {
	if !domain.IsKnownEntityType(entityType) {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownEntityType, entityType)
	}
	if data == nil {
		return nil, errors.New("data reader is required")
	}

	payload, err := io.ReadAll(data)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if len(payload) == 0 {
		return nil, errors.New("file is empty")
	}

	table, err := parseTable(fileName, payload)
	if err != nil {
		return nil, err
	}
	if len(table.headers) == 0 {
		return nil, errors.New("no header row detected")
	}

	snapshots := make([]domain.EntitySnapshot, 0, len(table.rows))
	for _, row := range table.rows {
		snapshot := domain.EntitySnapshot{
			EntityType: entityType,
			Properties: map[string]any{},
		}

		for colIdx, header := range table.headers {
			if colIdx >= len(row) {
				continue
			}
			raw := strings.TrimSpace(row[colIdx])
			if raw == "" {
				continue
			}

			lowered := strings.ToLower(header)
			if _, ok := idColumns[lowered]; ok {
				snapshot.EntityID = raw
				continue
			}
			if _, ok := externalColumns[lowered]; ok {
				snapshot.ExternalID = raw
				continue
			}

			snapshot.Properties[header] = parseCell(raw)
		}

		if snapshot.Key() == "" {
			continue // rows without identity cannot be paired
		}
		snapshots = append(snapshots, snapshot)
	}

	return snapshots, nil
}

func parseTable(fileName string, payload []byte) (tableData, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	switch ext {
	case ".csv":
		return parseCSV(payload)
	case ".xlsx":
		return parseExcel(payload)
	default:
		return tableData{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

func parseCSV(payload []byte) (tableData, error) {
	reader := bufio.NewReader(bytes.NewReader(payload))
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	records, err := csvReader.ReadAll()
	if err != nil {
		return tableData{}, fmt.Errorf("failed to read csv: %w", err)
	}

	return normalizeTable(records)
}

func parseExcel(payload []byte) (tableData, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return tableData{}, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return tableData{}, errors.New("excel file has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return tableData{}, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}

	return normalizeTable(rows)
}

func normalizeTable(records [][]string) (tableData, error) {
	if len(records) == 0 {
		return tableData{}, errors.New("no rows found in file")
	}

	var headerRow []string
	var dataRows [][]string
	for _, row := range records {
		if len(cleanRow(row)) == 0 {
			continue
		}
		if headerRow == nil {
			headerRow = row
			continue
		}
		dataRows = append(dataRows, row)
	}

	if headerRow == nil {
		return tableData{}, errors.New("header row could not be detected")
	}

	return tableData{
		headers: sanitizeHeaders(headerRow),
		rows:    dataRows,
	}, nil
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

func sanitizeHeaders(raw []string) []string {
	headers := make([]string, len(raw))
	seen := make(map[string]int)

	for idx, value := range raw {
		name := strings.TrimSpace(value)
		name = strings.ReplaceAll(name, " ", "_")
		name = strings.ReplaceAll(name, ".", "_")
		name = strings.ReplaceAll(name, "-", "_")
		name = strings.Trim(name, "_")
		if name == "" {
			name = fmt.Sprintf("column_%d", idx+1)
		}

		base := name
		count := seen[base]
		if count > 0 {
			name = fmt.Sprintf("%s_%d", base, count+1)
		}
		seen[base] = count + 1

		headers[idx] = name
	}

	return headers
}

// parseCell types a raw cell: booleans, numbers and dates pass through as
// typed values, anything else stays a string.
func parseCell(raw string) any {
	switch strings.ToLower(raw) {
	case "true":
		return true
	case "false":
		return false
	}

	if number, err := strconv.ParseFloat(raw, 64); err == nil {
		return number
	}

	for _, layout := range timeLayouts {
		if _, err := time.Parse(layout, raw); err == nil {
			return raw // keep dates as strings; comparison parses them
		}
	}

	return raw
}
