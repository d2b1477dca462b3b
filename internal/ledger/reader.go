package ledger

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
)

// ReadAll parses a ledger by header name. Unknown columns are ignored and
// missing ones keep their zero value, so older files written with
// status,msg,timestamp still load.
func ReadAll(r io.Reader) ([]AuditRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return []AuditRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger header: %w", err)
	}

	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = normalizeColumn(h)
	}

	records := []AuditRecord{}
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read ledger row: %w", err)
		}

		var rec AuditRecord
		for i, value := range row {
			if i >= len(columns) || columns[i] == "" {
				continue
			}
			rec.set(columns[i], value)
		}
		records = append(records, rec)
	}
	return records, nil
}

// Tail returns the last n records, or all of them when n <= 0.
func Tail(records []AuditRecord, n int) []AuditRecord {
	if n <= 0 || n >= len(records) {
		return records
	}
	return records[len(records)-n:]
}
