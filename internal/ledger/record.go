package ledger

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrNotInitialized = errors.New("ledger not initialized")
	ErrUnknownColumn  = errors.New("unknown ledger column")
	ErrMissingColumn  = errors.New("required ledger column missing")
)

type Status string

const (
	StatusSafe   Status = "SAFE"
	StatusDanger Status = "DANGER"
)

const (
	ColumnStatus      = "status"
	ColumnMessage     = "message"
	ColumnTimestamp   = "timestamp"
	ColumnModelSource = "model_source"
	ColumnConfidence  = "confidence"

	legacyColumnMessage = "msg"
)

var DefaultColumns = []string{
	ColumnStatus,
	ColumnMessage,
	ColumnTimestamp,
	ColumnModelSource,
	ColumnConfidence,
}

type AuditRecord struct {
	Status      Status    `json:"status"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	ModelSource string    `json:"model_source"`
	Confidence  float64   `json:"confidence"`
}

// NewRecord stamps the record with the current UTC time.
func NewRecord(verified bool, message, modelSource string, confidence float64) AuditRecord {
	status := StatusDanger
	if verified {
		status = StatusSafe
	}
	return AuditRecord{
		Status:      status,
		Message:     message,
		Timestamp:   time.Now().UTC(),
		ModelSource: modelSource,
		Confidence:  confidence,
	}
}

// Qualifies reports whether a stream-mode result is confident enough to log.
// The floor itself does not qualify.
func Qualifies(confidence, floor float64) bool {
	return confidence > floor
}

func (r AuditRecord) field(column string) string {
	switch column {
	case ColumnStatus:
		return string(r.Status)
	case ColumnMessage:
		return r.Message
	case ColumnTimestamp:
		return r.Timestamp.UTC().Format(time.RFC3339Nano)
	case ColumnModelSource:
		return r.ModelSource
	case ColumnConfidence:
		return strconv.FormatFloat(r.Confidence, 'f', 4, 64)
	}
	return ""
}

func (r *AuditRecord) set(column, value string) {
	value = strings.TrimSpace(value)
	switch column {
	case ColumnStatus:
		r.Status = Status(strings.ToUpper(value))
	case ColumnMessage:
		r.Message = value
	case ColumnTimestamp:
		r.Timestamp = parseTimestamp(value)
	case ColumnModelSource:
		r.ModelSource = value
	case ColumnConfidence:
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			r.Confidence = f
		}
	}
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func parseTimestamp(value string) time.Time {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// normalizeColumn maps a header cell to a known column name, or "" when the
// column is not one the ledger understands.
func normalizeColumn(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case legacyColumnMessage:
		return ColumnMessage
	case ColumnStatus, ColumnMessage, ColumnTimestamp, ColumnModelSource, ColumnConfidence:
		return name
	}
	return ""
}

// ValidateColumns checks a configured write order. Status and message are
// always required; any other known column may be omitted.
func ValidateColumns(columns []string) ([]string, error) {
	if len(columns) == 0 {
		return append([]string(nil), DefaultColumns...), nil
	}

	out := make([]string, 0, len(columns))
	seen := make(map[string]bool, len(columns))
	for _, c := range columns {
		name := normalizeColumn(c)
		if name == "" {
			return nil, fmt.Errorf("%w: %q", ErrUnknownColumn, c)
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}

	for _, required := range []string{ColumnStatus, ColumnMessage} {
		if !seen[required] {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, required)
		}
	}
	return out, nil
}
