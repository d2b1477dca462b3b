package ledger

import (
	"strings"
	"testing"
	"time"
)

func TestReadAll(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantCount int
		check     func(t *testing.T, records []AuditRecord)
	}{
		{
			name:      "empty input",
			input:     "",
			wantCount: 0,
		},
		{
			name:      "header only",
			input:     "status,message,timestamp,model_source,confidence\n",
			wantCount: 0,
		},
		{
			name: "current schema",
			input: "status,message,timestamp,model_source,confidence\n" +
				"SAFE,Verified: Drug A.,2026-01-02T03:04:05Z,models/best.pt,0.9100\n",
			wantCount: 1,
			check: func(t *testing.T, records []AuditRecord) {
				r := records[0]
				if r.Status != StatusSafe || r.ModelSource != "models/best.pt" || r.Confidence != 0.91 {
					t.Errorf("unexpected record: %+v", r)
				}
				if !r.Timestamp.Equal(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)) {
					t.Errorf("unexpected timestamp: %v", r.Timestamp)
				}
			},
		},
		{
			name: "legacy schema",
			input: "status,msg,timestamp\n" +
				"DANGER,Mismatch! Detected Drug B.,2024-05-06 07:08:09.123456\n",
			wantCount: 1,
			check: func(t *testing.T, records []AuditRecord) {
				r := records[0]
				if r.Status != StatusDanger || r.Message != "Mismatch! Detected Drug B." {
					t.Errorf("unexpected record: %+v", r)
				}
				if r.Timestamp.Year() != 2024 || r.Timestamp.Second() != 9 {
					t.Errorf("unexpected timestamp: %v", r.Timestamp)
				}
				if r.ModelSource != "" || r.Confidence != 0 {
					t.Errorf("missing columns should default: %+v", r)
				}
			},
		},
		{
			name: "extra and reordered columns",
			input: "operator,confidence,message,status\n" +
				"alice,0.75,Verified: Drug C.,safe\n",
			wantCount: 1,
			check: func(t *testing.T, records []AuditRecord) {
				r := records[0]
				if r.Status != StatusSafe || r.Confidence != 0.75 || r.Message != "Verified: Drug C." {
					t.Errorf("unexpected record: %+v", r)
				}
			},
		},
		{
			name: "short and garbled rows",
			input: "status,message,timestamp,confidence\n" +
				"SAFE,only two\n" +
				"DANGER,bad values,not-a-time,high\n",
			wantCount: 2,
			check: func(t *testing.T, records []AuditRecord) {
				if records[0].Message != "only two" || !records[0].Timestamp.IsZero() {
					t.Errorf("unexpected short row: %+v", records[0])
				}
				if records[1].Confidence != 0 || !records[1].Timestamp.IsZero() {
					t.Errorf("unparseable values should default: %+v", records[1])
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := ReadAll(strings.NewReader(tt.input))
			if err != nil {
				t.Fatalf("ReadAll failed: %v", err)
			}
			if len(records) != tt.wantCount {
				t.Fatalf("expected %d records, got %d", tt.wantCount, len(records))
			}
			if tt.check != nil {
				tt.check(t, records)
			}
		})
	}
}

func TestTail(t *testing.T) {
	records := []AuditRecord{{Message: "1"}, {Message: "2"}, {Message: "3"}}

	if got := Tail(records, 2); len(got) != 2 || got[0].Message != "2" {
		t.Errorf("unexpected tail: %+v", got)
	}
	if got := Tail(records, 0); len(got) != 3 {
		t.Errorf("expected all records, got %d", len(got))
	}
	if got := Tail(records, 10); len(got) != 3 {
		t.Errorf("expected all records, got %d", len(got))
	}
}
