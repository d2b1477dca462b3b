package main

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/eleven-am/medverify/internal/ledger"
)

func seedLedger(t *testing.T, messages ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit_trail.csv")
	l, err := ledger.New(path, nil)
	if err != nil {
		t.Fatalf("ledger.New failed: %v", err)
	}
	for _, msg := range messages {
		if err := l.Append(ledger.NewRecord(false, msg, "models/best.pt", 0.91)); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	return path
}

func TestRun_Count(t *testing.T) {
	tests := []struct {
		name     string
		messages []string
		want     string
	}{
		{name: "missing ledger", messages: nil, want: "0"},
		{name: "two records", messages: []string{"first", "second"}, want: "2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "absent.csv")
			if tt.messages != nil {
				path = seedLedger(t, tt.messages...)
			}

			var out bytes.Buffer
			if err := run([]string{"-path", path, "count"}, &out); err != nil {
				t.Fatalf("run failed: %v", err)
			}
			if got := strings.TrimSpace(out.String()); got != tt.want {
				t.Errorf("count = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRun_Tail(t *testing.T) {
	path := seedLedger(t, "first", "second", "third")

	var out bytes.Buffer
	if err := run([]string{"-path", path, "tail", "2"}, &out); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and 2 rows, got %q", out.String())
	}
	if strings.Contains(out.String(), "first") {
		t.Error("tail 2 should not include the oldest record")
	}
	if !strings.Contains(lines[2], "third") || !strings.Contains(lines[2], "DANGER") {
		t.Errorf("unexpected last row: %q", lines[2])
	}

	if err := run([]string{"-path", path, "tail", "zero"}, &out); err == nil {
		t.Error("expected error for invalid tail count")
	}
}

func TestRun_Reset(t *testing.T) {
	path := seedLedger(t, "first")

	var out bytes.Buffer
	if err := run([]string{"-path", path, "reset"}, &out); err == nil {
		t.Fatal("reset without -confirm should fail")
	}

	out.Reset()
	if err := run([]string{"-path", path, "count"}, &out); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if strings.TrimSpace(out.String()) != "1" {
		t.Fatalf("unconfirmed reset changed the ledger: %q", out.String())
	}

	out.Reset()
	if err := run([]string{"-path", path, "reset", "-confirm"}, &out); err != nil {
		t.Fatalf("reset failed: %v", err)
	}

	out.Reset()
	if err := run([]string{"-path", path, "count"}, &out); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if strings.TrimSpace(out.String()) != "0" {
		t.Errorf("expected empty ledger after reset, got %q", out.String())
	}
}

func TestRun_Usage(t *testing.T) {
	tests := [][]string{
		{},
		{"rotate"},
		{"-bogus", "count"},
	}
	for _, args := range tests {
		err := run(args, &bytes.Buffer{})
		if !errors.Is(err, errUsage) {
			t.Errorf("run(%v) = %v, want usage error", args, err)
		}
	}
}

func TestRun_MirrorRequiresDSN(t *testing.T) {
	t.Setenv("DATABASE_DSN", "")
	path := seedLedger(t, "first")
	if err := run([]string{"-path", path, "mirror"}, &bytes.Buffer{}); err == nil {
		t.Error("expected error without a DSN")
	}
}
