// Command ledger inspects and maintains the audit ledger file.
//
//	ledger [-path file] [-columns list] count
//	ledger [-path file] tail [n]
//	ledger [-path file] reset -confirm
//	ledger [-path file] mirror [-dsn postgres-dsn]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/eleven-am/medverify/internal/ledger"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const defaultTail = 10

var errUsage = errors.New("usage: ledger [-path file] [-columns list] count | tail [n] | reset -confirm | mirror [-dsn dsn]")

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "ledger: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("ledger", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	path := fs.String("path", envOr("LEDGER_PATH", "data/logs/audit_trail.csv"), "audit ledger CSV file")
	columns := fs.String("columns", os.Getenv("LEDGER_COLUMNS"), "comma-separated column order")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	rest := fs.Args()
	if len(rest) == 0 {
		return errUsage
	}

	l, err := ledger.New(*path, splitList(*columns))
	if err != nil {
		return err
	}

	switch rest[0] {
	case "count":
		return count(l, stdout)
	case "tail":
		return tail(l, rest[1:], stdout)
	case "reset":
		return reset(l, rest[1:], stdout)
	case "mirror":
		return mirror(l, rest[1:], stdout)
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, rest[0])
	}
}

func readRecords(l *ledger.Ledger) ([]ledger.AuditRecord, error) {
	records, err := l.Read()
	if errors.Is(err, ledger.ErrNotInitialized) {
		return nil, nil
	}
	return records, err
}

func count(l *ledger.Ledger, stdout io.Writer) error {
	records, err := readRecords(l)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, len(records))
	return nil
}

func tail(l *ledger.Ledger, args []string, stdout io.Writer) error {
	n := defaultTail
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v <= 0 {
			return fmt.Errorf("tail: invalid count %q", args[0])
		}
		n = v
	}

	records, err := readRecords(l)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIMESTAMP\tSTATUS\tCONFIDENCE\tMESSAGE")
	for _, rec := range ledger.Tail(records, n) {
		ts := ""
		if !rec.Timestamp.IsZero() {
			ts = rec.Timestamp.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%.2f\t%s\n", ts, rec.Status, rec.Confidence, rec.Message)
	}
	return w.Flush()
}

func reset(l *ledger.Ledger, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("reset", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	confirm := fs.Bool("confirm", false, "really discard every audit record")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("reset: %v", err)
	}
	if !*confirm {
		return errors.New("reset discards every audit record; rerun with -confirm")
	}

	if err := l.Reset(); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "ledger reset: %s\n", l.Path())
	return nil
}

func mirror(l *ledger.Ledger, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("mirror", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	dsn := fs.String("dsn", os.Getenv("DATABASE_DSN"), "postgres DSN of the audit mirror")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("mirror: %v", err)
	}
	if *dsn == "" {
		return errors.New("mirror: no DSN given and DATABASE_DSN is not set")
	}

	db, err := gorm.Open(postgres.Open(*dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}

	m := ledger.NewMirror(db)
	if err := m.Migrate(); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	records, err := readRecords(l)
	if err != nil {
		return err
	}
	n, err := m.Backfill(context.Background(), records)
	if err != nil {
		return fmt.Errorf("backfill after %d records: %w", n, err)
	}
	fmt.Fprintf(stdout, "mirrored %d new records\n", n)
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
