package ledger

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// Ledger is an append-only CSV audit trail. Writes within one process are
// serialized; concurrent writers in other processes need an external lock.
type Ledger struct {
	path    string
	columns []string
	mu      sync.Mutex
}

func New(path string, columns []string) (*Ledger, error) {
	if path == "" {
		return nil, errors.New("ledger path is required")
	}
	cols, err := ValidateColumns(columns)
	if err != nil {
		return nil, err
	}
	return &Ledger{path: path, columns: cols}, nil
}

func (l *Ledger) Path() string {
	return l.path
}

func (l *Ledger) Columns() []string {
	return append([]string(nil), l.columns...)
}

// InitializeIfAbsent creates the file with a header row. An existing file is
// left as is, except that an empty one gets its header.
func (l *Ledger) InitializeIfAbsent() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.initialize()
}

func (l *Ledger) initialize() error {
	if err := l.ensureDir(); err != nil {
		return err
	}

	info, err := os.Stat(l.path)
	if err == nil {
		if info.Size() > 0 {
			return nil
		}
		f, err := os.OpenFile(l.path, os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open ledger: %w", err)
		}
		return writeAndSync(f, l.columns)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat ledger: %w", err)
	}

	// The header is written to a temp file and linked into place, so the
	// ledger never becomes visible without its header.
	tmpPath, err := l.writeHeaderTemp()
	if err != nil {
		return err
	}
	defer os.Remove(tmpPath)

	err = os.Link(tmpPath, l.path)
	if err == nil || errors.Is(err, fs.ErrExist) {
		return nil
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("create ledger: %w", err)
	}
	return writeAndSync(f, l.columns)
}

func (l *Ledger) writeHeaderTemp() (string, error) {
	tmp, err := os.CreateTemp(filepath.Dir(l.path), "."+filepath.Base(l.path)+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp ledger: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("chmod temp ledger: %w", err)
	}
	if err := writeAndSync(tmp, l.columns); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

// Append writes one record and returns once it has been synced to disk.
func (l *Ledger) Append(rec AuditRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.initialize(); err != nil {
		return err
	}

	header, err := l.fileHeader()
	if err != nil {
		return err
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}

	// Rows follow the header already in the file, which may come from an
	// older column configuration. Columns the file lacks are not written.
	row := make([]string, len(header))
	for i, c := range header {
		row[i] = rec.field(normalizeColumn(c))
	}
	return writeAndSync(f, row)
}

func (l *Ledger) fileHeader() ([]string, error) {
	f, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	header, err := r.Read()
	if errors.Is(err, io.EOF) || len(header) == 0 {
		return l.columns, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger header: %w", err)
	}
	return header, nil
}

// Reset replaces the ledger with a header-only file. It is only ever invoked
// by an explicit operator action.
func (l *Ledger) Reset() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.ensureDir(); err != nil {
		return err
	}

	tmpPath, err := l.writeHeaderTemp()
	if err != nil {
		return err
	}
	if err := os.Rename(tmpPath, l.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace ledger: %w", err)
	}
	syncDir(filepath.Dir(l.path))
	return nil
}

func (l *Ledger) Read() ([]AuditRecord, error) {
	f, err := os.Open(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotInitialized
	}
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()
	return ReadAll(f)
}

// Count returns the number of data rows.
func (l *Ledger) Count() (int, error) {
	records, err := l.Read()
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

func (l *Ledger) ensureDir() error {
	dir := filepath.Dir(l.path)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}
	return nil
}

func writeAndSync(f *os.File, row []string) error {
	w := csv.NewWriter(f)
	if err := w.Write(row); err != nil {
		f.Close()
		return fmt.Errorf("write ledger: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("flush ledger: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync ledger: %w", err)
	}
	return f.Close()
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	d.Sync()
	d.Close()
}
