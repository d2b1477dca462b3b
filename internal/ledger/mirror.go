package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strconv"
	"time"

	"github.com/eleven-am/medverify/internal/shared"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const backfillBatchSize = 500

type AuditEntry struct {
	ID          string    `gorm:"primaryKey" json:"id"`
	Digest      string    `gorm:"size:64;uniqueIndex" json:"-"`
	Status      string    `gorm:"not null;index" json:"status"`
	Message     string    `json:"message"`
	ModelSource string    `json:"model_source"`
	Confidence  float64   `json:"confidence"`
	RecordedAt  time.Time `gorm:"index" json:"recorded_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// Mirror copies audit records into a database for review tooling. The CSV
// file stays the system of record.
type Mirror struct {
	db *gorm.DB
}

func NewMirror(db *gorm.DB) *Mirror {
	return &Mirror{db: db}
}

func (m *Mirror) Migrate() error {
	return m.db.AutoMigrate(&AuditEntry{})
}

// Insert mirrors one record. A record already present is skipped.
func (m *Mirror) Insert(ctx context.Context, rec AuditRecord) error {
	return m.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(newAuditEntry(rec)).Error
}

func newAuditEntry(rec AuditRecord) *AuditEntry {
	return &AuditEntry{
		ID:          shared.NewID("audit_"),
		Digest:      recordDigest(rec),
		Status:      string(rec.Status),
		Message:     rec.Message,
		ModelSource: rec.ModelSource,
		Confidence:  rec.Confidence,
		RecordedAt:  rec.Timestamp.UTC().Truncate(time.Microsecond),
	}
}

// recordDigest identifies a record by content. Timestamps are cut to
// microseconds, the precision postgres keeps.
func recordDigest(rec AuditRecord) string {
	h := sha256.New()
	for _, part := range []string{
		rec.Timestamp.UTC().Truncate(time.Microsecond).Format(time.RFC3339Nano),
		string(rec.Status),
		rec.Message,
		rec.ModelSource,
		strconv.FormatFloat(rec.Confidence, 'f', 4, 64),
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (m *Mirror) Recent(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	var entries []AuditEntry
	err := m.db.WithContext(ctx).
		Order("recorded_at DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

func (m *Mirror) CountByStatus(ctx context.Context, status Status) (int64, error) {
	var n int64
	err := m.db.WithContext(ctx).Model(&AuditEntry{}).Where("status = ?", string(status)).Count(&n).Error
	return n, err
}

// Backfill mirrors every record not yet present, including gaps left by
// failed live inserts, and returns how many were inserted.
func (m *Mirror) Backfill(ctx context.Context, records []AuditRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	entries := make([]*AuditEntry, len(records))
	for i, rec := range records {
		entries[i] = newAuditEntry(rec)
	}

	result := m.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(entries, backfillBatchSize)
	return int(result.RowsAffected), result.Error
}

// Recorder appends to the file ledger and then, if configured, the mirror.
// Only the file append decides success.
type Recorder struct {
	ledger *Ledger
	mirror *Mirror
	logger *slog.Logger
}

func NewRecorder(l *Ledger, mirror *Mirror, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		ledger: l,
		mirror: mirror,
		logger: logger.With("component", "ledger"),
	}
}

func (r *Recorder) Record(ctx context.Context, rec AuditRecord) error {
	if err := r.ledger.Append(rec); err != nil {
		return err
	}
	if r.mirror != nil {
		if err := r.mirror.Insert(ctx, rec); err != nil {
			r.logger.Warn("audit mirror insert failed", "error", err)
		}
	}
	return nil
}

func (r *Recorder) Ledger() *Ledger {
	return r.ledger
}
