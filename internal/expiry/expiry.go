package expiry

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var datePattern = regexp.MustCompile(`\b(\d{2})[/-](\d{2})[/-](\d{4})\b|\b(\d{2})/(\d{4})\b`)

type Expiry struct {
	Raw       string    `json:"raw"`
	Date      time.Time `json:"date"`
	MonthOnly bool      `json:"month_only"`
}

// Expired reports whether now is past the last day the medication is usable.
func (e Expiry) Expired(now time.Time) bool {
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return today.After(e.Date)
}

// Parse finds the first valid expiry date in OCR text. Accepted forms are
// DD-MM-YYYY, DD/MM/YYYY and MM/YYYY; a month-only date means the last day of
// that month.
func Parse(text string) (Expiry, bool) {
	for _, m := range datePattern.FindAllStringSubmatch(text, -1) {
		if m[1] != "" {
			day, _ := strconv.Atoi(m[1])
			month, _ := strconv.Atoi(m[2])
			year, _ := strconv.Atoi(m[3])
			if d, ok := validDate(year, month, day); ok {
				return Expiry{Raw: m[0], Date: d}, true
			}
			continue
		}

		month, _ := strconv.Atoi(m[4])
		year, _ := strconv.Atoi(m[5])
		if month < 1 || month > 12 {
			continue
		}
		last := time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC)
		return Expiry{Raw: m[0], Date: last, MonthOnly: true}, true
	}
	return Expiry{}, false
}

func validDate(year, month, day int) (time.Time, bool) {
	if month < 1 || month > 12 || day < 1 {
		return time.Time{}, false
	}
	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if d.Day() != day {
		return time.Time{}, false
	}
	return d, true
}

// Extractor turns an encoded image into recognized text.
type Extractor interface {
	Text(ctx context.Context, image []byte) (string, error)
}

type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusUnknown Status = "UNKNOWN"
)

type Result struct {
	Status  Status  `json:"status"`
	Date    string  `json:"date,omitempty"`
	Expired bool    `json:"expired"`
	Message string  `json:"msg"`
	Expiry  *Expiry `json:"expiry,omitempty"`
}

type Reader struct {
	extractor Extractor
	now       func() time.Time
}

func NewReader(extractor Extractor) *Reader {
	return &Reader{extractor: extractor, now: time.Now}
}

func (r *Reader) Read(ctx context.Context, image []byte) (Result, error) {
	text, err := r.extractor.Text(ctx, image)
	if err != nil {
		return Result{}, fmt.Errorf("extract text: %w", err)
	}
	return r.evaluate(text), nil
}

func (r *Reader) evaluate(text string) Result {
	e, ok := Parse(text)
	if !ok {
		return Result{Status: StatusUnknown, Message: "No expiry date detected."}
	}

	res := Result{
		Status:  StatusSuccess,
		Date:    e.Raw,
		Expired: e.Expired(r.now()),
		Message: fmt.Sprintf("Detected Expiry: %s", e.Raw),
		Expiry:  &e,
	}
	if res.Expired {
		res.Message += " (expired)"
	}
	return res
}
