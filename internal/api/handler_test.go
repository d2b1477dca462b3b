package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/eleven-am/medverify/internal/detector"
	"github.com/eleven-am/medverify/internal/expiry"
	"github.com/eleven-am/medverify/internal/ledger"
	"github.com/eleven-am/medverify/internal/shared"
	"github.com/labstack/echo/v4"
)

type fakeExtractor struct {
	text string
	err  error
}

func (f fakeExtractor) Text(ctx context.Context, image []byte) (string, error) {
	return f.text, f.err
}

type handlerFixture struct {
	handler   *Handler
	ledger    *ledger.Ledger
	detector  *fakeDetector
	uploadDir string
}

func newHandlerFixture(t *testing.T, dets []detector.Detection, reader *expiry.Reader) *handlerFixture {
	t.Helper()
	inv := testInventory(t)
	l := testLedger(t)
	det := &fakeDetector{dets: dets}
	dir := t.TempDir()

	h := NewHandler(HandlerConfig{
		Verifier:  testPipeline(det, l, inv),
		Inventory: inv,
		Ledger:    l,
		Expiry:    reader,
		UploadDir: dir,
		Logger:    testLogger(),
	})
	return &handlerFixture{handler: h, ledger: l, detector: det, uploadDir: dir}
}

func assertHTTPError(t *testing.T, err error, code int, apiCode string) {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected *echo.HTTPError, got %T (%v)", err, err)
	}
	if he.Code != code {
		t.Errorf("status = %d, want %d", he.Code, code)
	}
	apiErr, ok := he.Message.(*shared.APIError)
	if !ok {
		t.Fatalf("expected *shared.APIError message, got %T", he.Message)
	}
	if apiErr.Code != apiCode {
		t.Errorf("error code = %q, want %q", apiErr.Code, apiCode)
	}
}

func TestListInventory(t *testing.T) {
	f := newHandlerFixture(t, nil, nil)
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/v1/inventory", nil)
	rec := httptest.NewRecorder()

	if err := f.handler.ListInventory(e.NewContext(req, rec)); err != nil {
		t.Fatalf("ListInventory failed: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp inventoryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Total != 2 || len(resp.Items) != 2 {
		t.Fatalf("expected 2 items, got %+v", resp)
	}
	if resp.Items[0].ID != "drug_a" || resp.Items[0].Name != "Drug A" {
		t.Errorf("unexpected first item: %+v", resp.Items[0])
	}
}

func TestVerifyImage_Mismatch(t *testing.T) {
	f := newHandlerFixture(t, []detector.Detection{detection("drug_b", 0.9)}, nil)
	e := echo.New()
	req := multipartRequest(t, "/v1/verify/image", map[string]string{"target_id": "drug_a"}, pngBytes(t, 32, 24))
	rec := httptest.NewRecorder()

	if err := f.handler.VerifyImage(e.NewContext(req, rec)); err != nil {
		t.Fatalf("VerifyImage failed: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp struct {
		Status  string `json:"status"`
		Message string `json:"message"`
		Image   string `json:"image"`
		Audited *struct {
			Status string `json:"status"`
		} `json:"audited_record"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "DANGER" {
		t.Errorf("status = %q, want DANGER", resp.Status)
	}
	if !strings.Contains(resp.Message, "drug_a") || !strings.Contains(resp.Message, "drug_b") {
		t.Errorf("message should name both ids: %q", resp.Message)
	}
	if resp.Image == "" {
		t.Error("expected annotated image")
	}
	if resp.Audited == nil || resp.Audited.Status != "DANGER" {
		t.Errorf("expected DANGER audit record, got %+v", resp.Audited)
	}

	n, err := f.ledger.Count()
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 1 {
		t.Errorf("ledger rows = %d, want 1", n)
	}

	entries, err := os.ReadDir(f.uploadDir)
	if err != nil {
		t.Fatalf("read upload dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected upload to be removed, found %d files", len(entries))
	}
}

func TestVerifyImage_Verified(t *testing.T) {
	f := newHandlerFixture(t, []detector.Detection{detection("drug_a", 0.8)}, nil)
	e := echo.New()
	req := multipartRequest(t, "/v1/verify/image", map[string]string{"target_id": "drug_a"}, pngBytes(t, 16, 16))
	rec := httptest.NewRecorder()

	if err := f.handler.VerifyImage(e.NewContext(req, rec)); err != nil {
		t.Fatalf("VerifyImage failed: %v", err)
	}

	var resp struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "SAFE" {
		t.Errorf("status = %q, want SAFE", resp.Status)
	}
}

func TestVerifyImage_BadRequests(t *testing.T) {
	tests := []struct {
		name    string
		fields  map[string]string
		file    bool
		apiCode string
	}{
		{name: "missing target", fields: nil, file: true, apiCode: "validation_failed"},
		{name: "unknown target", fields: map[string]string{"target_id": "drug_z"}, file: true, apiCode: "unknown_target"},
		{name: "missing file", fields: map[string]string{"target_id": "drug_a"}, file: false, apiCode: "missing_file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newHandlerFixture(t, nil, nil)
			var file []byte
			if tt.file {
				file = pngBytes(t, 8, 8)
			}
			req := multipartRequest(t, "/v1/verify/image", tt.fields, file)
			rec := httptest.NewRecorder()

			err := f.handler.VerifyImage(echo.New().NewContext(req, rec))
			assertHTTPError(t, err, http.StatusBadRequest, tt.apiCode)

			if f.detector.Calls() != 0 {
				t.Errorf("detector should not run, got %d calls", f.detector.Calls())
			}
		})
	}
}

func TestVerifyImage_UndecodableUpload(t *testing.T) {
	f := newHandlerFixture(t, nil, nil)
	req := multipartRequest(t, "/v1/verify/image", map[string]string{"target_id": "drug_a"}, []byte("not an image"))
	rec := httptest.NewRecorder()

	if err := f.handler.VerifyImage(echo.New().NewContext(req, rec)); err != nil {
		t.Fatalf("VerifyImage failed: %v", err)
	}

	var resp struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "ERROR" {
		t.Errorf("status = %q, want ERROR", resp.Status)
	}
	if !strings.HasPrefix(resp.Message, "Verification failed:") {
		t.Errorf("unexpected message: %q", resp.Message)
	}
}

func TestVerifyExpiry(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		f := newHandlerFixture(t, nil, nil)
		req := multipartRequest(t, "/v1/verify/expiry", nil, pngBytes(t, 8, 8))
		err := f.handler.VerifyExpiry(echo.New().NewContext(req, httptest.NewRecorder()))
		assertHTTPError(t, err, http.StatusServiceUnavailable, "ocr_disabled")
	})

	t.Run("detected", func(t *testing.T) {
		f := newHandlerFixture(t, nil, expiry.NewReader(fakeExtractor{text: "LOT 42 EXP 12/2099"}))
		req := multipartRequest(t, "/v1/verify/expiry", nil, pngBytes(t, 8, 8))
		rec := httptest.NewRecorder()

		if err := f.handler.VerifyExpiry(echo.New().NewContext(req, rec)); err != nil {
			t.Fatalf("VerifyExpiry failed: %v", err)
		}

		var res expiry.Result
		if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if res.Status != expiry.StatusSuccess || res.Date != "12/2099" || res.Expired {
			t.Errorf("unexpected result: %+v", res)
		}
	})

	t.Run("ocr failure", func(t *testing.T) {
		f := newHandlerFixture(t, nil, expiry.NewReader(fakeExtractor{err: errors.New("engine down")}))
		req := multipartRequest(t, "/v1/verify/expiry", nil, pngBytes(t, 8, 8))
		err := f.handler.VerifyExpiry(echo.New().NewContext(req, httptest.NewRecorder()))
		assertHTTPError(t, err, http.StatusInternalServerError, "ocr_failed")
	})

	t.Run("missing file", func(t *testing.T) {
		f := newHandlerFixture(t, nil, expiry.NewReader(fakeExtractor{}))
		req := multipartRequest(t, "/v1/verify/expiry", nil, nil)
		err := f.handler.VerifyExpiry(echo.New().NewContext(req, httptest.NewRecorder()))
		assertHTTPError(t, err, http.StatusBadRequest, "missing_file")
	})
}

func TestListLedger(t *testing.T) {
	f := newHandlerFixture(t, nil, nil)
	e := echo.New()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/ledger", nil)
	if err := f.handler.ListLedger(e.NewContext(req, rec)); err != nil {
		t.Fatalf("ListLedger on missing ledger failed: %v", err)
	}
	var resp ledgerResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Total != 0 || resp.Records == nil {
		t.Errorf("expected empty record list, got %+v", resp)
	}

	for _, msg := range []string{"first", "second"} {
		if err := f.ledger.Append(ledger.NewRecord(true, msg, "models/best.pt", 0.9)); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/v1/ledger?limit=1", nil)
	if err := f.handler.ListLedger(e.NewContext(req, rec)); err != nil {
		t.Fatalf("ListLedger failed: %v", err)
	}
	resp = ledgerResponse{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Total != 2 {
		t.Errorf("total = %d, want 2", resp.Total)
	}
	if len(resp.Records) != 1 || resp.Records[0].Message != "second" {
		t.Errorf("expected newest record only, got %+v", resp.Records)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/ledger?limit=abc", nil)
	err := f.handler.ListLedger(e.NewContext(req, httptest.NewRecorder()))
	assertHTTPError(t, err, http.StatusBadRequest, "invalid_limit")
}

func TestResetLedger(t *testing.T) {
	f := newHandlerFixture(t, nil, nil)
	e := echo.New()
	if err := f.ledger.Append(ledger.NewRecord(false, "Mismatch!", "models/best.pt", 0.9)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	tests := []struct {
		name string
		body string
	}{
		{name: "not confirmed", body: `{"confirm": false}`},
		{name: "empty body", body: `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/ledger/reset", strings.NewReader(tt.body))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			err := f.handler.ResetLedger(e.NewContext(req, httptest.NewRecorder()))
			assertHTTPError(t, err, http.StatusBadRequest, "validation_failed")
		})
	}

	if n, _ := f.ledger.Count(); n != 1 {
		t.Fatalf("unconfirmed reset changed the ledger: %d rows", n)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/ledger/reset", strings.NewReader(`{"confirm": true}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	if err := f.handler.ResetLedger(e.NewContext(req, rec)); err != nil {
		t.Fatalf("ResetLedger failed: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
	if n, err := f.ledger.Count(); err != nil || n != 0 {
		t.Errorf("expected empty ledger after reset, got %d (%v)", n, err)
	}
}

func TestResetLedger_RateLimited(t *testing.T) {
	f := newHandlerFixture(t, nil, nil)
	e := echo.New()
	limit := RateLimiter(RateLimiterConfig{
		RequestsPerSecond: 0.001,
		Burst:             1,
		CleanupInterval:   time.Hour,
	})
	f.handler.RegisterRoutes(e.Group("/v1"), limit)

	reset := func() int {
		req := httptest.NewRequest(http.MethodPost, "/v1/ledger/reset", strings.NewReader(`{"confirm": true}`))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		req.RemoteAddr = "10.0.0.9:4000"
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := reset(); code != http.StatusNoContent {
		t.Fatalf("first reset: status = %d, want 204", code)
	}
	if err := f.ledger.Append(ledger.NewRecord(true, "Verified: Drug A.", "models/best.pt", 0.9)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if code := reset(); code != http.StatusTooManyRequests {
		t.Errorf("second reset: status = %d, want 429", code)
	}
	if n, _ := f.ledger.Count(); n != 1 {
		t.Errorf("throttled reset changed the ledger: %d rows", n)
	}
}
