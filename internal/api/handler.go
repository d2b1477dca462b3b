package api

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/eleven-am/medverify/internal/expiry"
	"github.com/eleven-am/medverify/internal/inventory"
	"github.com/eleven-am/medverify/internal/ledger"
	"github.com/eleven-am/medverify/internal/pipeline"
	"github.com/eleven-am/medverify/internal/shared"
	"github.com/eleven-am/medverify/internal/vision"
	"github.com/labstack/echo/v4"
)

const (
	maxUploadBytes     = 10 << 20
	defaultLedgerLimit = 100
	maxLedgerLimit     = 1000
	jpegQuality        = 85
)

// Verifier is the verification pipeline as seen by the HTTP surface.
type Verifier interface {
	VerifyStaticImage(ctx context.Context, path, targetID string) pipeline.Report
	VerifyStreamFrame(ctx context.Context, state *pipeline.SessionState, raw vision.RawFrame, targetID string) pipeline.FrameResult
}

type HandlerConfig struct {
	Verifier  Verifier
	Inventory *inventory.Inventory
	Ledger    *ledger.Ledger
	// Expiry is nil when OCR is disabled.
	Expiry    *expiry.Reader
	Validator *Validator
	UploadDir string
	Logger    *slog.Logger
}

type Handler struct {
	verifier  Verifier
	inventory *inventory.Inventory
	ledger    *ledger.Ledger
	expiry    *expiry.Reader
	validator *Validator
	uploadDir string
	logger    *slog.Logger
}

func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Validator == nil {
		cfg.Validator = NewValidator()
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = os.TempDir()
	}
	return &Handler{
		verifier:  cfg.Verifier,
		inventory: cfg.Inventory,
		ledger:    cfg.Ledger,
		expiry:    cfg.Expiry,
		validator: cfg.Validator,
		uploadDir: cfg.UploadDir,
		logger:    cfg.Logger.With("component", "api"),
	}
}

// RegisterRoutes mounts the handlers on g. limit wraps the verification
// endpoints and the ledger reset; pass nil to leave them unthrottled.
func (h *Handler) RegisterRoutes(g *echo.Group, limit echo.MiddlewareFunc) {
	var mw []echo.MiddlewareFunc
	if limit != nil {
		mw = append(mw, limit)
	}

	g.GET("/inventory", h.ListInventory)
	g.POST("/verify/image", h.VerifyImage, mw...)
	g.POST("/verify/expiry", h.VerifyExpiry, mw...)
	g.GET("/ledger", h.ListLedger)
	g.POST("/ledger/reset", h.ResetLedger, mw...)
}

type inventoryResponse struct {
	Items []inventory.Entry `json:"items"`
	Total int               `json:"total"`
}

// @Summary      List inventory
// @Description  Returns the medication catalog the verifier matches against
// @Tags         inventory
// @Produce      json
// @Success      200  {object}  inventoryResponse
// @Router       /inventory [get]
func (h *Handler) ListInventory(c echo.Context) error {
	items := h.inventory.Entries()
	return c.JSON(http.StatusOK, inventoryResponse{Items: items, Total: len(items)})
}

type verifyImageRequest struct {
	TargetID string `form:"target_id" validate:"required,max=128"`
}

type verifyImageResponse struct {
	pipeline.Report
	Image string `json:"image,omitempty"`
}

// @Summary      Verify a static image
// @Description  Verifies one photo against the selected medication and audits the outcome
// @Tags         verify
// @Accept       multipart/form-data
// @Produce      json
// @Param        target_id  formData  string  true  "Expected medication id"
// @Param        file       formData  file    true  "Medication image"
// @Success      200  {object}  verifyImageResponse
// @Failure      400  {object}  shared.APIError
// @Failure      429  {object}  shared.APIError
// @Failure      500  {object}  shared.APIError
// @Router       /verify/image [post]
//
// VerifyImage runs a one-shot verification of an uploaded photo against the
// selected medication. The outcome is always audited.
func (h *Handler) VerifyImage(c echo.Context) error {
	req := verifyImageRequest{TargetID: c.FormValue("target_id")}
	if err := validateRequest(h.validator, &req); err != nil {
		return err
	}
	if !h.inventory.Has(req.TargetID) {
		return shared.BadRequest("unknown_target", fmt.Sprintf("unknown medication %q", req.TargetID))
	}

	file, err := c.FormFile("file")
	if err != nil {
		return shared.BadRequest("missing_file", "image file is required")
	}
	if file.Size > maxUploadBytes {
		return shared.BadRequest("invalid_file", fmt.Sprintf("file exceeds %d bytes", maxUploadBytes))
	}

	path, err := h.saveUpload(file)
	if err != nil {
		h.logger.Error("failed to save upload", "error", err)
		return shared.InternalError("upload_failed", "failed to store upload")
	}
	defer os.Remove(path)

	report := h.verifier.VerifyStaticImage(c.Request().Context(), path, req.TargetID)
	h.logger.Info("static verification",
		"target_id", req.TargetID,
		"status", report.Status,
		"audited", report.Audited != nil,
	)

	resp := verifyImageResponse{Report: report}
	if report.Frame != nil {
		data, err := vision.EncodeJPEG(report.Frame, jpegQuality)
		if err != nil {
			h.logger.Warn("failed to encode annotated frame", "error", err)
		} else {
			resp.Image = base64.StdEncoding.EncodeToString(data)
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// @Summary      Read expiry date
// @Description  Reads the printed expiry date from a package photo
// @Tags         verify
// @Accept       multipart/form-data
// @Produce      json
// @Param        file  formData  file  true  "Package image"
// @Success      200  {object}  expiry.Result
// @Failure      400  {object}  shared.APIError
// @Failure      503  {object}  shared.APIError
// @Router       /verify/expiry [post]
func (h *Handler) VerifyExpiry(c echo.Context) error {
	if h.expiry == nil {
		return shared.ServiceUnavailable("ocr_disabled", "expiry reading is not enabled")
	}

	file, err := c.FormFile("file")
	if err != nil {
		return shared.BadRequest("missing_file", "image file is required")
	}
	data, err := readUpload(file)
	if err != nil {
		return shared.BadRequest("invalid_file", err.Error())
	}

	result, err := h.expiry.Read(c.Request().Context(), data)
	if err != nil {
		h.logger.Error("expiry read failed", "error", err)
		return shared.InternalError("ocr_failed", "failed to read expiry date")
	}
	return c.JSON(http.StatusOK, result)
}

type ledgerResponse struct {
	Records []ledger.AuditRecord `json:"records"`
	Total   int                  `json:"total"`
}

// @Summary      Read audit ledger
// @Tags         ledger
// @Produce      json
// @Param        limit  query     int  false  "Maximum records"  default(100)
// @Success      200    {object}  ledgerResponse
// @Failure      400    {object}  shared.APIError
// @Failure      500    {object}  shared.APIError
// @Router       /ledger [get]
//
// ListLedger returns the newest audit records, oldest first. A ledger that
// has not been created yet reads as empty.
func (h *Handler) ListLedger(c echo.Context) error {
	limit := defaultLedgerLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return shared.BadRequest("invalid_limit", "limit must be a positive integer")
		}
		limit = min(n, maxLedgerLimit)
	}

	records, err := h.ledger.Read()
	if err != nil && !errors.Is(err, ledger.ErrNotInitialized) {
		h.logger.Error("failed to read ledger", "error", err)
		return shared.InternalError("ledger_read_failed", "failed to read audit ledger")
	}
	if records == nil {
		records = []ledger.AuditRecord{}
	}

	return c.JSON(http.StatusOK, ledgerResponse{
		Records: ledger.Tail(records, limit),
		Total:   len(records),
	})
}

type resetLedgerRequest struct {
	Confirm bool `json:"confirm" validate:"required"`
}

// @Summary      Reset audit ledger
// @Description  Truncates the audit ledger to its header row
// @Tags         ledger
// @Accept       json
// @Param        request  body  resetLedgerRequest  true  "Confirmation"
// @Success      204
// @Failure      400  {object}  shared.APIError
// @Router       /ledger/reset [post]
func (h *Handler) ResetLedger(c echo.Context) error {
	var req resetLedgerRequest
	if err := bindAndValidate(c, h.validator, &req); err != nil {
		return err
	}

	h.logger.Warn("audit ledger reset requested", "path", h.ledger.Path(), "remote_ip", c.RealIP())
	if err := h.ledger.Reset(); err != nil {
		h.logger.Error("failed to reset ledger", "error", err, "remote_ip", c.RealIP())
		return shared.InternalError("ledger_reset_failed", "failed to reset audit ledger")
	}

	h.logger.Warn("audit ledger reset", "path", h.ledger.Path(), "remote_ip", c.RealIP())
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) saveUpload(file *multipart.FileHeader) (string, error) {
	src, err := file.Open()
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	dst, err := os.CreateTemp(h.uploadDir, "scan-*"+filepath.Ext(file.Filename))
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	if _, err := io.Copy(dst, io.LimitReader(src, maxUploadBytes)); err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return "", fmt.Errorf("write upload: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(dst.Name())
		return "", fmt.Errorf("close upload: %w", err)
	}
	return dst.Name(), nil
}

func readUpload(file *multipart.FileHeader) ([]byte, error) {
	if file.Size > maxUploadBytes {
		return nil, fmt.Errorf("file exceeds %d bytes", maxUploadBytes)
	}
	src, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()
	return io.ReadAll(io.LimitReader(src, maxUploadBytes))
}
