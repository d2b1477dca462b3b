package session

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/eleven-am/medverify/internal/shared"
	"github.com/eleven-am/medverify/internal/vision"
	"github.com/labstack/echo/v4"
)

type Handler struct {
	store  *Store
	frames *vision.Store
	logger *slog.Logger
}

func NewHandler(store *Store, frames *vision.Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:  store,
		frames: frames,
		logger: logger,
	}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/:id", h.GetSession)
	g.GET("/:id/frame", h.GetLatestFrame)
}

type sessionResponse struct {
	Session *Session `json:"session"`
	Metrics *Metrics `json:"metrics"`
}

// @Summary      Get stream session
// @Tags         sessions
// @Produce      json
// @Param        id   path      string  true  "Session ID"
// @Success      200  {object}  sessionResponse
// @Failure      404  {object}  shared.APIError
// @Router       /sessions/{id} [get]
func (h *Handler) GetSession(c echo.Context) error {
	id := c.Param("id")
	ctx := c.Request().Context()

	sess, err := h.store.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return shared.NotFound("session_not_found", "session not found")
		}
		h.logger.Error("failed to get session", "error", err, "session_id", id)
		return shared.InternalError("get_session_failed", "failed to get session")
	}

	metrics, err := h.store.GetMetrics(ctx, id)
	if err != nil {
		h.logger.Error("failed to get session metrics", "error", err, "session_id", id)
		return shared.InternalError("get_metrics_failed", "failed to get metrics")
	}

	return c.JSON(http.StatusOK, sessionResponse{Session: sess, Metrics: metrics})
}

// @Summary      Get latest stream frame
// @Tags         sessions
// @Produce      image/jpeg
// @Param        id   path  string  true  "Session ID"
// @Success      200  {file}  binary
// @Failure      404  {object}  shared.APIError
// @Router       /sessions/{id}/frame [get]
//
// GetLatestFrame returns the most recent annotated frame as a JPEG, with the
// verification outcome in response headers.
func (h *Handler) GetLatestFrame(c echo.Context) error {
	id := c.Param("id")

	snap, err := h.frames.GetLatestFrame(c.Request().Context(), id)
	if err != nil {
		h.logger.Error("failed to get latest frame", "error", err, "session_id", id)
		return shared.InternalError("get_frame_failed", "failed to get frame")
	}
	if snap == nil {
		return shared.NotFound("frame_not_found", "no frame stored for session")
	}

	header := c.Response().Header()
	header.Set("X-Match-Status", snap.Status)
	header.Set("X-Detected-Id", snap.DetectedID)
	return c.Blob(http.StatusOK, "image/jpeg", snap.Data)
}
