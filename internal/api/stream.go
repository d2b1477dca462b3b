package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/eleven-am/medverify/internal/inventory"
	"github.com/eleven-am/medverify/internal/pipeline"
	"github.com/eleven-am/medverify/internal/session"
	"github.com/eleven-am/medverify/internal/vision"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"golang.org/x/sync/errgroup"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 << 20
	sendBuffer     = 16
)

const (
	messageSession    = "session"
	messageConfigured = "configured"
	messageResult     = "result"
	messageError      = "error"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// controlMessage selects the target and declares the layout of the binary
// frames that follow it. It may be resent at any time.
type controlMessage struct {
	TargetID string             `json:"target_id" validate:"required,max=128"`
	Format   vision.PixelFormat `json:"format" validate:"required"`
	Width    int                `json:"width" validate:"gte=0,lte=8192"`
	Height   int                `json:"height" validate:"gte=0,lte=8192"`
}

type serverMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	TargetID  string `json:"target_id,omitempty"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
	// HasFrame tells the client a binary JPEG message follows.
	HasFrame bool `json:"has_frame,omitempty"`
	*pipeline.FrameResult
}

type outbound struct {
	kind int
	data []byte
}

type frameJob struct {
	raw      vision.RawFrame
	targetID string
}

// StreamRegistry tracks the live stream connections.
type StreamRegistry struct {
	mu      sync.RWMutex
	streams map[string]*pipeline.SessionState
}

func NewStreamRegistry() *StreamRegistry {
	return &StreamRegistry{streams: make(map[string]*pipeline.SessionState)}
}

func (r *StreamRegistry) add(state *pipeline.SessionState) {
	r.mu.Lock()
	r.streams[state.ID] = state
	r.mu.Unlock()
}

func (r *StreamRegistry) remove(id string) {
	r.mu.Lock()
	delete(r.streams, id)
	r.mu.Unlock()
}

func (r *StreamRegistry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.streams)
}

type StreamConfig struct {
	Verifier       Verifier
	Inventory      *inventory.Inventory
	Sessions       *session.Store
	Frames         *vision.Store
	Registry       *StreamRegistry
	Validator      *Validator
	InferenceEvery int
	Logger         *slog.Logger
}

type StreamServer struct {
	verifier  Verifier
	inventory *inventory.Inventory
	sessions  *session.Store
	frames    *vision.Store
	registry  *StreamRegistry
	validator *Validator
	every     int
	logger    *slog.Logger
}

func NewStreamServer(cfg StreamConfig) *StreamServer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Registry == nil {
		cfg.Registry = NewStreamRegistry()
	}
	if cfg.Validator == nil {
		cfg.Validator = NewValidator()
	}
	return &StreamServer{
		verifier:  cfg.Verifier,
		inventory: cfg.Inventory,
		sessions:  cfg.Sessions,
		frames:    cfg.Frames,
		registry:  cfg.Registry,
		validator: cfg.Validator,
		every:     cfg.InferenceEvery,
		logger:    cfg.Logger.With("component", "stream"),
	}
}

func (s *StreamServer) RegisterRoutes(g *echo.Group) {
	g.GET("/stream", s.HandleStream)
}

// HandleStream upgrades the request and runs one verification stream until
// the client goes away.
func (s *StreamServer) HandleStream(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return err
	}

	ctx := context.WithoutCancel(c.Request().Context())
	sess := &session.Session{}
	if err := s.sessions.CreateSession(ctx, sess); err != nil {
		s.logger.Error("failed to create stream session", "error", err)
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "session unavailable"),
			time.Now().Add(writeWait))
		ws.Close()
		return nil
	}

	state := pipeline.NewSessionState(sess.ID, s.every)
	s.registry.add(state)
	logger := s.logger.With("session_id", sess.ID)
	logger.Info("stream opened", "remote_ip", c.RealIP())

	conn := &streamConn{
		server: s,
		ws:     ws,
		state:  state,
		sess:   sess,
		logger: logger,
		jobs:   make(chan frameJob),
		out:    make(chan outbound, sendBuffer),
		done:   make(chan struct{}),
	}
	err = conn.run(ctx)

	s.registry.remove(sess.ID)
	status := session.StatusEnded
	if err != nil {
		status = session.StatusError
		logger.Warn("stream closed with error", "error", err)
	}
	if err := s.sessions.EndSession(ctx, sess.ID, status); err != nil {
		logger.Warn("failed to end stream session", "error", err)
	}
	logger.Info("stream closed", "frames", state.Count())
	return nil
}

type streamConn struct {
	server *StreamServer
	ws     *websocket.Conn
	state  *pipeline.SessionState
	sess   *session.Session
	logger *slog.Logger

	jobs chan frameJob
	out  chan outbound
	done chan struct{}
}

func (c *streamConn) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	c.send(gctx, serverMessage{Type: messageSession, SessionID: c.sess.ID})

	g.Go(func() error { return c.readLoop(gctx) })
	g.Go(func() error { return c.processLoop(gctx) })
	g.Go(func() error { return c.writeLoop(gctx) })

	return g.Wait()
}

// readLoop owns the control state. Frames are handed to processLoop together
// with the target that was current when they arrived.
func (c *streamConn) readLoop(ctx context.Context) error {
	defer close(c.jobs)

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	var control *controlMessage
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("read error", "error", err)
			}
			return nil
		}
		c.ws.SetReadDeadline(time.Now().Add(pongWait))

		switch kind {
		case websocket.TextMessage:
			next, err := c.parseControl(data)
			if err != nil {
				c.sendError(ctx, "invalid_control", err.Error())
				continue
			}
			control = next
			c.configure(ctx, next)

		case websocket.BinaryMessage:
			if control == nil {
				c.sendError(ctx, "not_configured", "send a control message before frames")
				continue
			}
			job := frameJob{
				raw: vision.RawFrame{
					Data:   data,
					Width:  control.Width,
					Height: control.Height,
					Format: control.Format,
				},
				targetID: control.TargetID,
			}
			select {
			case c.jobs <- job:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (c *streamConn) parseControl(data []byte) (*controlMessage, error) {
	var msg controlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("malformed control message: %w", err)
	}
	if err := c.server.validator.Validate(&msg); err != nil {
		return nil, fmt.Errorf("invalid control message: %w", err)
	}
	if !msg.Format.Valid() {
		return nil, fmt.Errorf("%w: %s", vision.ErrUnsupportedFormat, msg.Format)
	}
	if msg.Format.Raw() && (msg.Width <= 0 || msg.Height <= 0) {
		return nil, fmt.Errorf("%w: %s frames need width and height", vision.ErrInvalidDimensions, msg.Format)
	}
	if !c.server.inventory.Has(msg.TargetID) {
		return nil, fmt.Errorf("unknown medication %q", msg.TargetID)
	}
	return &msg, nil
}

func (c *streamConn) configure(ctx context.Context, msg *controlMessage) {
	c.sess.TargetID = msg.TargetID
	c.sess.Format = msg.Format
	c.sess.Width = msg.Width
	c.sess.Height = msg.Height
	if err := c.server.sessions.UpdateSession(ctx, c.sess); err != nil {
		c.logger.Warn("failed to update stream session", "error", err)
	}

	c.logger.Info("stream configured", "target_id", msg.TargetID, "format", msg.Format)
	c.send(ctx, serverMessage{Type: messageConfigured, SessionID: c.sess.ID, TargetID: msg.TargetID})
}

func (c *streamConn) processLoop(ctx context.Context) error {
	defer close(c.done)

	for {
		select {
		case <-ctx.Done():
			return nil
		case job, ok := <-c.jobs:
			if !ok {
				return nil
			}
			c.process(ctx, job)
		}
	}
}

func (c *streamConn) process(ctx context.Context, job frameJob) {
	res := c.server.verifier.VerifyStreamFrame(ctx, c.state, job.raw, job.targetID)

	var jpeg []byte
	if res.Frame != nil {
		data, err := vision.EncodeJPEG(res.Frame, jpegQuality)
		if err != nil {
			c.logger.Warn("failed to encode frame", "index", res.Index, "error", err)
		} else {
			jpeg = data
		}
	}

	if err := c.server.sessions.RecordFrame(ctx, c.sess.ID, res.Status, res.Audited); err != nil {
		c.logger.Warn("failed to record frame metrics", "error", err)
	}
	if jpeg != nil && c.server.frames != nil {
		b := res.Frame.Bounds()
		snap := &vision.Snapshot{
			SessionID:  c.sess.ID,
			Timestamp:  time.Now().UnixMilli(),
			Data:       jpeg,
			Width:      b.Dx(),
			Height:     b.Dy(),
			Status:     string(res.Status),
			DetectedID: res.DetectedID,
			Confidence: res.Confidence,
		}
		if err := c.server.frames.StoreFrame(ctx, snap); err != nil {
			c.logger.Warn("failed to store frame snapshot", "error", err)
		}
	}

	c.send(ctx, serverMessage{
		Type:        messageResult,
		SessionID:   c.sess.ID,
		TargetID:    job.targetID,
		HasFrame:    jpeg != nil,
		FrameResult: &res,
	})
	if jpeg != nil {
		c.enqueue(ctx, outbound{kind: websocket.BinaryMessage, data: jpeg})
	}
}

func (c *streamConn) writeLoop(ctx context.Context) error {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.done:
			for {
				select {
				case msg := <-c.out:
					if err := c.write(msg); err != nil {
						return nil
					}
				default:
					c.ws.SetWriteDeadline(time.Now().Add(writeWait))
					c.ws.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return nil
				}
			}
		case msg := <-c.out:
			if err := c.write(msg); err != nil {
				return fmt.Errorf("write: %w", err)
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}

func (c *streamConn) write(msg outbound) error {
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(msg.kind, msg.data)
}

func (c *streamConn) send(ctx context.Context, msg serverMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("marshal error", "error", err)
		return
	}
	c.enqueue(ctx, outbound{kind: websocket.TextMessage, data: data})
}

func (c *streamConn) sendError(ctx context.Context, code, message string) {
	c.send(ctx, serverMessage{Type: messageError, SessionID: c.sess.ID, Code: code, Message: message})
}

func (c *streamConn) enqueue(ctx context.Context, msg outbound) {
	select {
	case c.out <- msg:
	case <-ctx.Done():
	}
}
