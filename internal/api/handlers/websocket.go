// Package handlers provides HTTP request handlers for the netsweep API.
// This file implements the websocket endpoint that runs a sweep and streams
// its device records to the client as they complete.
package handlers

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/anstrom/netsweep/internal/api/middleware"
	"github.com/anstrom/netsweep/internal/errors"
	"github.com/anstrom/netsweep/internal/logging"
	"github.com/anstrom/netsweep/internal/scanning"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer
	pongWait       = 60 * time.Second    // Time to read next pong message from peer
	pingPeriod     = (pongWait * 9) / 10 // Send pings to peer (must be < pongWait)
	requestWait    = 30 * time.Second    // Time allowed for the client to send its scan request
	maxMessageSize = 64 * 1024           // Maximum message size allowed from peer
)

// Message types sent to the client.
const (
	MessageRecord   = "record"
	MessageComplete = "complete"
	MessageError    = "error"
)

// Message types accepted from the client.
const (
	RequestScan   = "scan"
	RequestCancel = "cancel"
)

// Sweeper runs a sweep under a caller-chosen id and streams its records.
type Sweeper interface {
	ScanWithID(ctx context.Context, scanID string, targets []string) <-chan scanning.DeviceRecord
}

// ScanRequest is the first message a client sends. Targets are expanded
// like CLI entries; Discover sweeps the subnets of Adapter, or of every
// eligible adapter when Adapter is empty.
type ScanRequest struct {
	Type        string   `json:"type" validate:"omitempty,oneof=scan"`
	Targets     []string `json:"targets" validate:"required_without=Discover,max=1024,dive,required,max=255"`
	Discover    bool     `json:"discover"`
	Adapter     string   `json:"adapter" validate:"omitempty,max=64"`
	HideOffline bool     `json:"hide_offline"`
}

// StreamMessage is the envelope of every message sent to the client.
type StreamMessage struct {
	Type      string      `json:"type"`
	ScanID    string      `json:"scan_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// ScanSummary is the payload of the completion message.
type ScanSummary struct {
	Targets  int    `json:"targets"`
	Records  int    `json:"records"`
	Hidden   int    `json:"hidden"`
	Canceled bool   `json:"canceled"`
	Duration string `json:"duration"`
}

// ScanStreamHandler serves GET /api/v1/scan/ws.
type ScanStreamHandler struct {
	targets    TargetSource
	sweeper    Sweeper
	validate   *validator.Validate
	maxTargets int
	logger     *logging.Logger
	upgrader   websocket.Upgrader

	baseCtx context.Context
	cancel  context.CancelFunc
	active  atomic.Int32
}

// NewScanStreamHandler creates a new scan stream handler. A sweep larger
// than maxTargets addresses is rejected before it starts.
func NewScanStreamHandler(targets TargetSource, sweeper Sweeper, maxTargets int, logger *logging.Logger) *ScanStreamHandler {
	ctx, cancel := context.WithCancel(context.Background())
	return &ScanStreamHandler{
		targets:    targets,
		sweeper:    sweeper,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		maxTargets: maxTargets,
		logger:     logger.WithFields("handler", "websocket"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Origins are enforced by the CORS middleware.
				return true
			},
		},
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// Active returns the number of sweeps currently streaming.
func (h *ScanStreamHandler) Active() int {
	return int(h.active.Load())
}

// Close cancels every running sweep.
func (h *ScanStreamHandler) Close() {
	h.cancel()
}

// ScanWebSocket upgrades the connection, reads one ScanRequest, runs the
// sweep and streams one record message per device followed by a completion
// message. Closing the connection or sending {"type":"cancel"} cancels the
// sweep.
func (h *ScanStreamHandler) ScanWebSocket(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r)
	logger := h.logger.WithFields("request_id", requestID, "remote_addr", r.RemoteAddr)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Failed to upgrade WebSocket connection", "error", err)
		return
	}
	defer func() {
		if err := conn.Close(); err != nil {
			logger.Debug("Error closing WebSocket connection", "error", err)
		}
	}()

	h.active.Add(1)
	defer h.active.Add(-1)

	conn.SetReadLimit(maxMessageSize)

	req, err := h.readRequest(conn)
	if err != nil {
		logger.Warn("Rejected scan request", "error", err)
		h.closeWithError(conn, "", err)
		return
	}

	targets, err := h.resolveTargets(req)
	if err != nil {
		logger.Warn("Scan request has no usable targets", "error", err)
		h.closeWithError(conn, "", err)
		return
	}

	ctx, cancel := context.WithCancel(h.baseCtx)
	defer cancel()
	go h.watchClient(conn, cancel)

	scanID := uuid.NewString()
	logger = logger.WithScanID(scanID)
	logger.Info("Scan stream started", "targets", len(targets))

	summary, ok := h.stream(ctx, cancel, conn, scanID, targets, req.HideOffline)
	if !ok {
		logger.Info("Scan stream client went away", "records", summary.Records)
		return
	}

	logger.Info("Scan stream finished",
		"records", summary.Records,
		"hidden", summary.Hidden,
		"canceled", summary.Canceled,
		"duration", summary.Duration)

	if err := h.write(conn, StreamMessage{
		Type:      MessageComplete,
		ScanID:    scanID,
		Timestamp: time.Now().UTC(),
		Data:      summary,
	}); err != nil {
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "scan complete"),
		time.Now().Add(writeWait))
}

func (h *ScanStreamHandler) readRequest(conn *websocket.Conn) (ScanRequest, error) {
	var req ScanRequest

	if err := conn.SetReadDeadline(time.Now().Add(requestWait)); err != nil {
		return req, err
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		return req, fmt.Errorf("failed to read scan request: %w", err)
	}
	if err := sonic.Unmarshal(data, &req); err != nil {
		return req, errors.NewScanError(errors.CodeValidation, fmt.Sprintf("invalid scan request: %v", err))
	}
	if err := h.validate.Struct(req); err != nil {
		return req, errors.NewScanError(errors.CodeValidation, fmt.Sprintf("invalid scan request: %v", err))
	}
	if req.Type == "" {
		req.Type = RequestScan
	}
	return req, nil
}

func (h *ScanStreamHandler) resolveTargets(req ScanRequest) ([]string, error) {
	var (
		targets []string
		err     error
	)
	if req.Discover {
		targets, err = h.targets.Discover(req.Adapter)
	} else {
		targets, err = h.targets.Expand(req.Targets)
	}
	if err != nil {
		return nil, err
	}

	if len(targets) == 0 {
		return nil, errors.NewScanError(errors.CodeValidation, "scan request expands to no targets")
	}
	if h.maxTargets > 0 && len(targets) > h.maxTargets {
		return nil, errors.NewScanError(errors.CodeValidation,
			fmt.Sprintf("scan of %d targets exceeds the limit of %d", len(targets), h.maxTargets))
	}
	return targets, nil
}

// watchClient reads until the connection fails and cancels the sweep when
// it does or when the client asks for it.
func (h *ScanStreamHandler) watchClient(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("WebSocket unexpected close", "error", err)
			}
			return
		}

		var msg struct {
			Type string `json:"type"`
		}
		if sonic.Unmarshal(data, &msg) == nil && msg.Type == RequestCancel {
			cancel()
		}
	}
}

// stream forwards records until the sweep closes its channel. The channel
// is always drained, so a failed write cancels the sweep instead of
// stranding its workers. ok is false when the client can no longer be
// written to.
func (h *ScanStreamHandler) stream(
	ctx context.Context,
	cancel context.CancelFunc,
	conn *websocket.Conn,
	scanID string,
	targets []string,
	hideOffline bool,
) (summary ScanSummary, ok bool) {
	start := time.Now()
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	summary.Targets = len(targets)
	ok = true

	results := h.sweeper.ScanWithID(ctx, scanID, targets)
	for {
		select {
		case rec, more := <-results:
			if !more {
				summary.Canceled = ctx.Err() != nil
				summary.Duration = time.Since(start).Round(time.Millisecond).String()
				return summary, ok
			}
			if hideOffline && rec.Status == scanning.StatusOffline {
				summary.Hidden++
				continue
			}
			if !ok {
				continue
			}
			err := h.write(conn, StreamMessage{
				Type:      MessageRecord,
				ScanID:    scanID,
				Timestamp: time.Now().UTC(),
				Data:      rec,
			})
			if err != nil {
				ok = false
				cancel()
				continue
			}
			summary.Records++

		case <-ticker.C:
			if !ok {
				continue
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				ok = false
				cancel()
			}
		}
	}
}

func (h *ScanStreamHandler) write(conn *websocket.Conn, msg StreamMessage) error {
	data, err := sonic.Marshal(msg)
	if err != nil {
		return err
	}
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (h *ScanStreamHandler) closeWithError(conn *websocket.Conn, scanID string, err error) {
	_ = h.write(conn, StreamMessage{
		Type:      MessageError,
		ScanID:    scanID,
		Timestamp: time.Now().UTC(),
		Data: map[string]string{
			"error": err.Error(),
			"code":  string(errors.GetCode(err)),
		},
	})
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "invalid scan request"),
		time.Now().Add(writeWait))
}
