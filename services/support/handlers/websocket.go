package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianSupport/services/support/clients"
	"github.com/AleutianAI/AleutianSupport/services/support/datatypes"
	"github.com/AleutianAI/AleutianSupport/services/support/middleware"
	"github.com/AleutianAI/AleutianSupport/services/support/observability"
	"github.com/AleutianAI/AleutianSupport/services/support/persist"
	"github.com/AleutianAI/AleutianSupport/services/support/services"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024 * 1024,
	WriteBufferSize: 1024 * 1024,
}

// wsFrameWriter sends stream frames as JSON messages over a WebSocket.
// Same hash chain as the SSE writer; keepalives become ping control frames.
type wsFrameWriter struct {
	conn     *websocket.Conn
	prevHash string
	mu       sync.Mutex
}

var _ FrameWriter = (*wsFrameWriter)(nil)

func newWSFrameWriter(conn *websocket.Conn) *wsFrameWriter {
	return &wsFrameWriter{conn: conn}
}

func (w *wsFrameWriter) WriteFrame(frame *datatypes.StreamFrame) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := stampFrame(frame, &w.prevHash)
	if err != nil {
		return err
	}
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *wsFrameWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
}

// HandleChatWS implements StreamingChatHandler. Each JSON message on the
// socket is one chat turn with the same body as the SSE endpoint; the
// response frames stream back as JSON until the done frame.
func (h *streamingChatHandler) HandleChatWS(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("failed to upgrade the websocket", "error", err)
		return
	}
	defer ws.Close()
	slog.Info("Websocket client connected")

	authInfo := middleware.GetAuthInfo(c)

	for {
		var req datatypes.StreamChatRequest
		if err := ws.ReadJSON(&req); err != nil {
			slog.Info("Websocket client disconnected", "error", err.Error())
			break
		}
		h.runWSTurn(c.Request.Context(), ws, authInfo, &req)
	}
}

func (h *streamingChatHandler) runWSTurn(ctx context.Context, ws *websocket.Conn, authInfo *middleware.AuthInfo, req *datatypes.StreamChatRequest) {
	startTime := time.Now()
	endpoint := observability.EndpointWebSocket

	if m := observability.DefaultMetrics; m != nil {
		m.StreamStarted(endpoint)
		defer m.StreamEnded(endpoint)
	}

	success := false
	defer func() {
		if m := observability.DefaultMetrics; m != nil {
			m.RecordRequest(endpoint, success)
			m.RecordStreamDuration(endpoint, time.Since(startTime).Seconds(), success)
		}
	}()

	writer := newWSFrameWriter(ws)

	req.EnsureDefaults()
	if err := req.Validate(); err != nil {
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeValidation)
		}
		_ = writer.WriteFrame(datatypes.NewStreamFrame(datatypes.FrameError).WithError(err.Error()))
		return
	}

	resolved, err := h.resolver.Resolve(ctx, authInfo, req.Data)
	if err != nil {
		slog.Warn("Websocket turn rejected", "error", err)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeInternal)
		}
		msg := "Unable to start the chat stream."
		if clients.IsRateLimitError(err) {
			msg = "Rate limit exceeded. Please try again in a moment."
		}
		_ = writer.WriteFrame(datatypes.NewStreamFrame(datatypes.FrameError).WithError(msg))
		return
	}

	cfg := h.current()
	results := datatypes.NewToolResultSet()
	turnTools := clients.NewTurnTools(h.backend, services.ToolTimeoutsFromConfig(cfg), results, req.Data.AttachedLogText)

	consumer, err := persist.NewConsumer(persist.ConsumerConfig{
		SessionID:             req.Data.SessionID,
		Sessions:              h.sessions,
		Deriver:               h.deriver,
		Locks:                 h.locks,
		Persistence:           cfg.Persistence,
		FollowupIntervalChars: cfg.Annotations.FollowupIntervalChars,
		Results:               results,
		ToolsOffered:          req.HasAttachedLog(),
		Emit:                  writer.WriteFrame,
	})
	if err != nil {
		slog.Error("Failed to prepare analysis consumer", "error", err)
		_ = writer.WriteFrame(datatypes.NewStreamFrame(datatypes.FrameError).WithError("Unable to start the chat stream."))
		return
	}

	if streamErr := h.streamTurn(ctx, writer, cfg, resolved, req, consumer, turnTools.Specs(), endpoint, startTime); streamErr != nil {
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeLLMError)
		}
		return
	}
	success = true
}
