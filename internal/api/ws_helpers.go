package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"qrbatch/internal/logging"
)

const (
	wsReadBufferSize  = 1024
	wsWriteBufferSize = 1024
	wsWriteTimeout    = 10 * time.Second
)

type wsStreamConfig[T any] struct {
	Conn         *websocket.Conn
	Output       <-chan T
	BuildPayload func(T) (any, bool)
	WriteTimeout time.Duration
	Logger       *logging.Logger
}

type wsError struct {
	Status       int
	CloseCode    int
	Message      string
	Err          error
	SendEnvelope bool
}

type wsErrorPayload struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Status    int    `json:"status"`
	CloseCode int    `json:"close_code,omitempty"`
}

func upgradeWebSocket(w http.ResponseWriter, r *http.Request, allowedOrigins []string) (*websocket.Conn, error) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  wsReadBufferSize,
		WriteBufferSize: wsWriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			return isOriginAllowed(r, allowedOrigins)
		},
	}
	return upgrader.Upgrade(w, r, nil)
}

// serveWSStream writes Output to the connection from one goroutine and
// drains client frames on the calling goroutine. The stream ends when
// either side stops.
func serveWSStream[T any](r *http.Request, config wsStreamConfig[T]) {
	conn := config.Conn
	defer conn.Close()

	timeout := config.WriteTimeout
	if timeout <= 0 {
		timeout = wsWriteTimeout
	}
	build := config.BuildPayload
	if build == nil {
		build = func(value T) (any, bool) { return value, true }
	}

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-readerDone:
			return
		case <-r.Context().Done():
			return
		case item, ok := <-config.Output:
			if !ok {
				deadline := time.Now().Add(timeout)
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream closed"), deadline)
				return
			}
			payload, ok := build(item)
			if !ok {
				continue
			}
			if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
				return
			}
			if err := conn.WriteJSON(payload); err != nil {
				logWSError(config.Logger, r, wsError{
					Status:  http.StatusInternalServerError,
					Message: "websocket write failed",
					Err:     err,
				})
				return
			}
		}
	}
}

// writeWSError sends a close frame when a websocket is available and
// falls back to a plain HTTP error otherwise.
func writeWSError(w http.ResponseWriter, r *http.Request, conn *websocket.Conn, logger *logging.Logger, wsErr wsError) {
	if wsErr.Status == 0 {
		wsErr.Status = http.StatusInternalServerError
	}
	wsErr.Message = strings.TrimSpace(wsErr.Message)
	if wsErr.Message == "" {
		wsErr.Message = http.StatusText(wsErr.Status)
	}
	if wsErr.CloseCode == 0 {
		wsErr.CloseCode = closeCodeForStatus(wsErr.Status)
	}
	logWSError(logger, r, wsErr)

	if conn == nil {
		http.Error(w, wsErr.Message, wsErr.Status)
		return
	}
	deadline := time.Now().Add(wsWriteTimeout)
	if wsErr.SendEnvelope {
		_ = conn.SetWriteDeadline(deadline)
		_ = conn.WriteJSON(wsErrorPayload{
			Type:      "error",
			Message:   wsErr.Message,
			Status:    wsErr.Status,
			CloseCode: wsErr.CloseCode,
		})
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(wsErr.CloseCode, truncateCloseReason(wsErr.Message)), deadline)
	_ = conn.Close()
}

func logWSError(logger *logging.Logger, r *http.Request, wsErr wsError) {
	if logger == nil || r == nil {
		return
	}
	closeCode := wsErr.CloseCode
	if closeCode == 0 {
		closeCode = closeCodeForStatus(wsErr.Status)
	}
	fields := requestFields(r)
	fields["status"] = strconv.Itoa(wsErr.Status)
	fields["close_code"] = strconv.Itoa(closeCode)
	fields["message"] = wsErr.Message
	if wsErr.Err != nil {
		fields["error"] = wsErr.Err.Error()
	}
	if wsErr.Status >= http.StatusInternalServerError {
		logger.Error("websocket error", fields)
	} else {
		logger.Warn("websocket error", fields)
	}
}

func closeCodeForStatus(status int) int {
	switch {
	case status == http.StatusBadRequest:
		return websocket.CloseProtocolError
	case status == http.StatusServiceUnavailable:
		return websocket.CloseTryAgainLater
	case status >= http.StatusBadRequest && status < http.StatusInternalServerError:
		return websocket.ClosePolicyViolation
	default:
		return websocket.CloseInternalServerErr
	}
}

// truncateCloseReason keeps close frames within the 125 byte control
// frame limit.
func truncateCloseReason(reason string) string {
	const maxReasonBytes = 123
	if len(reason) <= maxReasonBytes {
		return reason
	}
	return reason[:maxReasonBytes]
}
