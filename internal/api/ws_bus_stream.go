package api

import (
	"net/http"

	"qrbatch/internal/event"
	"qrbatch/internal/logging"
)

type wsBusStreamConfig[T any] struct {
	Logger         *logging.Logger
	AllowedOrigins []string
	Bus            *event.Bus[T]
	Filter         func(T) bool
	BuildPayload   func(T) (any, bool)
}

// serveWSBusStream subscribes to a bus and streams payloads to a websocket connection.
func serveWSBusStream[T any](w http.ResponseWriter, r *http.Request, config wsBusStreamConfig[T]) {
	if config.Bus == nil {
		writeWSError(w, r, nil, config.Logger, wsError{
			Status:  http.StatusServiceUnavailable,
			Message: "event stream unavailable",
		})
		return
	}

	// Subscribe before upgrading so a client that sees the handshake
	// complete never misses a later event.
	output, cancel := config.Bus.SubscribeFiltered(config.Filter)
	defer cancel()

	conn, err := upgradeWebSocket(w, r, config.AllowedOrigins)
	if err != nil {
		logWSError(config.Logger, r, wsError{
			Status:  http.StatusBadRequest,
			Message: "websocket upgrade failed",
			Err:     err,
		})
		return
	}

	serveWSStream(r, wsStreamConfig[T]{
		Conn:         conn,
		Output:       output,
		BuildPayload: config.BuildPayload,
		Logger:       config.Logger,
	})
}
