package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"qrbatch/internal/logging"
)

const (
	defaultSSEHeartbeatInterval = 15 * time.Second
	defaultSSERetryInterval     = 3 * time.Second
)

var (
	errSSENoFlusher     = errors.New("response writer cannot flush")
	errSSEWriterMissing = errors.New("sse writer missing")
)

type sseStreamConfig[T any] struct {
	Logger            *logging.Logger
	Output            <-chan T
	BuildPayload      func(T) (any, bool)
	EventName         string
	HeartbeatInterval time.Duration
	RetryInterval     time.Duration
}

type sseError struct {
	Status  int
	Message string
	Err     error
}

type sseWriter struct {
	out     io.Writer
	flusher http.Flusher
}

func serveSSEStream[T any](w http.ResponseWriter, r *http.Request, config sseStreamConfig[T]) {
	if config.Output == nil {
		writeSSEHTTPError(w, r, config.Logger, sseError{
			Status:  http.StatusServiceUnavailable,
			Message: "event stream unavailable",
		})
		return
	}
	writer, err := startSSEWriter(w)
	if err != nil {
		writeSSEHTTPError(w, r, config.Logger, sseError{
			Status:  http.StatusInternalServerError,
			Message: "event stream unavailable",
			Err:     err,
		})
		return
	}
	runSSEStream(r, writer, config)
}

// runSSEStream forwards Output until the client goes away or the
// channel closes. Heartbeat comments keep idle proxies from timing out.
func runSSEStream[T any](r *http.Request, writer *sseWriter, config sseStreamConfig[T]) {
	retry := config.RetryInterval
	if retry <= 0 {
		retry = defaultSSERetryInterval
	}
	if err := writer.WriteRetry(retry); err != nil {
		return
	}

	heartbeat := config.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultSSEHeartbeatInterval
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	build := config.BuildPayload
	if build == nil {
		build = func(value T) (any, bool) { return value, true }
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := writer.WriteComment("ping"); err != nil {
				return
			}
		case item, ok := <-config.Output:
			if !ok {
				return
			}
			payload, ok := build(item)
			if !ok {
				continue
			}
			if err := writer.WriteEvent(config.EventName, payload); err != nil {
				logSSEError(config.Logger, r, sseError{
					Status:  http.StatusInternalServerError,
					Message: "sse write failed",
					Err:     err,
				})
				return
			}
		}
	}
}

func startSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errSSENoFlusher
	}
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", cacheControlNoStore)
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseWriter{out: w, flusher: flusher}, nil
}

func (s *sseWriter) WriteRetry(retry time.Duration) error {
	if s == nil {
		return errSSEWriterMissing
	}
	if retry <= 0 {
		return nil
	}
	if _, err := io.WriteString(s.out, "retry: "+strconv.FormatInt(retry.Milliseconds(), 10)+"\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseWriter) WriteComment(comment string) error {
	if s == nil {
		return errSSEWriterMissing
	}
	if _, err := io.WriteString(s.out, ": "+strings.TrimSpace(comment)+"\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseWriter) WriteEvent(name string, payload any) error {
	if s == nil {
		return errSSEWriterMissing
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if name != "" {
		if _, err := io.WriteString(s.out, "event: "+name+"\n"); err != nil {
			return err
		}
	}
	if err := writeSSEData(s.out, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// writeSSEData emits one data line per payload line, then the blank
// line that terminates the event.
func writeSSEData(w io.Writer, data []byte) error {
	if len(data) == 0 {
		_, err := io.WriteString(w, "data:\n\n")
		return err
	}
	var buf bytes.Buffer
	for _, line := range bytes.Split(data, []byte("\n")) {
		buf.WriteString("data: ")
		buf.Write(line)
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	_, err := w.Write(buf.Bytes())
	return err
}

func writeSSEHTTPError(w http.ResponseWriter, r *http.Request, logger *logging.Logger, sseErr sseError) {
	if sseErr.Status == 0 {
		sseErr.Status = http.StatusInternalServerError
	}
	sseErr.Message = strings.TrimSpace(sseErr.Message)
	if sseErr.Message == "" {
		sseErr.Message = http.StatusText(sseErr.Status)
	}
	logSSEError(logger, r, sseErr)
	http.Error(w, sseErr.Message, sseErr.Status)
}

func logSSEError(logger *logging.Logger, r *http.Request, sseErr sseError) {
	if logger == nil || r == nil {
		return
	}
	fields := requestFields(r)
	fields["status"] = strconv.Itoa(sseErr.Status)
	fields["message"] = sseErr.Message
	if sseErr.Err != nil {
		fields["error"] = sseErr.Err.Error()
	}
	if sseErr.Status >= http.StatusInternalServerError {
		logger.Error("sse error", fields)
	} else {
		logger.Warn("sse error", fields)
	}
}

func requestFields(r *http.Request) map[string]string {
	fields := map[string]string{"path": r.URL.Path}
	if r.RemoteAddr != "" {
		fields["remote_addr"] = r.RemoteAddr
	}
	if agent := strings.TrimSpace(r.UserAgent()); agent != "" {
		fields["user_agent"] = agent
	}
	return fields
}
