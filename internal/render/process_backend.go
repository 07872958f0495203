package render

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"qrbatch/internal/logging"
	"qrbatch/internal/process"
)

const BatchFileName = "batch.json"

// ProcessBackend runs an external generator as
// "<command> <args...> --batch <dir>/batch.json" and treats every stdout
// line as progress. A non-zero exit fails the batch.
type ProcessBackend struct {
	Command  string
	Args     []string
	WorkDir  string
	Registry *process.Registry
	Logger   *logging.Logger
}

func (b *ProcessBackend) Name() string {
	return "process"
}

// batchEntry is one element of the generator's batch file.
type batchEntry struct {
	Data    string       `json:"data"`
	Out     string       `json:"out"`
	Options batchOptions `json:"options"`
}

type batchOptions struct {
	CardStyle
	CommuneName string `json:"communeName"`
}

// WriteBatchFile writes the generator input for batch and returns its path.
func WriteBatchFile(batch Batch) (string, error) {
	entries := make([]batchEntry, 0, len(batch.Tasks))
	for _, task := range batch.Tasks {
		entries = append(entries, batchEntry{
			Data: task.Identifier,
			Out:  task.Target,
			Options: batchOptions{
				CardStyle:   batch.Style,
				CommuneName: batch.ZoneName,
			},
		})
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(batch.Dir, BatchFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (b *ProcessBackend) Render(ctx context.Context, batch Batch, progress func(line string)) error {
	if strings.TrimSpace(b.Command) == "" {
		return errors.New("renderer command is not configured")
	}
	logger := b.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	batchPath, err := WriteBatchFile(batch)
	if err != nil {
		return fmt.Errorf("write batch file: %w", err)
	}

	args := append(append([]string{}, b.Args...), "--batch", batchPath)
	cmd := exec.Command(b.Command, args...)
	cmd.Dir = b.WorkDir
	stdout := newLineWriter(func(line string) {
		if progress != nil {
			progress(line)
		}
	})
	stderr := newLineWriter(func(line string) {
		logger.Warn("renderer stderr", map[string]string{
			"job_id": batch.JobID,
			"line":   line,
		})
	})
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	registry := b.Registry
	if registry == nil {
		registry = process.NewRegistry(logger)
	}
	handle, err := registry.Start(cmd, batch.JobID)
	if err != nil {
		return fmt.Errorf("start renderer: %w", err)
	}
	waitErr := handle.Wait(ctx)
	stdout.Flush()
	stderr.Flush()
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return fmt.Errorf("renderer exited with code %d", exitErr.ExitCode())
		}
		return waitErr
	}
	return nil
}

// lineWriter splits written bytes into lines.
type lineWriter struct {
	mu      sync.Mutex
	pending bytes.Buffer
	emit    func(string)
}

func newLineWriter(emit func(string)) *lineWriter {
	return &lineWriter{emit: emit}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending.Write(p)
	for {
		data := w.pending.Bytes()
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimRight(string(data[:idx]), "\r")
		w.pending.Next(idx + 1)
		if strings.TrimSpace(line) != "" {
			w.emit(line)
		}
	}
	return len(p), nil
}

func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if line := strings.TrimSpace(w.pending.String()); line != "" {
		w.emit(line)
	}
	w.pending.Reset()
}
