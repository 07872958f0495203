//go:build !windows

package process

import (
	"context"
	"errors"
	"os/exec"
	"syscall"
	"testing"
	"time"
)

func TestRegistryStopAllStopsChildren(t *testing.T) {
	registry := NewRegistry(nil)
	handle, err := registry.Start(exec.Command("sleep", "10"), "job-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if running := registry.Running(); len(running) != 1 || running[0].JobID != "job-1" {
		t.Fatalf("unexpected running set %+v", running)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := registry.StopAll(ctx); err != nil {
		t.Fatalf("stop all: %v", err)
	}

	select {
	case <-handle.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("child was not reaped")
	}
	if err := syscall.Kill(handle.PID, 0); err == nil || errors.Is(err, syscall.EPERM) {
		t.Fatal("expected process to exit")
	}
	if _, err := registry.Start(exec.Command("true"), "job-2"); !errors.Is(err, ErrRegistryClosed) {
		t.Fatalf("expected ErrRegistryClosed, got %v", err)
	}
}

func TestHandleWaitStopsOnContextEnd(t *testing.T) {
	registry := NewRegistry(nil)
	registry.SetStopGrace(200 * time.Millisecond)
	handle, err := registry.Start(exec.Command("sleep", "10"), "job-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := handle.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	select {
	case <-handle.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("child was not stopped")
	}
	if len(registry.Running()) != 0 {
		t.Fatalf("expected no running children, got %+v", registry.Running())
	}
}

func TestHandleWaitReturnsExitStatus(t *testing.T) {
	registry := NewRegistry(nil)
	handle, err := registry.Start(exec.Command("sh", "-c", "exit 3"), "job-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	err = handle.Wait(context.Background())
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitCode() != 3 {
		t.Fatalf("expected exit status 3, got %v", err)
	}
}
