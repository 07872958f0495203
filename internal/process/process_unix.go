//go:build !windows

package process

import (
	"context"
	"errors"
	"os/exec"
	"syscall"
	"time"
)

func configureProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

func GroupID(pid int) int {
	if pid <= 0 {
		return 0
	}
	pgid, err := syscall.Getpgid(pid)
	if err != nil {
		return 0
	}
	return pgid
}

// stopProcess sends SIGTERM to the group, then SIGKILL once grace elapses.
func stopProcess(ctx context.Context, pid, pgid int, grace time.Duration, wait func(context.Context) error) error {
	if pid <= 0 {
		return nil
	}
	if !isProcessAlive(pid) {
		return ErrProcessNotFound
	}
	termErr := signalProcessGroup(pid, pgid, syscall.SIGTERM)
	if errors.Is(termErr, syscall.ESRCH) {
		termErr = nil
	}
	graceCtx, cancel := context.WithTimeout(ctx, grace)
	waitErr := wait(graceCtx)
	cancel()
	if waitErr == nil {
		return termErr
	}
	killErr := signalProcessGroup(pid, pgid, syscall.SIGKILL)
	if errors.Is(killErr, syscall.ESRCH) {
		killErr = nil
	}
	if err := wait(ctx); err != nil {
		return errors.Join(termErr, err, killErr)
	}
	return errors.Join(termErr, killErr)
}

func signalProcessGroup(pid, pgid int, sig syscall.Signal) error {
	target := pid
	if pgid > 0 {
		target = -pgid
	}
	return syscall.Kill(target, sig)
}

func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}
