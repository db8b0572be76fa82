// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package procgroup spawns ffmpeg children in their own process group and
// tears the whole group down on release.
package procgroup

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

var (
	// ErrProcessNotFound means the group had already exited when signalled.
	ErrProcessNotFound = errors.New("process not found")
	// ErrKillFailed wraps any other signal delivery failure.
	ErrKillFailed = errors.New("kill operation failed")
)

// CancelFunc returns an exec.Cmd.Cancel hook that SIGKILLs the whole group.
// A group that already exited reports os.ErrProcessDone, which exec treats
// as a clean cancel.
func CancelFunc(cmd *exec.Cmd) func() error {
	return func() error {
		if err := Kill(cmd, syscall.SIGKILL); err != nil {
			if errors.Is(err, ErrProcessNotFound) {
				return os.ErrProcessDone
			}
			return err
		}
		return nil
	}
}
