// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build unix

package procgroup

import (
	"errors"
	"fmt"
	"os/exec"
	"syscall"
)

// Set starts cmd as the leader of its own process group, so a decoder or
// encoder and anything it forks can be signalled together.
func Set(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// Kill signals the process group led by cmd. A group that is already gone
// yields ErrProcessNotFound; other failures wrap ErrKillFailed. Nil or
// unstarted commands are a no-op.
func Kill(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	pid := cmd.Process.Pid

	pgid, err := syscall.Getpgid(pid)
	if err != nil {
		return groupErr(pid, sig, err)
	}
	if err := syscall.Kill(-pgid, sig); err != nil {
		return groupErr(pid, sig, err)
	}
	return nil
}

func groupErr(pid int, sig syscall.Signal, err error) error {
	if errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("%w: pid %d", ErrProcessNotFound, pid)
	}
	return fmt.Errorf("%w: %s to group of pid %d: %v", ErrKillFailed, sig, pid, err)
}
