// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ffmpeg

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/ManuGH/aacpress/internal/procgroup"
)

// Process is a running ffmpeg child with piped stdio.
// Stdin is nil when the process was started without an input pipe.
//
// The pipes are plain os.Pipe pairs rather than cmd.StdoutPipe so that
// reaping the child never closes the read side before stdout is drained.
type Process struct {
	Stdin  io.WriteCloser
	Stdout io.ReadCloser

	cmd      *exec.Cmd
	ring     *LineRing
	waitCh   chan error
	exited   chan struct{}
	exitErr  error
	grace    time.Duration
	stopOnce sync.Once
	stopErr  error
}

// StartPiped launches ffmpeg with stdout piped and, if withStdin, stdin piped.
func (e *Executor) StartPiped(ctx context.Context, args []string, withStdin bool) (*Process, error) {
	// #nosec G204 -- BinaryPath is trusted from config; args are built by this package
	cmd := exec.CommandContext(ctx, e.BinaryPath, args...)
	procgroup.Set(cmd)
	cmd.Cancel = procgroup.CancelFunc(cmd)

	ring := NewLineRing(20)
	cmd.Stderr = ring

	p := &Process{
		cmd:    cmd,
		ring:   ring,
		waitCh: make(chan error, 1),
		exited: make(chan struct{}),
		grace:  e.KillTimeout,
	}

	var childEnds []*os.File
	closeAll := func(files ...*os.File) {
		for _, f := range files {
			_ = f.Close()
		}
	}

	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to pipe stdout: %w", err)
	}
	cmd.Stdout = outW
	childEnds = append(childEnds, outW)
	p.Stdout = outR

	if withStdin {
		inR, inW, err := os.Pipe()
		if err != nil {
			closeAll(outR, outW)
			return nil, fmt.Errorf("failed to pipe stdin: %w", err)
		}
		cmd.Stdin = inR
		childEnds = append(childEnds, inR)
		p.Stdin = inW
	}

	if err := cmd.Start(); err != nil {
		closeAll(childEnds...)
		closeAll(outR)
		if f, ok := p.Stdin.(*os.File); ok {
			closeAll(f)
		}
		return nil, fmt.Errorf("exec start failed: %w", err)
	}
	// The child holds its own copies now.
	closeAll(childEnds...)

	go func() {
		err := cmd.Wait()
		p.exitErr = err
		p.waitCh <- err
		close(p.exited)
	}()

	e.Logger.Debug().Int("pid", cmd.Process.Pid).Strs("args", args).Msg("ffmpeg started")
	return p, nil
}

// Exited is closed once the child has been reaped.
func (p *Process) Exited() <-chan struct{} {
	return p.exited
}

// ExitErr reports how the child exited. It is nil while the child runs.
func (p *Process) ExitErr() error {
	select {
	case <-p.exited:
		if p.exitErr != nil {
			return fmt.Errorf("ffmpeg: %w (stderr: %s)", p.exitErr, p.ring.String())
		}
		return nil
	default:
		return nil
	}
}

// Diagnostics returns the tail of stderr.
func (p *Process) Diagnostics() []string {
	return p.ring.LastN(20)
}

// Stop closes stdin, terminates the process group (SIGTERM, then SIGKILL
// after the grace period), reaps the child and closes stdout.
// Idempotent; a clean exit returns nil.
func (p *Process) Stop() error {
	p.stopOnce.Do(func() {
		if p.Stdin != nil {
			_ = p.Stdin.Close()
		}
		select {
		case err := <-p.waitCh:
			p.stopErr = err
		default:
			p.stopErr = procgroup.Terminate(p.cmd, p.waitCh, p.grace)
		}
		_ = p.Stdout.Close()
		if p.stopErr != nil {
			p.stopErr = fmt.Errorf("ffmpeg: %w (stderr: %s)", p.stopErr, p.ring.String())
		}
	})
	return p.stopErr
}

// WaitExit waits up to timeout for the child to exit by itself before Stop.
func (p *Process) WaitExit(timeout time.Duration) error {
	select {
	case <-p.exited:
	case <-time.After(timeout):
	}
	return p.Stop()
}

// Input is the stdin pipe, nil when started without one.
func (p *Process) Input() io.WriteCloser {
	return p.Stdin
}

// Output is the stdout pipe.
func (p *Process) Output() io.Reader {
	return p.Stdout
}

// Wait blocks until the child has been reaped and reports its exit status.
func (p *Process) Wait() error {
	<-p.exited
	return p.ExitErr()
}
