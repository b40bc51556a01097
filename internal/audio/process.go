package audio

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

const stopGrace = 1200 * time.Millisecond

// runningProcess is an external audio tool started with exec.
type runningProcess struct {
	cmd     *exec.Cmd
	stderr  *bytes.Buffer
	waitErr chan error
}

func startProcess(cmd *exec.Cmd) (*runningProcess, error) {
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = stopGrace
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", cmd.Path, err)
	}

	p := &runningProcess{cmd: cmd, stderr: &stderr, waitErr: make(chan error, 1)}
	go func() {
		p.waitErr <- cmd.Wait()
		close(p.waitErr)
	}()
	return p, nil
}

// exitedWithin reports whether the process ended during d, and how.
func (p *runningProcess) exitedWithin(d time.Duration) (bool, error) {
	select {
	case err := <-p.waitErr:
		return true, err
	case <-time.After(d):
		return false, nil
	}
}

// terminate interrupts the process, escalating to kill after stopGrace.
// A non-zero exit caused by the signal is not an error.
func (p *runningProcess) terminate() error {
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Signal(os.Interrupt)
	}

	var err error
	select {
	case waitErr, ok := <-p.waitErr:
		if ok {
			err = ignoreExitStatus(waitErr)
		}
	case <-time.After(stopGrace):
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
		if waitErr, ok := <-p.waitErr; ok {
			err = ignoreExitStatus(waitErr)
		}
	}
	return p.withStderr(err)
}

func (p *runningProcess) withStderr(err error) error {
	if err == nil || p.stderr.Len() == 0 {
		return err
	}
	return fmt.Errorf("%w: %s", err, strings.TrimSpace(p.stderr.String()))
}

func ignoreExitStatus(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}
