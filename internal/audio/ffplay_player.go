package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// FFPlayPlayer plays encoded clips (MP3 from the synthesizers) by piping them into ffplay.
type FFPlayPlayer struct {
	command string
}

func NewFFPlayPlayer(command string) *FFPlayPlayer {
	if command == "" {
		command = "ffplay"
	}
	return &FFPlayPlayer{command: command}
}

func playArgs() []string {
	return []string{"-nodisp", "-autoexit", "-hide_banner", "-loglevel", "error", "-i", "-"}
}

// Play blocks until the clip finishes. Cancelling ctx stops playback and returns ctx.Err().
func (p *FFPlayPlayer) Play(ctx context.Context, audio []byte) error {
	if len(audio) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	cmd := exec.Command(p.command, playArgs()...)
	cmd.Stdin = bytes.NewReader(audio)

	proc, err := startProcess(cmd)
	if err != nil {
		return err
	}

	select {
	case waitErr := <-proc.waitErr:
		if waitErr != nil {
			var exitErr *exec.ExitError
			if errors.As(waitErr, &exitErr) {
				return proc.withStderr(fmt.Errorf("ffplay failed: %w", waitErr))
			}
			return waitErr
		}
		return nil
	case <-ctx.Done():
		_ = proc.terminate()
		return ctx.Err()
	}
}
