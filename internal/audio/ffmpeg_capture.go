package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"chatbot/internal/ports"
)

const defaultStartupProbe = 250 * time.Millisecond

// FFMPEGCapture records the microphone as 16-bit little-endian PCM through ffmpeg.
type FFMPEGCapture struct {
	command      string
	startupProbe time.Duration
}

func NewFFMPEGCapture(command string) *FFMPEGCapture {
	if command == "" {
		command = "ffmpeg"
	}
	return &FFMPEGCapture{command: command, startupProbe: defaultStartupProbe}
}

func captureArgs(cfg ports.AudioConfig) []string {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}
	return []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "s16le",
		"-",
	}
}

// Start launches ffmpeg and waits briefly so a missing device fails here rather than on Read.
func (c *FFMPEGCapture) Start(ctx context.Context, cfg ports.AudioConfig) (ports.AudioSession, error) {
	cmd := exec.CommandContext(ctx, c.command, captureArgs(cfg)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}

	proc, err := startProcess(cmd)
	if err != nil {
		return nil, err
	}

	if exited, exitErr := proc.exitedWithin(c.startupProbe); exited {
		if exitErr != nil {
			return nil, fmt.Errorf("ffmpeg exited before capture started: %w: %s", exitErr, strings.TrimSpace(proc.stderr.String()))
		}
		return nil, errors.New("ffmpeg exited before capture started")
	}

	return &ffmpegSession{stdout: stdout, proc: proc}, nil
}

type ffmpegSession struct {
	stdout io.ReadCloser
	proc   *runningProcess

	stopOnce sync.Once
	stopErr  error
}

func (s *ffmpegSession) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *ffmpegSession) Close() error {
	return s.Stop()
}

func (s *ffmpegSession) Stop() error {
	s.stopOnce.Do(func() {
		s.stopErr = s.proc.terminate()
		if closeErr := s.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) && s.stopErr == nil {
			s.stopErr = closeErr
		}
	})
	return s.stopErr
}
