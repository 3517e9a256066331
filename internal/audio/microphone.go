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

	"chatdesk/internal/ports"
)

// ErrCaptureExited is returned when the recorder process dies during startup.
var ErrCaptureExited = errors.New("audio recorder exited before capture started")

// Microphone records signed 16-bit PCM from the default input via ffmpeg.
type Microphone struct {
	command   string
	warmup    time.Duration
	stopGrace time.Duration
}

// Option tunes a Microphone.
type Option func(*Microphone)

// WithWarmup sets how long Start waits for an early process exit.
func WithWarmup(d time.Duration) Option {
	return func(m *Microphone) { m.warmup = d }
}

// WithStopGrace sets how long Stop waits after SIGINT before killing.
func WithStopGrace(d time.Duration) Option {
	return func(m *Microphone) { m.stopGrace = d }
}

func NewMicrophone(command string, opts ...Option) *Microphone {
	if command == "" {
		command = "ffmpeg"
	}
	m := &Microphone{command: command, warmup: 250 * time.Millisecond, stopGrace: 1200 * time.Millisecond}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Available reports whether the recorder binary can be found.
func (m *Microphone) Available() bool {
	_, err := exec.LookPath(m.command)
	return err == nil
}

// Command is the recorder binary in use.
func (m *Microphone) Command() string {
	return m.command
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

func (m *Microphone) Start(ctx context.Context, cfg ports.AudioConfig) (ports.AudioSession, error) {
	cmd := exec.CommandContext(ctx, m.command, captureArgs(cfg)...)
	stderr := &tailBuffer{limit: 4096}
	cmd.Stderr = stderr

	// A plain pipe instead of StdoutPipe so Wait does not close the read
	// end before buffered PCM is drained.
	stdout, writer, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("open recorder output: %w", err)
	}
	cmd.Stdout = writer
	if err := cmd.Start(); err != nil {
		_ = stdout.Close()
		_ = writer.Close()
		return nil, fmt.Errorf("start recorder %s: %w", m.command, err)
	}
	_ = writer.Close()

	exited := make(chan error, 1)
	go func() {
		exited <- cmd.Wait()
		close(exited)
	}()

	select {
	case err := <-exited:
		_ = stdout.Close()
		if detail := stderr.String(); detail != "" {
			return nil, fmt.Errorf("%w: %s", ErrCaptureExited, detail)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCaptureExited, err)
		}
		return nil, ErrCaptureExited
	case <-time.After(m.warmup):
	}

	return &micSession{
		stdout:    stdout,
		stderr:    stderr,
		process:   cmd.Process,
		exited:    exited,
		stopGrace: m.stopGrace,
	}, nil
}

type micSession struct {
	stdout    *os.File
	stderr    *tailBuffer
	process   *os.Process
	exited    <-chan error
	stopGrace time.Duration

	stopOnce sync.Once
	stopErr  error
}

func (s *micSession) Read(p []byte) (int, error) {
	n, err := s.stdout.Read(p)
	if err != nil {
		_ = s.stdout.Close()
		if errors.Is(err, os.ErrClosed) {
			err = io.EOF
		}
	}
	return n, err
}

func (s *micSession) Close() error {
	err := s.Stop()
	_ = s.stdout.Close()
	return err
}

// Stop interrupts the recorder, escalating to kill after the grace period.
// Remaining buffered output stays readable until EOF.
func (s *micSession) Stop() error {
	s.stopOnce.Do(func() {
		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}

		var err error
		select {
		case err = <-s.exited:
		case <-time.After(s.stopGrace):
			if s.process != nil {
				_ = s.process.Kill()
			}
			err = <-s.exited
		}
		s.stopErr = ignoreExitStatus(err)

		if s.stopErr != nil {
			if detail := s.stderr.String(); detail != "" {
				s.stopErr = fmt.Errorf("%w: %s", s.stopErr, detail)
			}
		}
	})
	return s.stopErr
}

// ignoreExitStatus treats a non-zero exit as normal; ffmpeg exits 255 on SIGINT.
func ignoreExitStatus(err error) error {
	var exitErr *exec.ExitError
	if err == nil || errors.As(err, &exitErr) {
		return nil
	}
	return err
}

// tailBuffer keeps the last limit bytes written by the recorder's stderr.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	data  []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append(b.data, p...)
	if b.limit > 0 && len(b.data) > b.limit {
		b.data = append([]byte(nil), b.data[len(b.data)-b.limit:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(string(b.data))
}
