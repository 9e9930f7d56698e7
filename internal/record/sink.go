package record

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// killGrace is how long an interrupted encoder gets before it is killed.
const killGrace = 5 * time.Second

// sink is one encoder process fed through its stdin by a single writer
// goroutine. write must not be called concurrently or after close.
type sink struct {
	name    string
	path    string
	queue   chan []byte
	done    chan error
	cmd     *exec.Cmd
	stderr  bytes.Buffer
	frames  int
	dropped int
}

func newSink(name, path string, depth int) *sink {
	return &sink{
		name:  name,
		path:  path,
		queue: make(chan []byte, depth),
		done:  make(chan error, 1),
	}
}

func (s *sink) started() bool {
	return s.cmd != nil
}

// spawn starts the encoder process and the writer goroutine.
func (s *sink) spawn(ffmpeg string, args []string, logWriter io.Writer) error {
	cmd := exec.Command(ffmpeg, args...)
	if logWriter == nil {
		logWriter = io.Discard
	}
	cmd.Stderr = io.MultiWriter(&s.stderr, logWriter)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("%w: failed to create %s stdin pipe: %v", ErrEncoder, s.name, err)
	}

	slog.Info("Starting encoder", "sink", s.name, "command", strings.Join(cmd.Args, " "))
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: failed to start %s encoder: %v", ErrEncoder, s.name, err)
	}

	s.cmd = cmd
	go s.writeLoop(stdin)
	return nil
}

func (s *sink) writeLoop(stdin io.WriteCloser) {
	var writeErr error
	for b := range s.queue {
		if writeErr != nil {
			continue
		}
		if _, err := stdin.Write(b); err != nil {
			writeErr = fmt.Errorf("write to %s encoder: %w", s.name, err)
			slog.Error("Encoder write failed", "sink", s.name, "error", err)
		}
	}

	stdin.Close()
	waitErr := s.cmd.Wait()
	if waitErr != nil {
		waitErr = fmt.Errorf("%s encoder exited: %w, stderr: %s", s.name, waitErr, strings.TrimSpace(s.stderr.String()))
	}
	s.done <- errors.Join(writeErr, waitErr)
}

// write queues b without blocking. A full queue means the encoder is not
// keeping up, so the buffer is dropped and counted.
func (s *sink) write(b []byte) {
	select {
	case s.queue <- b:
		s.frames++
	default:
		if s.dropped == 0 {
			slog.Warn("Encoder queue full, dropping frames", "sink", s.name, "depth", cap(s.queue))
		}
		s.dropped++
	}
}

// close drains the queue, closes stdin and waits for the encoder to exit.
// When ctx ends first the encoder is interrupted, then killed after
// killGrace. A sink that was never spawned closes without error.
func (s *sink) close(ctx context.Context) error {
	if !s.started() {
		return nil
	}
	close(s.queue)

	select {
	case err := <-s.done:
		if err != nil {
			return fmt.Errorf("%w: %v", ErrEncoder, err)
		}
		slog.Debug("Encoder finished", "sink", s.name, "frames", s.frames, "dropped", s.dropped, "output", s.path)
		return nil
	case <-ctx.Done():
	}

	slog.Warn("Encoder did not finish in time, sending interrupt", "sink", s.name)
	if err := s.cmd.Process.Signal(os.Interrupt); err != nil {
		slog.Debug("Failed to send interrupt to encoder, killing", "sink", s.name, "error", err)
		s.cmd.Process.Kill()
	}

	select {
	case <-s.done:
	case <-time.After(killGrace):
		slog.Warn("Encoder ignored interrupt, force killing", "sink", s.name)
		s.cmd.Process.Kill()
		<-s.done
	}
	return fmt.Errorf("%w: %s encoder did not finish: %v", ErrEncoder, s.name, ctx.Err())
}
