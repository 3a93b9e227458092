package console

import (
	"bufio"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Transport is the line-based request/response channel to a terminal emulator
// process. One Send is answered by one Receive: a block of output lines
// terminated by a status token line ("ok" or "error").
type Transport interface {
	// Send writes a single action line to the emulator.
	Send(line string) error

	// Receive reads one response block. The returned output includes every
	// line of the block, the status token line last. A TimeoutError is
	// returned when no complete block arrives within timeout.
	Receive(timeout time.Duration) (status string, output string, err error)

	// Close tears down the channel and the process behind it.
	Close() error
}

// Emulator status tokens terminating a response block.
const (
	statusOK    = "ok"
	statusError = "error"
)

// SubprocessTransport drives an s3270-compatible terminal emulator as a child
// process over its stdin/stdout pipes.
type SubprocessTransport struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	lines chan string
}

// DefaultEmulatorPath is the terminal emulator binary spawned when none is
// configured.
const DefaultEmulatorPath = "s3270"

// NewSubprocessTransport spawns the emulator and wires its pipes. The process
// is kept alive until Close.
func NewSubprocessTransport(binary string, args ...string) (*SubprocessTransport, error) {
	if binary == "" {
		binary = DefaultEmulatorPath
	}

	cmd := exec.Command(binary, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open emulator stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open emulator stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start terminal emulator: %w", err)
	}

	log.Debug().
		Str("binary", binary).
		Int("pid", cmd.Process.Pid).
		Msg("Terminal emulator started")

	t := &SubprocessTransport{
		cmd:   cmd,
		stdin: stdin,
		lines: make(chan string, 64),
	}

	go t.readLoop(stdout)

	return t, nil
}

// readLoop feeds emulator output lines into the channel until EOF.
func (t *SubprocessTransport) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		t.lines <- scanner.Text()
	}
	if err := scanner.Err(); err != nil {
		log.Warn().Err(err).Msg("Emulator output stream failed")
	}
	close(t.lines)
}

// Send writes one action line to the emulator.
func (t *SubprocessTransport) Send(line string) error {
	if _, err := io.WriteString(t.stdin, line+"\n"); err != nil {
		return fmt.Errorf("failed to write to emulator: %w", err)
	}
	return nil
}

// Receive reads output lines until the status token line, or until timeout.
// Partial output collected before a timeout is returned alongside the error.
func (t *SubprocessTransport) Receive(timeout time.Duration) (string, string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var block strings.Builder
	for {
		select {
		case line, open := <-t.lines:
			if !open {
				return "", block.String(), fmt.Errorf("terminal emulator closed its output stream")
			}
			block.WriteString(line)
			block.WriteByte('\n')
			token := strings.TrimSpace(line)
			if token == statusOK || token == statusError {
				return token, block.String(), nil
			}
		case <-timer.C:
			return "", block.String(), &TimeoutError{Action: "receive", Timeout: timeout}
		}
	}
}

// Close shuts the emulator process down. Safe to call once.
func (t *SubprocessTransport) Close() error {
	if err := t.stdin.Close(); err != nil {
		log.Debug().Err(err).Msg("Failed to close emulator stdin")
	}

	// Give the process a moment to exit on its own before killing it.
	done := make(chan error, 1)
	go func() { done <- t.cmd.Wait() }()

	select {
	case err := <-done:
		return err
	case <-time.After(3 * time.Second):
		if err := t.cmd.Process.Kill(); err != nil {
			return fmt.Errorf("failed to kill emulator process: %w", err)
		}
		return <-done
	}
}
