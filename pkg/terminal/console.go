// Package terminal bridges the local terminal to a remote guest console
// attached over websocket. Input is read in raw mode so the exit sequence
// works regardless of line discipline; typed characters are collected into
// command lines and sent on Enter.
package terminal

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gorilla/websocket"
	"golang.org/x/term"
)

const (
	// exitSequence1 is the first byte of the exit sequence (Ctrl+]),
	// following the telnet convention.
	exitSequence1 = 0x1D

	// exitSequence2 completes the exit sequence after Ctrl+].
	exitSequence2 = 'q'

	backspace = 0x7F
)

// Conn is the websocket surface the bridge uses, satisfied by
// *websocket.Conn.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Console bridges stdin/stdout to a remote console websocket. It manages
// terminal raw mode, line collection with local echo, exit sequence
// detection and cleanup.
type Console struct {
	conn   Conn
	stdin  *os.File
	stdout *os.File

	oldState *term.State

	mu          sync.Mutex
	done        chan struct{}
	exitPressed bool
	lineBuf     []byte
}

// NewConsole builds a bridge over an attached websocket connection. The
// bridge uses os.Stdin and os.Stdout; override the fields before Start for
// custom streams.
func NewConsole(conn Conn) *Console {
	return &Console{
		conn:   conn,
		stdin:  os.Stdin,
		stdout: os.Stdout,
		done:   make(chan struct{}),
	}
}

// Start runs the bridge until the user exits (Ctrl+] then 'q'), an
// interrupt arrives, the context is cancelled or the connection drops. The
// terminal state is restored before returning.
func (c *Console) Start(ctx context.Context) error {
	fmt.Println("Connected to guest console. Press Ctrl+] then 'q' to exit.")
	fmt.Println("----------------------------------------")

	if err := c.setRawMode(); err != nil {
		return err
	}
	defer c.restore()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 2)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := c.socketToStdout(); err != nil && err != io.EOF {
			errCh <- fmt.Errorf("console read error: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := c.stdinToSocket(); err != nil && err != io.EOF {
			errCh <- fmt.Errorf("input read error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		c.Close()
		wg.Wait()
		return ctx.Err()
	case <-sigCh:
		fmt.Println("\nInterrupted. Closing console...")
		c.Close()
		wg.Wait()
		return nil
	case err := <-errCh:
		c.Close()
		wg.Wait()
		return err
	case <-c.done:
		wg.Wait()
		return nil
	}
}

// socketToStdout forwards console output to the local terminal, expanding
// bare newlines for raw mode.
func (c *Console) socketToStdout() error {
	for {
		select {
		case <-c.done:
			return io.EOF
		default:
		}

		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return io.EOF
			}
			return err
		}
		if len(data) == 0 {
			continue
		}
		if _, err := c.stdout.Write(append(expandNewlines(data), '\r', '\n')); err != nil {
			return err
		}
	}
}

// stdinToSocket reads raw keystrokes, maintains the pending command line
// with local echo, and sends completed lines to the console.
func (c *Console) stdinToSocket() error {
	buf := make([]byte, 1024)

	for {
		select {
		case <-c.done:
			return io.EOF
		default:
		}

		n, err := c.stdin.Read(buf)
		if err != nil {
			return err
		}
		if n == 0 {
			continue
		}

		if c.checkExitSequence(buf[:n]) {
			fmt.Println("\r\n----------------------------------------")
			fmt.Println("Console closed.")
			c.signalDone()
			return io.EOF
		}

		lines := c.collect(buf[:n])
		for _, line := range lines {
			if err := c.conn.WriteMessage(websocket.TextMessage, line); err != nil {
				return fmt.Errorf("failed to send command: %w", err)
			}
		}
	}
}

// collect appends keystrokes to the pending line, echoing them, and returns
// the lines completed by Enter.
func (c *Console) collect(data []byte) [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	var lines [][]byte
	for _, b := range data {
		switch b {
		case '\r', '\n':
			c.stdout.Write([]byte("\r\n"))
			lines = append(lines, append([]byte(nil), c.lineBuf...))
			c.lineBuf = c.lineBuf[:0]
		case backspace:
			if len(c.lineBuf) > 0 {
				c.lineBuf = c.lineBuf[:len(c.lineBuf)-1]
				c.stdout.Write([]byte("\b \b"))
			}
		case exitSequence1:
			// Swallowed; pending exit sequence state is tracked separately.
		default:
			c.lineBuf = append(c.lineBuf, b)
			c.stdout.Write([]byte{b})
		}
	}
	return lines
}

// checkExitSequence tracks Ctrl+] across reads and reports when the user
// completes it with 'q'.
func (c *Console) checkExitSequence(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, b := range data {
		if c.exitPressed {
			if b == exitSequence2 {
				return true
			}
			c.exitPressed = false
		} else if b == exitSequence1 {
			c.exitPressed = true
		}
	}
	return false
}

func (c *Console) setRawMode() error {
	if !term.IsTerminal(int(c.stdin.Fd())) {
		return fmt.Errorf("stdin is not a terminal")
	}
	state, err := term.MakeRaw(int(c.stdin.Fd()))
	if err != nil {
		return fmt.Errorf("failed to set raw mode: %w", err)
	}
	c.oldState = state
	return nil
}

func (c *Console) restore() {
	if c.oldState != nil {
		_ = term.Restore(int(c.stdin.Fd()), c.oldState)
	}
}

func (c *Console) signalDone() {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

// Close ends the session and closes the websocket. Safe to call more than
// once.
func (c *Console) Close() error {
	c.signalDone()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		return c.conn.Close()
	}
	return nil
}

// expandNewlines rewrites bare LF as CRLF so multi-line console output
// renders correctly on a raw terminal.
func expandNewlines(data []byte) []byte {
	normalized := bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
	return bytes.ReplaceAll(normalized, []byte("\n"), []byte("\r\n"))
}
