package console

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tessia-project/baselib/internal/metrics"
)

// Region selects a screen area for ReadScreen. A nil Region reads the whole
// screen. With Length set the read is row/col/length, otherwise row/col/
// rows/cols.
type Region struct {
	Row    int
	Col    int
	Rows   int
	Cols   int
	Length int
}

// TransferDirection is the direction of a file transfer.
type TransferDirection string

// TransferMode is the data conversion mode of a file transfer.
type TransferMode string

// RecordFormat is the host record format of a file transfer.
type RecordFormat string

// Accepted file transfer attribute values.
const (
	DirectionSend    TransferDirection = "send"
	DirectionReceive TransferDirection = "receive"

	ModeASCII  TransferMode = "ascii"
	ModeBinary TransferMode = "binary"

	RecordFixed    RecordFormat = "fixed"
	RecordVariable RecordFormat = "variable"
)

// connectCeiling bounds one transport-level connect round-trip. The remote
// accept path can be slow and must not be truncated before its output is
// drainable, so this ceiling is independent of the caller's deadline; the
// caller's deadline is enforced by the retry loop around it.
const connectCeiling = 60 * time.Second

// connectRetryDelay separates consecutive transport-level connect attempts.
const connectRetryDelay = time.Second

// unknownHostMarker is the emulator's hostname resolution failure text.
const unknownHostMarker = "Unknown host"

// redactedText replaces sensitive content in diagnostic logs.
const redactedText = "*suppressed*"

// Protocol translates high-level terminal actions into single transport
// round-trips, normalizing each result into (status, output) and enforcing a
// per-action timeout. It performs no retries except inside Connect; retry
// policy for everything else belongs to the session driver above it.
type Protocol struct {
	transport  Transport
	timeout    time.Duration
	terminated bool
}

// DefaultActionTimeout bounds a terminal action when the caller supplies no
// explicit deadline.
const DefaultActionTimeout = 30 * time.Second

// NewProtocol wraps a transport. The protocol owns the transport until Quit.
func NewProtocol(transport Transport) *Protocol {
	return &Protocol{
		transport: transport,
		timeout:   DefaultActionTimeout,
	}
}

// roundTrip performs one action round-trip and normalizes the result.
// logLine is what appears in diagnostics; it differs from action when the
// action carries sensitive content.
func (p *Protocol) roundTrip(name, action, logLine string, timeout time.Duration) (string, error) {
	if p.terminated {
		return "", ErrNotConnected
	}
	if timeout <= 0 {
		timeout = p.timeout
	}

	start := time.Now()
	log.Debug().Str("action", logLine).Msg("Issuing terminal action")

	if err := p.transport.Send(action); err != nil {
		metrics.ConsoleActionsTotal.WithLabelValues(name, "send_error").Inc()
		return "", fmt.Errorf("%s failed: %w", name, err)
	}

	status, output, err := p.transport.Receive(timeout)
	metrics.ConsoleActionDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		if IsTimeoutError(err) {
			metrics.ConsoleActionsTotal.WithLabelValues(name, "timeout").Inc()
			return output, &TimeoutError{Action: name, Timeout: timeout}
		}
		metrics.ConsoleActionsTotal.WithLabelValues(name, "transport_error").Inc()
		return output, fmt.Errorf("%s failed: %w", name, err)
	}

	if status != statusOK {
		metrics.ConsoleActionsTotal.WithLabelValues(name, "status_error").Inc()
		return output, &StatusError{Action: name, Status: status, Output: output}
	}

	metrics.ConsoleActionsTotal.WithLabelValues(name, "ok").Inc()
	return output, nil
}

// ReadScreen reads the whole screen, or the given region of it.
func (p *Protocol) ReadScreen(region *Region, timeout time.Duration) (string, error) {
	action := "Ascii"
	switch {
	case region == nil:
	case region.Length > 0:
		action = fmt.Sprintf("Ascii(%d,%d,%d)", region.Row, region.Col, region.Length)
	default:
		action = fmt.Sprintf("Ascii(%d,%d,%d,%d)", region.Row, region.Col, region.Rows, region.Cols)
	}
	return p.roundTrip("read screen", action, action, timeout)
}

// Clear clears the screen.
func (p *Protocol) Clear(timeout time.Duration) (string, error) {
	return p.roundTrip("clear screen", "Clear", "Clear", timeout)
}

// Enter presses the Enter key.
func (p *Protocol) Enter(timeout time.Duration) (string, error) {
	return p.roundTrip("press enter", "Enter", "Enter", timeout)
}

// Connect establishes the emulator's connection to host. The transport-level
// connect is retried until ok, an explicit error status, an unresolvable
// hostname, or the caller's deadline.
func (p *Protocol) Connect(host string, timeout time.Duration) (string, error) {
	if p.terminated {
		return "", ErrNotConnected
	}
	if timeout <= 0 {
		timeout = p.timeout
	}

	action := fmt.Sprintf("Connect(%s)", host)
	limit := time.Now().Add(timeout)

	var output string
	for {
		log.Debug().Str("host", host).Msg("Connecting to console")
		if err := p.transport.Send(action); err != nil {
			return "", fmt.Errorf("connect failed: %w", err)
		}

		var status string
		var err error
		status, output, err = p.transport.Receive(connectCeiling)
		if err != nil && !IsTimeoutError(err) {
			return output, fmt.Errorf("connect failed: %w", err)
		}
		if err == nil {
			if strings.Contains(output, unknownHostMarker) {
				return output, &UnknownHostError{Host: host}
			}
			if status == statusOK {
				return output, nil
			}
			if status == statusError {
				return output, &StatusError{Action: "connect", Status: status, Output: output}
			}
		}

		if !time.Now().Before(limit) {
			return output, &TimeoutError{Action: "connect", Timeout: timeout}
		}
		time.Sleep(connectRetryDelay)
	}
}

// Disconnect drops the emulator's connection to the host.
func (p *Protocol) Disconnect(timeout time.Duration) (string, error) {
	return p.roundTrip("disconnect", "Disconnect", "Disconnect", timeout)
}

// SendText types text at the current cursor position. With sensitive set the
// content is suppressed from diagnostics.
func (p *Protocol) SendText(text string, timeout time.Duration, sensitive bool) (string, error) {
	escaped := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(text)
	action := fmt.Sprintf(`String("%s")`, escaped)
	logLine := action
	if sensitive {
		logLine = fmt.Sprintf("String(%s)", redactedText)
	}
	return p.roundTrip("send text", action, logLine, timeout)
}

// Execute runs a shell command on the emulator side.
func (p *Protocol) Execute(cmd string, timeout time.Duration) (string, error) {
	action := fmt.Sprintf("Execute(%s)", cmd)
	return p.roundTrip("execute", action, action, timeout)
}

// Query reads an emulator attribute, or the default set when attr is empty.
func (p *Protocol) Query(attr string, timeout time.Duration) (string, error) {
	action := "Query"
	if attr != "" {
		action = fmt.Sprintf("Query(%s)", attr)
	}
	return p.roundTrip("query", action, action, timeout)
}

// Snap takes or manipulates a snapshot of the screen buffer.
func (p *Protocol) Snap(args string, timeout time.Duration) (string, error) {
	action := "Snap"
	if args != "" {
		action = fmt.Sprintf("Snap(%s)", args)
	}
	return p.roundTrip("snapshot", action, action, timeout)
}

// Transfer moves a file between the local side and the host. Attribute values
// are validated before any transport traffic. On a non-ok status the returned
// StatusError carries the partial output collected, which the caller needs to
// report truncated transfers.
func (p *Protocol) Transfer(localPath, remotePath string, direction TransferDirection,
	mode TransferMode, recfm RecordFormat, extraOptions map[string]string,
	timeout time.Duration) (string, error) {

	switch direction {
	case DirectionSend, DirectionReceive:
	default:
		return "", fmt.Errorf("invalid transfer direction %q", direction)
	}
	switch mode {
	case ModeASCII, ModeBinary:
	default:
		return "", fmt.Errorf("invalid transfer mode %q", mode)
	}
	switch recfm {
	case RecordFixed, RecordVariable:
	default:
		return "", fmt.Errorf("invalid record format %q", recfm)
	}

	opts := []string{
		fmt.Sprintf("localfile=%s", localPath),
		fmt.Sprintf("hostfile=%s", remotePath),
		fmt.Sprintf("direction=%s", direction),
		fmt.Sprintf("mode=%s", mode),
		fmt.Sprintf("recfm=%s", recfm),
	}
	for key, value := range extraOptions {
		opts = append(opts, fmt.Sprintf("%s=%s", key, value))
	}

	action := fmt.Sprintf("Transfer(%s)", strings.Join(opts, ","))
	return p.roundTrip("transfer", action, action, timeout)
}

// Quit sends the quit action and tears the transport down. The protocol
// instance must not be used afterwards; all further actions fail fast.
func (p *Protocol) Quit(timeout time.Duration) error {
	if p.terminated {
		return ErrNotConnected
	}
	p.terminated = true

	log.Debug().Msg("Terminating terminal emulator")
	if err := p.transport.Send("Quit"); err != nil {
		log.Debug().Err(err).Msg("Failed to send quit action")
	}
	return p.transport.Close()
}
