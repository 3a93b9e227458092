package console

import (
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tessia-project/baselib/internal/metrics"
)

// PollQuantum is the sleep between screen samples while waiting for output.
// The console exposes no event channel, so waiting is a full-screen poll with
// this floor to bound CPU usage.
const PollQuantum = 200 * time.Millisecond

// Match describes which caller-supplied pattern matched the accumulated
// output. Callers use PatternIndex to distinguish success prompts from error
// prompts when both are supplied as candidates.
type Match struct {
	Text         string
	PatternIndex int
	Groups       []string
}

// CommandSpec is one command to be typed at the console. UseCP directs the
// command to the control-program layer instead of the guest's own command
// layer. Sensitive suppresses the command text from diagnostics.
type CommandSpec struct {
	Command   string
	UseCP     bool
	Sensitive bool
}

// cpPrefix routes a typed command to the control-program layer while a guest
// operating system is dispatched.
const cpPrefix = "#cp "

// Terminal drives one interactive console session: it issues commands
// through the command protocol and infers all state transitions by polling
// the screen's fixed status area. A Terminal owns its protocol and transport
// exclusively and must not be driven by more than one concurrent caller;
// the underlying exchange is strictly request/response and interleaving
// would corrupt screen state.
type Terminal struct {
	proto     *Protocol
	host      string
	connected bool
}

// NewTerminal builds a terminal session over the given transport. The
// session is unusable until Connect or Login succeeds.
func NewTerminal(transport Transport) *Terminal {
	return &Terminal{proto: NewProtocol(transport)}
}

// Host returns the target host of the current session, or empty when
// disconnected.
func (t *Terminal) Host() string {
	return t.host
}

// Connected reports whether a session is established.
func (t *Terminal) Connected() bool {
	return t.connected
}

// SendCommand clears the screen, types the command and submits it with
// Enter. It does not wait for output; pair it with WaitFor or Drain.
func (t *Terminal) SendCommand(spec CommandSpec) error {
	if !t.connected {
		return ErrNotConnected
	}

	cmd := spec.Command
	if spec.UseCP {
		cmd = cpPrefix + cmd
	}

	if _, err := t.proto.Clear(0); err != nil {
		return err
	}
	if _, err := t.proto.SendText(cmd, 0, spec.Sensitive); err != nil {
		return err
	}
	if _, err := t.proto.Enter(0); err != nil {
		return err
	}
	return nil
}

// Run issues a command and collects its output. With patterns supplied it
// waits until one matches or the deadline elapses (nil match on deadline);
// without patterns it drains all buffered output instead.
func (t *Terminal) Run(spec CommandSpec, patterns []*regexp.Regexp, timeout time.Duration) (string, *Match, error) {
	if err := t.SendCommand(spec); err != nil {
		return "", nil, err
	}
	if len(patterns) == 0 {
		output, err := t.Drain()
		return output, nil, err
	}
	return t.WaitFor(patterns, timeout)
}

// WaitFor samples the screen until one of the patterns matches the
// accumulated output or the deadline elapses. Full-screen and halted states
// are recovered locally (clear resp. Enter) and never surfaced as errors; a
// pattern match always pre-empts a pending recovery so callers waiting for a
// prompt are not delayed by an extra clear/enter cycle.
//
// Deadline expiry is not an error in this mode: the caller-visible signal is
// the nil match. Errors are reserved for protocol and transport failures.
func (t *Terminal) WaitFor(patterns []*regexp.Regexp, timeout time.Duration) (string, *Match, error) {
	if !t.connected {
		return "", nil, ErrNotConnected
	}

	var accum strings.Builder
	var leftover string
	var matched *Match

	limit := time.Now().Add(timeout)
	for time.Now().Before(limit) {
		raw, err := t.proto.ReadScreen(nil, 0)
		if err != nil {
			return accum.String(), nil, err
		}
		// Status bytes are positional, so classification happens on the
		// blank-preserving screen text, before formatting-for-match.
		status := ClassifyRaw(FormatScreen(raw, false))
		buf := FormatScreen(raw, true)
		leftover = buf

		// Patterns see the same chunk-joined form the caller receives, so a
		// match can never span the seam between two screens.
		candidate := buf
		if accum.Len() > 0 {
			candidate = accum.String() + "\n" + buf
		}
		matched = matchPatterns(candidate, patterns)
		if matched != nil {
			break
		}

		switch {
		case status.Full():
			// The screen must be cleared before more output can arrive. The
			// consumed buffer is folded into the accumulation exactly once,
			// with its status line trimmed.
			appendChunk(&accum, trimStatusLine(buf))
			leftover = ""
			metrics.ConsoleRecoveriesTotal.WithLabelValues("clear").Inc()
			if _, err := t.proto.Clear(0); err != nil {
				return accum.String(), nil, err
			}
		case status == StatusVMRead:
			// Guest halted awaiting a reply; Enter releases it.
			appendChunk(&accum, buf)
			leftover = ""
			metrics.ConsoleRecoveriesTotal.WithLabelValues("enter").Inc()
			if _, err := t.proto.Enter(0); err != nil {
				return accum.String(), nil, err
			}
		default:
			time.Sleep(PollQuantum)
		}
	}

	if leftover != "" {
		appendChunk(&accum, leftover)
	}
	if matched == nil {
		log.Debug().
			Str("host", t.host).
			Dur("timeout", timeout).
			Msg("No pattern matched before deadline")
	}
	return accum.String(), matched, nil
}

// Drain consumes all currently buffered screen output without a target
// pattern, stopping once the screen is no longer full. No deadline applies;
// the loop ends on the first read whose status is neither more-output nor
// holding, matching legacy behavior.
func (t *Terminal) Drain() (string, error) {
	if !t.connected {
		return "", ErrNotConnected
	}

	var accum strings.Builder
	for {
		raw, err := t.proto.ReadScreen(nil, 0)
		if err != nil {
			return accum.String(), err
		}
		status := ClassifyRaw(FormatScreen(raw, false))
		appendChunk(&accum, FormatScreen(raw, true))

		if _, err := t.proto.Clear(0); err != nil {
			return accum.String(), err
		}
		if status.Full() {
			metrics.ConsoleRecoveriesTotal.WithLabelValues("clear").Inc()
			continue
		}
		if status == StatusVMRead {
			metrics.ConsoleRecoveriesTotal.WithLabelValues("enter").Inc()
			if _, err := t.proto.Enter(0); err != nil {
				return accum.String(), err
			}
		}
		return accum.String(), nil
	}
}

// Status reads the screen once and classifies the operating status from its
// fixed status field.
func (t *Terminal) Status() (OperatingStatus, error) {
	if !t.connected {
		return StatusRunning, ErrNotConnected
	}
	raw, err := t.proto.ReadScreen(nil, 0)
	if err != nil {
		return StatusRunning, err
	}
	return ClassifyRaw(FormatScreen(raw, false)), nil
}

// Transfer moves a file between the local side and the guest over the
// console connection. See Protocol.Transfer for the attribute contract.
func (t *Terminal) Transfer(localPath, remotePath string, direction TransferDirection,
	mode TransferMode, recfm RecordFormat, extraOptions map[string]string) (string, error) {
	if !t.connected {
		return "", ErrNotConnected
	}
	return t.proto.Transfer(localPath, remotePath, direction, mode, recfm, extraOptions, 0)
}

// matchPatterns tests text against each pattern in caller-given order; the
// first that matches wins.
func matchPatterns(text string, patterns []*regexp.Regexp) *Match {
	for i, pattern := range patterns {
		if groups := pattern.FindStringSubmatch(text); groups != nil {
			return &Match{Text: groups[0], PatternIndex: i, Groups: groups[1:]}
		}
	}
	return nil
}

// appendChunk folds one screen buffer into the accumulation, preserving
// screen order.
func appendChunk(accum *strings.Builder, chunk string) {
	if chunk == "" {
		return
	}
	if accum.Len() > 0 {
		accum.WriteString("\n")
	}
	accum.WriteString(chunk)
}

// trimStatusLine drops the trailing full-screen indicator line from a
// formatted buffer before it is accumulated.
func trimStatusLine(buf string) string {
	lines := strings.Split(buf, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) == "" {
			continue
		}
		if strings.Contains(lines[i], tokenMoreOutput) || strings.Contains(lines[i], tokenHolding) {
			lines = append(lines[:i], lines[i+1:]...)
		}
		break
	}
	return strings.Join(lines, "\n")
}
