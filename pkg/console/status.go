package console

import "strings"

// OperatingStatus is the terminal's operating mode as shown in the fixed
// status area of the screen.
type OperatingStatus int

// Recognized operating statuses. Anything not recognized is reported as
// StatusRunning; the classification is opaque and not decoded further.
const (
	// StatusRunning means the guest is dispatched and the screen accepts
	// further output.
	StatusRunning OperatingStatus = iota

	// StatusMoreOutput means the screen is full and more output is pending;
	// it must be cleared before anything else appears.
	StatusMoreOutput

	// StatusHolding means the screen is full and held; same recovery as
	// StatusMoreOutput.
	StatusHolding

	// StatusVMRead means the guest is halted awaiting a reply; Enter
	// releases it.
	StatusVMRead

	// StatusCPRead means the control program is awaiting input and the guest
	// is not yet dispatched. Only the login lifecycle acts on this.
	StatusCPRead
)

// Status area tokens as they appear on the screen.
const (
	tokenMoreOutput = "MORE..."
	tokenHolding    = "HOLDING"
	tokenVMRead     = "VM READ"
	tokenCPRead     = "CP READ"
)

// The operating-status field occupies a fixed 7-character window ending 14
// characters before the end of the screen dump (emulator framing removed,
// blank lines preserved). These offsets are a compatibility constant of the
// legacy console layout; they are reproduced exactly, not derived.
const (
	statusFieldStartOffset = 21
	statusFieldEndOffset   = 14
)

func (s OperatingStatus) String() string {
	switch s {
	case StatusMoreOutput:
		return tokenMoreOutput
	case StatusHolding:
		return tokenHolding
	case StatusVMRead:
		return tokenVMRead
	case StatusCPRead:
		return tokenCPRead
	default:
		return "RUNNING"
	}
}

// Full reports whether the screen has no room for further output until
// cleared.
func (s OperatingStatus) Full() bool {
	return s == StatusMoreOutput || s == StatusHolding
}

// statusFromToken maps a status area token to its classification.
func statusFromToken(token string) OperatingStatus {
	switch token {
	case tokenMoreOutput:
		return StatusMoreOutput
	case tokenHolding:
		return StatusHolding
	case tokenVMRead:
		return StatusVMRead
	case tokenCPRead:
		return StatusCPRead
	default:
		return StatusRunning
	}
}

// ClassifyRaw determines the operating status of a screen dump by reading
// the fixed status field window. The dump must be positional: framing
// removed but blank lines preserved, i.e. FormatScreen(raw, false).
func ClassifyRaw(raw string) OperatingStatus {
	if len(raw) < statusFieldStartOffset {
		return StatusRunning
	}
	field := raw[len(raw)-statusFieldStartOffset : len(raw)-statusFieldEndOffset]
	return statusFromToken(field)
}

// ClassifyBuffer determines the operating status from an already formatted
// buffer by inspecting its last non-blank line.
func ClassifyBuffer(buf string) OperatingStatus {
	lines := strings.Split(buf, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		for _, token := range []string{tokenMoreOutput, tokenHolding, tokenVMRead, tokenCPRead} {
			if strings.Contains(lines[i], token) {
				return statusFromToken(token)
			}
		}
		return StatusRunning
	}
	return StatusRunning
}
