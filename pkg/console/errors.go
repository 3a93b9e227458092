package console

import (
	"errors"
	"fmt"
	"time"
)

// StatusError indicates a terminal action completed but the emulator reported
// a non-ok status. Output carries whatever the emulator returned before the
// failure, which file transfer callers need to diagnose truncated transfers.
type StatusError struct {
	Action string
	Status string
	Output string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %q", e.Action, e.Status)
}

// IsStatusError checks if an error is a StatusError
func IsStatusError(err error) bool {
	var e *StatusError
	return errors.As(err, &e)
}

// TimeoutError indicates a terminal action did not complete within its
// deadline.
type TimeoutError struct {
	Action  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Action, e.Timeout)
}

// IsTimeoutError checks if an error is a TimeoutError
func IsTimeoutError(err error) bool {
	var e *TimeoutError
	return errors.As(err, &e)
}

// UnknownHostError indicates the emulator could not resolve the target
// hostname. Connect raises it immediately instead of retrying.
type UnknownHostError struct {
	Host string
}

func (e *UnknownHostError) Error() string {
	return fmt.Sprintf("hostname %q could not be resolved", e.Host)
}

// IsUnknownHostError checks if an error is an UnknownHostError
func IsUnknownHostError(err error) bool {
	var e *UnknownHostError
	return errors.As(err, &e)
}

// RemoteMessageError indicates the hypervisor surfaced a system message code
// in the screen text (e.g. HCPLGA054E). Code and Description are kept
// separate so login retry logic can special-case known transient codes.
type RemoteMessageError struct {
	Code        string
	Description string
}

func (e *RemoteMessageError) Error() string {
	return fmt.Sprintf("%s %s", e.Code, e.Description)
}

// IsRemoteMessageError checks if an error is a RemoteMessageError
func IsRemoteMessageError(err error) bool {
	var e *RemoteMessageError
	return errors.As(err, &e)
}

// ErrNotConnected is returned when an operation requires an established
// session and there is none.
var ErrNotConnected = errors.New("no active console session")
