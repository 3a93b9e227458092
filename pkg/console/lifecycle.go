package console

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tessia-project/baselib/internal/metrics"
)

// LoginOptions modify the logon command.
type LoginOptions struct {
	// ByUser logs on with the credentials of another authorized user.
	ByUser string

	// Here reconnects to a disconnected session instead of rejecting the
	// logon.
	Here bool

	// NoIPL suppresses the automatic IPL of the system defined in the guest
	// directory entry.
	NoIPL bool
}

// loginRetryDelay separates logon submissions while a logoff of the same
// user is still pending.
const loginRetryDelay = time.Second

// Connect establishes a session to host. On success the session owns the
// connection until Disconnect, Logoff or Quit; the returned text is the
// formatted content of the initial screen.
func (t *Terminal) Connect(host string, timeout time.Duration) (string, error) {
	if t.connected {
		return "", fmt.Errorf("session to %s already established", t.host)
	}

	output, err := t.proto.Connect(host, timeout)
	if err != nil {
		return "", err
	}

	t.host = host
	t.connected = true
	log.Info().Str("host", host).Msg("Console session established")
	return FormatScreen(output, true), nil
}

// Login connects to host and authenticates user, retrying the logon while a
// forced logoff of the same user is still pending. A recognized or generic
// system message aborts with a RemoteMessageError; deadline expiry during
// the retry loop raises a TimeoutError. After authentication the guest is
// brought to a running state (begin on CP READ, Enter on VM READ) and the
// final formatted screen content is returned.
func (t *Terminal) Login(host, user, password string, opts *LoginOptions, timeout time.Duration) (string, error) {
	if _, err := t.Connect(host, timeout); err != nil {
		return "", err
	}

	logonCmd := buildLogonCommand(user, opts)
	limit := time.Now().Add(timeout)

	submission := logonCmd
	sensitive := false
	passwordSent := false
	var buf string

	for {
		if _, err := t.proto.Clear(0); err != nil {
			return "", err
		}
		if _, err := t.proto.SendText(submission, 0, sensitive); err != nil {
			return "", err
		}
		if _, err := t.proto.Enter(0); err != nil {
			return "", err
		}

		raw, err := t.proto.ReadScreen(nil, 0)
		if err != nil {
			return "", err
		}
		buf = FormatScreen(raw, true)

		code, description, pending, found := findMessage(buf)
		if found {
			if !pending {
				return "", &RemoteMessageError{Code: code, Description: description}
			}
			log.Debug().
				Str("host", host).
				Str("user", user).
				Str("code", code).
				Msg("Logoff pending, retrying logon")
			metrics.LoginRetriesTotal.Inc()
			if !time.Now().Before(limit) {
				return "", &TimeoutError{Action: "login", Timeout: timeout}
			}
			time.Sleep(loginRetryDelay)
			submission = logonCmd
			sensitive = false
			passwordSent = false
			continue
		}

		if !passwordSent {
			submission = password
			sensitive = true
			passwordSent = true
			continue
		}
		break
	}

	// The guest may not be dispatched yet right after logon; the screen
	// read for the password cycle already carries the status.
	switch ClassifyBuffer(buf) {
	case StatusCPRead:
		if err := t.SendCommand(CommandSpec{Command: "begin", UseCP: true}); err != nil {
			return "", err
		}
	case StatusVMRead:
		if _, err := t.proto.Enter(0); err != nil {
			return "", err
		}
	}

	raw, err := t.proto.ReadScreen(nil, 0)
	if err != nil {
		return "", err
	}

	log.Info().Str("host", host).Str("user", user).Msg("Guest login complete")
	return FormatScreen(raw, true), nil
}

// Logoff shuts the guest's session down and releases the console session.
// Requires an established session.
func (t *Terminal) Logoff() error {
	if !t.connected {
		return ErrNotConnected
	}

	if err := t.SendCommand(CommandSpec{Command: "logoff", UseCP: true}); err != nil {
		return err
	}
	if _, err := t.proto.Disconnect(0); err != nil {
		return err
	}

	log.Info().Str("host", t.host).Msg("Guest logged off")
	t.release()
	return nil
}

// Disconnect detaches from the console while leaving the guest running.
// Requires an established session.
func (t *Terminal) Disconnect() error {
	if !t.connected {
		return ErrNotConnected
	}

	if err := t.SendCommand(CommandSpec{Command: "disconnect", UseCP: true}); err != nil {
		return err
	}
	if _, err := t.proto.Disconnect(0); err != nil {
		return err
	}

	log.Info().Str("host", t.host).Msg("Console session detached")
	t.release()
	return nil
}

// Quit tears down the emulator process. The terminal is unusable afterwards.
func (t *Terminal) Quit(timeout time.Duration) error {
	t.release()
	return t.proto.Quit(timeout)
}

func (t *Terminal) release() {
	t.connected = false
	t.host = ""
}

func buildLogonCommand(user string, opts *LoginOptions) string {
	cmd := "logon " + user
	if opts == nil {
		return cmd
	}
	if opts.ByUser != "" {
		cmd += " by " + opts.ByUser
	}
	if opts.Here {
		cmd += " here"
	}
	if opts.NoIPL {
		cmd += " noipl"
	}
	return cmd
}
