package console

import (
	"strings"
	"time"
)

// fakeTransport is a scripted request/response transport. The handler is
// invoked with the last sent action line and supplies the response block.
type fakeTransport struct {
	actions []string
	handler func(action string) (status, output string, err error)
	closed  bool
}

func (f *fakeTransport) Send(line string) error {
	f.actions = append(f.actions, line)
	return nil
}

func (f *fakeTransport) Receive(timeout time.Duration) (string, string, error) {
	action := ""
	if len(f.actions) > 0 {
		action = f.actions[len(f.actions)-1]
	}
	return f.handler(action)
}

func (f *fakeTransport) Close() error {
	f.closed = true
	return nil
}

// countActions counts sent action lines beginning with prefix.
func (f *fakeTransport) countActions(prefix string) int {
	n := 0
	for _, a := range f.actions {
		if strings.HasPrefix(a, prefix) {
			n++
		}
	}
	return n
}

// rawScreen builds a full emulator response block whose screen content ends
// with a status row placing token in the compatibility window: 7 characters
// ending 14 characters before the end of the de-framed dump.
func rawScreen(token string, lines ...string) string {
	var b strings.Builder
	for _, line := range lines {
		b.WriteString("data: " + line + "\n")
	}
	b.WriteString("data:                                              " + token + " ZVMHOST001   \n")
	b.WriteString("U F U C(ZVMHOST001) I 2 24 80 0 0 0x0 -\n")
	b.WriteString("ok\n")
	return b.String()
}

// connectedTerminal returns a terminal with an established session over the
// fake transport.
func connectedTerminal(ft *fakeTransport) *Terminal {
	term := NewTerminal(ft)
	term.host = "zvmhost01.example.com"
	term.connected = true
	return term
}
