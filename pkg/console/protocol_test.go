package console

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okResponder(action string) (string, string, error) {
	return statusOK, "data: something\nU F U\nok\n", nil
}

func TestReadScreenRegions(t *testing.T) {
	tests := []struct {
		name   string
		region *Region
		want   string
	}{
		{"whole screen", nil, "Ascii"},
		{"row col length", &Region{Row: 1, Col: 2, Length: 40}, "Ascii(1,2,40)"},
		{"row col rows cols", &Region{Row: 0, Col: 0, Rows: 24, Cols: 80}, "Ascii(0,0,24,80)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ft := &fakeTransport{handler: okResponder}
			proto := NewProtocol(ft)

			_, err := proto.ReadScreen(tt.region, 0)

			require.NoError(t, err)
			assert.Equal(t, []string{tt.want}, ft.actions)
		})
	}
}

func TestRoundTripStatusError(t *testing.T) {
	ft := &fakeTransport{handler: func(action string) (string, string, error) {
		return statusError, "data: keyboard locked\nerror\n", nil
	}}
	proto := NewProtocol(ft)

	output, err := proto.Clear(0)

	require.Error(t, err)
	assert.True(t, IsStatusError(err))
	assert.Contains(t, output, "keyboard locked")
}

func TestRoundTripTimeout(t *testing.T) {
	ft := &fakeTransport{handler: func(action string) (string, string, error) {
		return "", "", &TimeoutError{Action: "receive", Timeout: time.Second}
	}}
	proto := NewProtocol(ft)

	_, err := proto.ReadScreen(nil, time.Second)

	require.Error(t, err)
	assert.True(t, IsTimeoutError(err))
}

func TestSendTextEscaping(t *testing.T) {
	ft := &fakeTransport{handler: okResponder}
	proto := NewProtocol(ft)

	_, err := proto.SendText(`say "hi" \now`, 0, false)

	require.NoError(t, err)
	assert.Equal(t, []string{`String("say \"hi\" \\now")`}, ft.actions)
}

func TestTransferValidation(t *testing.T) {
	tests := []struct {
		name      string
		direction TransferDirection
		mode      TransferMode
		recfm     RecordFormat
	}{
		{"bad direction", "upload", ModeASCII, RecordFixed},
		{"bad mode", DirectionSend, "utf8", RecordFixed},
		{"bad record format", DirectionSend, ModeASCII, "blocked"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ft := &fakeTransport{handler: okResponder}
			proto := NewProtocol(ft)

			_, err := proto.Transfer("/tmp/kernel.img", "KERNEL IMG A", tt.direction, tt.mode, tt.recfm, nil, 0)

			require.Error(t, err)
			// Validation failures never reach the transport.
			assert.Empty(t, ft.actions)
		})
	}
}

func TestTransferAction(t *testing.T) {
	ft := &fakeTransport{handler: okResponder}
	proto := NewProtocol(ft)

	_, err := proto.Transfer("/tmp/kernel.img", "KERNEL IMG A", DirectionSend, ModeBinary, RecordFixed, nil, 0)

	require.NoError(t, err)
	require.Len(t, ft.actions, 1)
	action := ft.actions[0]
	assert.Contains(t, action, "Transfer(")
	assert.Contains(t, action, "localfile=/tmp/kernel.img")
	assert.Contains(t, action, "hostfile=KERNEL IMG A")
	assert.Contains(t, action, "direction=send")
	assert.Contains(t, action, "mode=binary")
	assert.Contains(t, action, "recfm=fixed")
}

func TestTransferStatusErrorCarriesPartialOutput(t *testing.T) {
	ft := &fakeTransport{handler: func(action string) (string, string, error) {
		return statusError, "data: Transfer aborted after 512 bytes\nerror\n", nil
	}}
	proto := NewProtocol(ft)

	_, err := proto.Transfer("/tmp/a", "A FILE A", DirectionSend, ModeASCII, RecordVariable, nil, 0)

	require.Error(t, err)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Contains(t, statusErr.Output, "Transfer aborted after 512 bytes")
}

func TestConnectUnknownHost(t *testing.T) {
	ft := &fakeTransport{handler: func(action string) (string, string, error) {
		return statusError, "data: Connect to nosuch.example.com failed: Unknown host\nerror\n", nil
	}}
	proto := NewProtocol(ft)

	_, err := proto.Connect("nosuch.example.com", time.Second)

	require.Error(t, err)
	assert.True(t, IsUnknownHostError(err))
}

func TestConnectErrorStatusRaisesImmediately(t *testing.T) {
	ft := &fakeTransport{handler: func(action string) (string, string, error) {
		return statusError, "data: Connection refused\nerror\n", nil
	}}
	proto := NewProtocol(ft)

	_, err := proto.Connect("zvmhost01.example.com", time.Minute)

	require.Error(t, err)
	assert.True(t, IsStatusError(err))
	// A terminal failure is not retried.
	assert.Len(t, ft.actions, 1)
}

func TestConnectDeadline(t *testing.T) {
	ft := &fakeTransport{handler: func(action string) (string, string, error) {
		return "", "", &TimeoutError{Action: "receive", Timeout: time.Second}
	}}
	proto := NewProtocol(ft)

	_, err := proto.Connect("zvmhost01.example.com", time.Millisecond)

	require.Error(t, err)
	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, "connect", timeoutErr.Action)
}

func TestQuitGuardsFurtherUse(t *testing.T) {
	ft := &fakeTransport{handler: okResponder}
	proto := NewProtocol(ft)

	require.NoError(t, proto.Quit(0))
	assert.True(t, ft.closed)

	_, err := proto.ReadScreen(nil, 0)
	assert.ErrorIs(t, err, ErrNotConnected)

	err = proto.Quit(0)
	assert.ErrorIs(t, err, ErrNotConnected)
}
