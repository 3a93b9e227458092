package zvm

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessia-project/baselib/pkg/console"
	"github.com/tessia-project/baselib/pkg/hypervisor"
)

// fakeTransport scripts the console conversation: screen reads pop from the
// screens queue (the last entry repeats), every other action is acknowledged.
type fakeTransport struct {
	actions []string
	screens []string
	reads   int
	closed  bool
}

func (f *fakeTransport) Send(line string) error {
	f.actions = append(f.actions, line)
	return nil
}

func (f *fakeTransport) Receive(timeout time.Duration) (string, string, error) {
	if len(f.actions) > 0 && strings.HasPrefix(f.actions[len(f.actions)-1], "Ascii") {
		i := f.reads
		if i >= len(f.screens) {
			i = len(f.screens) - 1
		}
		f.reads++
		return "ok", f.screens[i], nil
	}
	return "ok", "ok\n", nil
}

func (f *fakeTransport) Close() error {
	f.closed = true
	return nil
}

func (f *fakeTransport) hasAction(substr string) bool {
	for _, a := range f.actions {
		if strings.Contains(a, substr) {
			return true
		}
	}
	return false
}

// screen builds an emulator response block whose last row places token in
// the fixed status window.
func screen(token string, lines ...string) string {
	var b strings.Builder
	for _, line := range lines {
		b.WriteString("data: " + line + "\n")
	}
	b.WriteString("data:                                              " + token + " ZVMHOST001   \n")
	b.WriteString("U F U C(ZVMHOST001) I 2 24 80 0 0 0x0 -\n")
	b.WriteString("ok\n")
	return b.String()
}

func testDriver(t *testing.T, ft *fakeTransport, parameters map[string]interface{}) *Driver {
	t.Helper()
	term := console.NewTerminal(ft)
	_, err := term.Connect("zvmhost01.example.com", time.Second)
	require.NoError(t, err)

	return newDriver(hypervisor.Config{
		Kind:       hypervisor.KindZVM,
		Host:       "zvmhost01.example.com",
		User:       "lnxguest1",
		Password:   "secret",
		Parameters: parameters,
	}, term)
}

func TestStartIPLsBootDevice(t *testing.T) {
	ft := &fakeTransport{screens: []string{screen("RUNNING", "Ready;")}}
	d := testDriver(t, ft, nil)

	err := d.Start(context.Background(), "lnxguest1", hypervisor.GuestParameters{
		"boot_device": "1a00",
	})

	require.NoError(t, err)
	assert.True(t, ft.hasAction(`String("#cp ipl 1a00")`))
}

func TestStartRejectsInvalidParameters(t *testing.T) {
	ft := &fakeTransport{screens: []string{screen("RUNNING", "Ready;")}}
	d := testDriver(t, ft, nil)
	before := len(ft.actions)

	err := d.Start(context.Background(), "lnxguest1", hypervisor.GuestParameters{
		"cpus": 0,
	})

	require.Error(t, err)
	// Validation failures never reach the console.
	assert.Len(t, ft.actions, before)
}

func TestStartGuestMismatch(t *testing.T) {
	ft := &fakeTransport{screens: []string{screen("RUNNING", "Ready;")}}
	d := testDriver(t, ft, nil)

	err := d.Start(context.Background(), "otherguest", nil)

	assert.Error(t, err)
}

func TestStartReportsCommandFailure(t *testing.T) {
	ft := &fakeTransport{screens: []string{
		screen("RUNNING", "HCPGIR450W CP entered; disabled wait PSW"),
	}}
	d := testDriver(t, ft, nil)

	err := d.Start(context.Background(), "lnxguest1", nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "HCPGIR450W")
}

func TestSetBootDeviceUsedByReboot(t *testing.T) {
	ft := &fakeTransport{screens: []string{screen("RUNNING", "Ready;")}}
	d := testDriver(t, ft, nil)

	require.NoError(t, d.SetBootDevice(context.Background(), "lnxguest1",
		hypervisor.BootDevice{DeviceNumber: "1b00"}))
	require.NoError(t, d.Reboot(context.Background(), "lnxguest1"))

	assert.True(t, ft.hasAction(`String("#cp system clear")`))
	assert.True(t, ft.hasAction(`String("#cp ipl 1b00")`))
}

func TestSetBootDeviceRequiresDeviceNumber(t *testing.T) {
	ft := &fakeTransport{screens: []string{screen("RUNNING", "Ready;")}}
	d := testDriver(t, ft, nil)

	err := d.SetBootDevice(context.Background(), "lnxguest1",
		hypervisor.BootDevice{Source: "network"})

	assert.Error(t, err)
}

func TestStartNetboot(t *testing.T) {
	ft := &fakeTransport{screens: []string{screen("RUNNING", "Ready;")}}
	d := testDriver(t, ft, nil)

	err := d.Start(context.Background(), "lnxguest1", hypervisor.GuestParameters{
		"netboot": map[string]interface{}{
			"kernel_uri": "/var/lib/images/kernel.img",
			"initrd_uri": "/var/lib/images/initrd.img",
		},
	})

	require.NoError(t, err)
	assert.True(t, ft.hasAction("localfile=/var/lib/images/kernel.img"))
	assert.True(t, ft.hasAction("localfile=/var/lib/images/initrd.img"))
	assert.True(t, ft.hasAction(`String("punch kernel img a (noh")`))
	assert.True(t, ft.hasAction(`String("#cp ipl 00c clear")`))
}

func TestStopSignalsShutdown(t *testing.T) {
	ft := &fakeTransport{screens: []string{
		screen("RUNNING", "USER LNXGUEST1 LOGOFF AS REQUESTED"),
	}}
	d := testDriver(t, ft, nil)

	err := d.Stop(context.Background(), "lnxguest1")

	require.NoError(t, err)
	assert.True(t, ft.hasAction(`String("#cp signal shutdown within 300")`))
	assert.True(t, ft.hasAction("Disconnect"))
}

func TestCancelledContext(t *testing.T) {
	ft := &fakeTransport{screens: []string{screen("RUNNING", "Ready;")}}
	d := testDriver(t, ft, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, d.Start(ctx, "lnxguest1", nil))
	assert.Error(t, d.Stop(ctx, "lnxguest1"))
}
