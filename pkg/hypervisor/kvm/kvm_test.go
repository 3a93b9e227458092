package kvm

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessia-project/baselib/pkg/hypervisor"
)

// fakeRunner records every command and answers from a prefix-keyed script.
// "virsh domstate" answers pop from the states queue so a test can walk a
// guest through a shutdown.
type fakeRunner struct {
	commands []string
	outputs  map[string]string
	states   []string
	failing  map[string]error
	closed   bool
}

func (r *fakeRunner) Run(_ context.Context, command string) (string, error) {
	r.commands = append(r.commands, command)
	for prefix, err := range r.failing {
		if strings.HasPrefix(command, prefix) {
			return "", err
		}
	}
	if strings.HasPrefix(command, "virsh domstate") && len(r.states) > 0 {
		state := r.states[0]
		if len(r.states) > 1 {
			r.states = r.states[1:]
		}
		return state, nil
	}
	for prefix, output := range r.outputs {
		if strings.HasPrefix(command, prefix) {
			return output, nil
		}
	}
	return "", nil
}

func (r *fakeRunner) Close() error {
	r.closed = true
	return nil
}

func testDriver(t *testing.T, runner *fakeRunner) *Driver {
	t.Helper()
	cfg := hypervisor.Config{
		Kind: hypervisor.KindKVM,
		Host: "kvmhost.example.com",
		User: "root",
	}
	driver := newDriver(cfg, func() (Runner, error) { return runner, nil })
	require.NoError(t, driver.Login(context.Background()))
	return driver
}

func commandsWithPrefix(runner *fakeRunner, prefix string) []string {
	var matched []string
	for _, cmd := range runner.commands {
		if strings.HasPrefix(cmd, prefix) {
			matched = append(matched, cmd)
		}
	}
	return matched
}

func TestStartRunsDomain(t *testing.T) {
	runner := &fakeRunner{states: []string{"shut off"}}
	driver := testDriver(t, runner)

	err := driver.Start(context.Background(), "guest1", hypervisor.GuestParameters{})
	require.NoError(t, err)

	assert.Contains(t, runner.commands, "virsh start guest1")
}

func TestStartSkipsRunningDomain(t *testing.T) {
	runner := &fakeRunner{states: []string{"running"}}
	driver := testDriver(t, runner)

	err := driver.Start(context.Background(), "guest1", hypervisor.GuestParameters{})
	require.NoError(t, err)

	assert.NotContains(t, runner.commands, "virsh start guest1")
}

func TestStartRejectsInvalidParameters(t *testing.T) {
	runner := &fakeRunner{states: []string{"shut off"}}
	driver := testDriver(t, runner)

	err := driver.Start(context.Background(), "guest1", hypervisor.GuestParameters{
		"memory_mib": 16,
	})
	require.Error(t, err)
	assert.Empty(t, runner.commands, "invalid parameters must not reach the host")
}

func TestStartNetboot(t *testing.T) {
	runner := &fakeRunner{states: []string{"shut off"}}
	driver := testDriver(t, runner)

	err := driver.Start(context.Background(), "guest1", hypervisor.GuestParameters{
		"netboot": map[string]interface{}{
			"kernel_uri": "http://dist.example.com/kernel",
			"initrd_uri": "http://dist.example.com/initrd",
			"cmdline":    "root=/dev/vda1 ro",
		},
	})
	require.NoError(t, err)

	fetches := commandsWithPrefix(runner, "curl")
	require.Len(t, fetches, 2)
	assert.Contains(t, fetches[0], "http://dist.example.com/kernel")
	assert.Contains(t, fetches[1], "http://dist.example.com/initrd")

	edits := commandsWithPrefix(runner, "virt-xml")
	require.Len(t, edits, 1)
	assert.Contains(t, edits[0], "kernel=/var/lib/libvirt/boot/guest1-kernel")
	assert.Contains(t, edits[0], "initrd=/var/lib/libvirt/boot/guest1-initrd")
	assert.Contains(t, edits[0], "cmdline='root=/dev/vda1 ro'")

	assert.Contains(t, runner.commands, "virsh start guest1")
}

func TestStartAppliesBootSource(t *testing.T) {
	runner := &fakeRunner{states: []string{"shut off"}}
	driver := testDriver(t, runner)

	err := driver.SetBootDevice(context.Background(), "guest1", hypervisor.BootDevice{Source: "network"})
	require.NoError(t, err)

	err = driver.Start(context.Background(), "guest1", hypervisor.GuestParameters{})
	require.NoError(t, err)

	assert.Contains(t, runner.commands, "virt-xml guest1 --edit --boot network")
}

func TestSetBootDeviceRequiresSource(t *testing.T) {
	runner := &fakeRunner{}
	driver := testDriver(t, runner)

	err := driver.SetBootDevice(context.Background(), "guest1", hypervisor.BootDevice{DeviceNumber: "1a00"})
	require.Error(t, err)
}

func TestStopWaitsForShutdown(t *testing.T) {
	runner := &fakeRunner{states: []string{"running", "running", "shut off"}}
	driver := testDriver(t, runner)

	err := driver.Stop(context.Background(), "guest1")
	require.NoError(t, err)

	assert.Contains(t, runner.commands, "virsh shutdown guest1")
	assert.NotContains(t, runner.commands, "virsh destroy guest1")
}

func TestStopSkipsShutOffDomain(t *testing.T) {
	runner := &fakeRunner{states: []string{"shut off"}}
	driver := testDriver(t, runner)

	err := driver.Stop(context.Background(), "guest1")
	require.NoError(t, err)

	assert.NotContains(t, runner.commands, "virsh shutdown guest1")
}

func TestStopDestroysStuckDomain(t *testing.T) {
	runner := &fakeRunner{states: []string{"running"}}
	cfg := hypervisor.Config{
		Kind:       hypervisor.KindKVM,
		Host:       "kvmhost.example.com",
		User:       "root",
		Parameters: map[string]interface{}{"timeout_seconds": 1},
	}
	driver := newDriver(cfg, func() (Runner, error) { return runner, nil })
	require.NoError(t, driver.Login(context.Background()))

	err := driver.Stop(context.Background(), "guest1")
	require.NoError(t, err)

	assert.Contains(t, runner.commands, "virsh destroy guest1")
}

func TestRebootRunsDomain(t *testing.T) {
	runner := &fakeRunner{}
	driver := testDriver(t, runner)

	require.NoError(t, driver.Reboot(context.Background(), "guest1"))
	assert.Contains(t, runner.commands, "virsh reboot guest1")
}

func TestOperationsRequireSession(t *testing.T) {
	cfg := hypervisor.Config{Kind: hypervisor.KindKVM, Host: "kvmhost.example.com"}
	driver := newDriver(cfg, func() (Runner, error) { return &fakeRunner{}, nil })

	require.Error(t, driver.Stop(context.Background(), "guest1"))
	require.Error(t, driver.Reboot(context.Background(), "guest1"))
	require.Error(t, driver.Logoff(context.Background()))
}

func TestLogoffClosesConnection(t *testing.T) {
	runner := &fakeRunner{}
	driver := testDriver(t, runner)

	require.NoError(t, driver.Logoff(context.Background()))
	assert.True(t, runner.closed)

	require.Error(t, driver.Logoff(context.Background()))
}

func TestLoginTwiceFails(t *testing.T) {
	runner := &fakeRunner{}
	driver := testDriver(t, runner)

	err := driver.Login(context.Background())
	require.Error(t, err)
}

func TestCancelledContext(t *testing.T) {
	runner := &fakeRunner{states: []string{"shut off"}}
	driver := testDriver(t, runner)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := driver.SetBootDevice(ctx, "guest1", hypervisor.BootDevice{Source: "hd"})
	require.ErrorIs(t, err, context.Canceled)
}
