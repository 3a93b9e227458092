// Package zvm drives guests of the legacy hypervisor through its interactive
// 3270 console. Every operation is expressed as console commands followed by
// a pattern wait; there are no structured responses on this control plane.
package zvm

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tessia-project/baselib/internal/metrics"
	"github.com/tessia-project/baselib/pkg/console"
	"github.com/tessia-project/baselib/pkg/hypervisor"
	"github.com/tessia-project/baselib/pkg/hypervisor/params"
)

const (
	// defaultOperationTimeout bounds one lifecycle operation when the
	// configuration does not override it.
	defaultOperationTimeout = 5 * time.Minute

	// readerDevice is the virtual reader the network boot images are punched
	// to before IPL.
	readerDevice = "00c"

	// defaultBootDevice is used when neither configuration nor a prior
	// SetBootDevice selected one.
	defaultBootDevice = "cms"
)

// Command outcome patterns, tested in order. The error pattern comes first
// so a failure message in the same buffer takes precedence over the ready
// prompt that follows it.
var (
	errorPattern = regexp.MustCompile(`HCP[A-Z]{2,3}[0-9]{3}[AEW][^\n]*`)
	readyPattern = regexp.MustCompile(`Ready(\([0-9]+\))?;`)
)

// Driver controls one guest of the legacy hypervisor. The guest identity is
// the logged-on userid of the console session.
type Driver struct {
	cfg        hypervisor.Config
	term       *console.Terminal
	timeout    time.Duration
	bootDevice string
}

func init() {
	hypervisor.Register(hypervisor.KindZVM, New)
}

// New builds a driver with its own terminal emulator subprocess. The
// emulator binary can be overridden with the "emulator" parameter.
func New(cfg hypervisor.Config) (hypervisor.Driver, error) {
	binary, _ := cfg.Parameters["emulator"].(string)
	transport, err := console.NewSubprocessTransport(binary)
	if err != nil {
		return nil, fmt.Errorf("failed to start terminal emulator: %w", err)
	}
	return newDriver(cfg, console.NewTerminal(transport)), nil
}

// newDriver wires a driver over an existing terminal session.
func newDriver(cfg hypervisor.Config, term *console.Terminal) *Driver {
	timeout := defaultOperationTimeout
	if seconds, ok := cfg.Parameters["timeout_seconds"].(int); ok && seconds > 0 {
		timeout = time.Duration(seconds) * time.Second
	}
	bootDevice := defaultBootDevice
	if dev, ok := cfg.Parameters["boot_device"].(string); ok && dev != "" {
		bootDevice = dev
	}
	return &Driver{cfg: cfg, term: term, timeout: timeout, bootDevice: bootDevice}
}

// Login connects to the hypervisor console and authenticates the guest
// userid. Logon modifiers come from the "login" parameter section.
func (d *Driver) Login(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var opts *console.LoginOptions
	if raw, ok := d.cfg.Parameters["login"].(map[string]interface{}); ok {
		if err := params.Validate("zvm", "login", raw); err != nil {
			return err
		}
		opts = &console.LoginOptions{}
		opts.ByUser, _ = raw["by_user"].(string)
		opts.Here, _ = raw["here"].(bool)
		opts.NoIPL, _ = raw["noipl"].(bool)
	}

	return d.observe("login", func() error {
		_, err := d.term.Login(d.cfg.Host, d.cfg.User, d.cfg.Password, opts, d.timeout)
		return err
	})
}

// Logoff shuts the console session down and terminates the emulator.
func (d *Driver) Logoff(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.observe("logoff", func() error {
		if err := d.term.Logoff(); err != nil {
			return err
		}
		return d.term.Quit(0)
	})
}

// Start brings the guest's operating system up, either by IPL of a boot
// device or by network boot when the parameters carry a netboot section.
func (d *Driver) Start(ctx context.Context, guest string, p hypervisor.GuestParameters) error {
	if err := d.checkGuest(ctx, guest); err != nil {
		return err
	}
	if err := params.Validate("zvm", "start", p); err != nil {
		return err
	}

	return d.observe("start", func() error {
		if netboot, ok := p["netboot"].(map[string]interface{}); ok {
			return d.netboot(netboot)
		}

		device := d.bootDevice
		if dev, ok := p["boot_device"].(string); ok && dev != "" {
			device = dev
		}
		return d.cpCommand(fmt.Sprintf("ipl %s", device))
	})
}

// Stop shuts the guest's operating system down and logs the guest off.
func (d *Driver) Stop(ctx context.Context, guest string) error {
	if err := d.checkGuest(ctx, guest); err != nil {
		return err
	}

	return d.observe("stop", func() error {
		// The shutdown signal gives the guest OS a graceful window; the
		// match on the logoff message is best effort since the console
		// session may drop with the guest.
		spec := console.CommandSpec{Command: "signal shutdown within 300", UseCP: true}
		if err := d.term.SendCommand(spec); err != nil {
			return err
		}
		output, match, err := d.term.WaitFor(
			[]*regexp.Regexp{regexp.MustCompile(`(?i)logoff`)}, d.timeout)
		if err != nil {
			return err
		}
		if match == nil {
			log.Warn().
				Str("guest", d.cfg.User).
				Str("output", output).
				Msg("No logoff message seen before deadline, forcing logoff")
			return d.term.Logoff()
		}
		return d.term.Disconnect()
	})
}

// Reboot restarts the guest's operating system by resetting it and IPLing
// the boot device again.
func (d *Driver) Reboot(ctx context.Context, guest string) error {
	if err := d.checkGuest(ctx, guest); err != nil {
		return err
	}

	return d.observe("reboot", func() error {
		if err := d.cpSubmit("system clear"); err != nil {
			return err
		}
		return d.cpCommand(fmt.Sprintf("ipl %s", d.bootDevice))
	})
}

// SetBootDevice selects the IPL device used by subsequent Start and Reboot
// calls.
func (d *Driver) SetBootDevice(ctx context.Context, guest string, device hypervisor.BootDevice) error {
	if err := d.checkGuest(ctx, guest); err != nil {
		return err
	}
	if device.DeviceNumber == "" {
		return fmt.Errorf("zvm boot device requires a channel device number")
	}
	d.bootDevice = device.DeviceNumber
	log.Debug().Str("guest", guest).Str("device", device.DeviceNumber).Msg("Boot device set")
	return nil
}

// netboot transfers the boot images to the guest's virtual reader and IPLs
// from it.
func (d *Driver) netboot(section map[string]interface{}) error {
	kernel, _ := section["kernel_uri"].(string)
	initrd, _ := section["initrd_uri"].(string)

	steps := []string{
		"purge rdr all",
		"spool punch * rdr",
	}
	for _, cmd := range steps {
		if err := d.cpSubmit(cmd); err != nil {
			return err
		}
	}

	if _, err := d.term.Transfer(kernel, "KERNEL IMG A", console.DirectionSend,
		console.ModeBinary, console.RecordFixed, map[string]string{"lrecl": "80"}); err != nil {
		return fmt.Errorf("failed to transfer kernel image: %w", err)
	}
	if err := d.command("punch kernel img a (noh", false); err != nil {
		return err
	}

	if initrd != "" {
		if _, err := d.term.Transfer(initrd, "INITRD IMG A", console.DirectionSend,
			console.ModeBinary, console.RecordFixed, map[string]string{"lrecl": "80"}); err != nil {
			return fmt.Errorf("failed to transfer initrd image: %w", err)
		}
		if err := d.command("punch initrd img a (noh", false); err != nil {
			return err
		}
	}

	return d.cpCommand(fmt.Sprintf("ipl %s clear", readerDevice))
}

// command issues one guest-layer command and waits for its outcome.
func (d *Driver) command(cmd string, useCP bool) error {
	output, match, err := d.term.Run(
		console.CommandSpec{Command: cmd, UseCP: useCP},
		[]*regexp.Regexp{errorPattern, readyPattern},
		d.timeout,
	)
	if err != nil {
		return err
	}
	if match == nil {
		return fmt.Errorf("command %q did not complete before deadline, output: %s", cmd, output)
	}
	if match.PatternIndex == 0 {
		return fmt.Errorf("command %q failed: %s", cmd, match.Text)
	}
	return nil
}

// cpCommand issues one control-program command and waits for its outcome.
func (d *Driver) cpCommand(cmd string) error {
	return d.command(cmd, true)
}

// cpSubmit issues a control-program command and drains the output without
// waiting for a specific outcome; used for commands with no reliable
// completion message.
func (d *Driver) cpSubmit(cmd string) error {
	_, _, err := d.term.Run(console.CommandSpec{Command: cmd, UseCP: true}, nil, 0)
	return err
}

func (d *Driver) checkGuest(ctx context.Context, guest string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if guest != d.cfg.User {
		return fmt.Errorf("guest %q is not the logged-on userid %q", guest, d.cfg.User)
	}
	return nil
}

// observe records metrics around one lifecycle operation.
func (d *Driver) observe(operation string, fn func() error) error {
	start := time.Now()
	err := fn()
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.HypervisorOperationsTotal.WithLabelValues(string(hypervisor.KindZVM), operation, status).Inc()
	metrics.HypervisorOperationDuration.WithLabelValues(string(hypervisor.KindZVM), operation).
		Observe(time.Since(start).Seconds())
	return err
}
