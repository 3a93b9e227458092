// Package kvm drives guests defined as libvirt domains on a Linux
// hypervisor. The control plane is a remote shell: the driver connects over
// SSH and issues virsh commands on the host.
package kvm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tessia-project/baselib/internal/metrics"
	"github.com/tessia-project/baselib/pkg/hypervisor"
	"github.com/tessia-project/baselib/pkg/hypervisor/params"
)

const (
	defaultOperationTimeout = 5 * time.Minute
	dialTimeout             = 30 * time.Second

	// shutdownPollInterval separates two domain state checks while waiting
	// for a guest to power off.
	shutdownPollInterval = 2 * time.Second
)

// Domain states reported by virsh domstate.
const (
	stateRunning = "running"
	stateShutOff = "shut off"
)

// Driver implements hypervisor.Driver over a remote shell session.
type Driver struct {
	cfg     hypervisor.Config
	dial    func() (Runner, error)
	runner  Runner
	timeout time.Duration

	bootSource string
}

func init() {
	hypervisor.Register(hypervisor.KindKVM, New)
}

// New builds a remote shell driver from cfg. The "ssh_port" parameter
// overrides the SSH port, "timeout_seconds" bounds each lifecycle operation.
func New(cfg hypervisor.Config) (hypervisor.Driver, error) {
	port := 0
	if p, ok := cfg.Parameters["ssh_port"].(int); ok {
		port = p
	}
	dial := func() (Runner, error) {
		return dialSSH(cfg.Host, cfg.User, cfg.Password, port, dialTimeout)
	}
	return newDriver(cfg, dial), nil
}

func newDriver(cfg hypervisor.Config, dial func() (Runner, error)) *Driver {
	timeout := defaultOperationTimeout
	if secs, ok := cfg.Parameters["timeout_seconds"].(int); ok && secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}
	return &Driver{cfg: cfg, dial: dial, timeout: timeout}
}

// Login opens the shell connection to the hypervisor host.
func (d *Driver) Login(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.runner != nil {
		return fmt.Errorf("already connected to %s", d.cfg.Host)
	}
	runner, err := d.dial()
	if err != nil {
		return err
	}
	d.runner = runner
	log.Debug().Str("host", d.cfg.Host).Msg("Hypervisor shell connected")
	return nil
}

// Logoff closes the shell connection.
func (d *Driver) Logoff(ctx context.Context) error {
	if d.runner == nil {
		return fmt.Errorf("not connected to %s", d.cfg.Host)
	}
	err := d.runner.Close()
	d.runner = nil
	return err
}

// Start brings the guest's domain up. A netboot parameter section overrides
// the domain's boot configuration with a direct kernel boot before starting.
func (d *Driver) Start(ctx context.Context, guest string, p hypervisor.GuestParameters) error {
	if err := params.Validate("kvm", "start", p); err != nil {
		return err
	}

	return d.observe("start", func() error {
		ctx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()

		state, err := d.domState(ctx, guest)
		if err != nil {
			return err
		}
		if state == stateRunning {
			log.Debug().Str("guest", guest).Msg("Domain already running")
			return nil
		}

		if netboot, ok := p["netboot"].(map[string]interface{}); ok {
			if err := d.netboot(ctx, guest, netboot); err != nil {
				return err
			}
		} else if d.bootSource != "" {
			cmd := fmt.Sprintf("virt-xml %s --edit --boot %s", guest, d.bootSource)
			if _, err := d.runner.Run(ctx, cmd); err != nil {
				return err
			}
		}

		_, err = d.runner.Run(ctx, fmt.Sprintf("virsh start %s", guest))
		return err
	})
}

// Stop signals an orderly shutdown and waits for the domain to power off,
// destroying it if the deadline passes first.
func (d *Driver) Stop(ctx context.Context, guest string) error {
	return d.observe("stop", func() error {
		ctx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()

		state, err := d.domState(ctx, guest)
		if err != nil {
			return err
		}
		if state == stateShutOff {
			log.Debug().Str("guest", guest).Msg("Domain already shut off")
			return nil
		}

		if _, err := d.runner.Run(ctx, fmt.Sprintf("virsh shutdown %s", guest)); err != nil {
			return err
		}

		for {
			state, err := d.domState(ctx, guest)
			if err != nil {
				return err
			}
			if state == stateShutOff {
				return nil
			}
			select {
			case <-ctx.Done():
				log.Warn().Str("guest", guest).Msg("Shutdown deadline passed, destroying domain")
				_, err := d.runner.Run(context.WithoutCancel(ctx), fmt.Sprintf("virsh destroy %s", guest))
				return err
			case <-time.After(shutdownPollInterval):
			}
		}
	})
}

// Reboot restarts the guest's domain.
func (d *Driver) Reboot(ctx context.Context, guest string) error {
	return d.observe("reboot", func() error {
		if d.runner == nil {
			return fmt.Errorf("not connected to %s", d.cfg.Host)
		}
		ctx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()
		_, err := d.runner.Run(ctx, fmt.Sprintf("virsh reboot %s", guest))
		return err
	})
}

// SetBootDevice selects the named boot source for subsequent starts.
func (d *Driver) SetBootDevice(ctx context.Context, guest string, device hypervisor.BootDevice) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if device.Source == "" {
		return fmt.Errorf("boot device for %s requires a source name", guest)
	}
	d.bootSource = device.Source
	return nil
}

// netboot fetches the kernel and initrd onto the hypervisor host and
// rewrites the domain for a direct kernel boot.
func (d *Driver) netboot(ctx context.Context, guest string, p map[string]interface{}) error {
	kernelURI, _ := p["kernel_uri"].(string)
	initrdURI, _ := p["initrd_uri"].(string)
	cmdline, _ := p["cmdline"].(string)

	kernelPath := fmt.Sprintf("/var/lib/libvirt/boot/%s-kernel", guest)
	if _, err := d.runner.Run(ctx, fmt.Sprintf("curl -sSf -o %s %s", kernelPath, kernelURI)); err != nil {
		return fmt.Errorf("failed to fetch kernel: %w", err)
	}

	boot := []string{fmt.Sprintf("kernel=%s", kernelPath)}
	if initrdURI != "" {
		initrdPath := fmt.Sprintf("/var/lib/libvirt/boot/%s-initrd", guest)
		if _, err := d.runner.Run(ctx, fmt.Sprintf("curl -sSf -o %s %s", initrdPath, initrdURI)); err != nil {
			return fmt.Errorf("failed to fetch initrd: %w", err)
		}
		boot = append(boot, fmt.Sprintf("initrd=%s", initrdPath))
	}
	if cmdline != "" {
		boot = append(boot, fmt.Sprintf("cmdline='%s'", cmdline))
	}

	cmd := fmt.Sprintf("virt-xml %s --edit --boot %s", guest, strings.Join(boot, ","))
	_, err := d.runner.Run(ctx, cmd)
	return err
}

func (d *Driver) domState(ctx context.Context, guest string) (string, error) {
	if d.runner == nil {
		return "", fmt.Errorf("not connected to %s", d.cfg.Host)
	}
	output, err := d.runner.Run(ctx, fmt.Sprintf("virsh domstate %s", guest))
	if err != nil {
		return "", fmt.Errorf("failed to query domain %s: %w", guest, err)
	}
	return strings.TrimSpace(output), nil
}

// observe records metrics around one lifecycle operation.
func (d *Driver) observe(operation string, fn func() error) error {
	start := time.Now()
	err := fn()
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.HypervisorOperationsTotal.WithLabelValues(string(hypervisor.KindKVM), operation, status).Inc()
	metrics.HypervisorOperationDuration.WithLabelValues(string(hypervisor.KindKVM), operation).
		Observe(time.Since(start).Seconds())
	return err
}
