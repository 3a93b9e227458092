// Package hmc drives guests running as partitions behind the management
// appliance's HTTP+JSON API. Power operations run asynchronously on the
// appliance; the driver submits them and polls the resulting job until it
// completes.
package hmc

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tessia-project/baselib/internal/metrics"
	"github.com/tessia-project/baselib/pkg/hypervisor"
	"github.com/tessia-project/baselib/pkg/hypervisor/params"
)

const defaultOperationTimeout = 10 * time.Minute

// Partition status values reported by the appliance.
const (
	statusActive  = "active"
	statusStopped = "stopped"
)

// Driver implements hypervisor.Driver on top of the appliance API client.
type Driver struct {
	cfg     hypervisor.Config
	client  *Client
	timeout time.Duration

	bootDevice *hypervisor.BootDevice
}

func init() {
	hypervisor.Register(hypervisor.KindHMC, New)
}

// New builds an appliance driver from cfg. The "insecure_tls" parameter
// disables certificate verification, "timeout_seconds" bounds each lifecycle
// operation.
func New(cfg hypervisor.Config) (hypervisor.Driver, error) {
	insecure, _ := cfg.Parameters["insecure_tls"].(bool)
	return newDriver(cfg, NewClient(cfg.Host, insecure)), nil
}

func newDriver(cfg hypervisor.Config, client *Client) *Driver {
	timeout := defaultOperationTimeout
	if secs, ok := cfg.Parameters["timeout_seconds"].(int); ok && secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}
	return &Driver{cfg: cfg, client: client, timeout: timeout}
}

// Login opens the API session.
func (d *Driver) Login(ctx context.Context) error {
	return d.client.Logon(ctx, d.cfg.User, d.cfg.Password)
}

// Logoff closes the API session.
func (d *Driver) Logoff(ctx context.Context) error {
	return d.client.Logoff(ctx)
}

// Start activates the guest's partition. Attempting to start a partition
// that is already active succeeds without submitting an operation.
func (d *Driver) Start(ctx context.Context, guest string, p hypervisor.GuestParameters) error {
	if err := params.Validate("hmc", "start", p); err != nil {
		return err
	}

	return d.observe("start", func() error {
		ctx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()

		partition, err := d.client.FindPartition(ctx, guest)
		if err != nil {
			return err
		}
		if partition.Status == statusActive {
			log.Debug().Str("guest", guest).Msg("Partition already active")
			return nil
		}

		if d.bootDevice != nil {
			if err := d.applyBootDevice(ctx, partition); err != nil {
				return err
			}
		}

		jobURI, err := d.client.StartPartition(ctx, partition)
		if err != nil {
			return err
		}
		return d.client.WaitForJob(ctx, jobURI)
	})
}

// Stop deactivates the guest's partition. A stopped partition is left alone.
func (d *Driver) Stop(ctx context.Context, guest string) error {
	return d.observe("stop", func() error {
		ctx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()

		partition, err := d.client.FindPartition(ctx, guest)
		if err != nil {
			return err
		}
		if partition.Status == statusStopped {
			log.Debug().Str("guest", guest).Msg("Partition already stopped")
			return nil
		}

		jobURI, err := d.client.StopPartition(ctx, partition)
		if err != nil {
			return err
		}
		return d.client.WaitForJob(ctx, jobURI)
	})
}

// Reboot stops the guest's partition and starts it again.
func (d *Driver) Reboot(ctx context.Context, guest string) error {
	return d.observe("reboot", func() error {
		ctx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()

		partition, err := d.client.FindPartition(ctx, guest)
		if err != nil {
			return err
		}

		if partition.Status == statusActive {
			jobURI, err := d.client.StopPartition(ctx, partition)
			if err != nil {
				return err
			}
			if err := d.client.WaitForJob(ctx, jobURI); err != nil {
				return err
			}
		}

		jobURI, err := d.client.StartPartition(ctx, partition)
		if err != nil {
			return err
		}
		return d.client.WaitForJob(ctx, jobURI)
	})
}

// SetBootDevice records the boot volume for the next Start, which writes it
// to the partition before activation.
func (d *Driver) SetBootDevice(ctx context.Context, guest string, device hypervisor.BootDevice) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if device.DeviceNumber == "" {
		return fmt.Errorf("boot device for %s requires a device number", guest)
	}
	d.bootDevice = &device
	return nil
}

func (d *Driver) applyBootDevice(ctx context.Context, partition *Partition) error {
	props := map[string]interface{}{
		"boot-device":                "storage-adapter",
		"boot-storage-device-number": d.bootDevice.DeviceNumber,
	}
	return d.client.UpdateProperties(ctx, partition, props)
}

// observe records metrics around one lifecycle operation.
func (d *Driver) observe(operation string, fn func() error) error {
	start := time.Now()
	err := fn()
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.HypervisorOperationsTotal.WithLabelValues(string(hypervisor.KindHMC), operation, status).Inc()
	metrics.HypervisorOperationDuration.WithLabelValues(string(hypervisor.KindHMC), operation).
		Observe(time.Since(start).Seconds())
	return err
}
