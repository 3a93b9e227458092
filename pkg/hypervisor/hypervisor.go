// Package hypervisor defines the guest lifecycle contract shared by all
// control plane backends and the registry selecting one at runtime.
package hypervisor

import (
	"context"
	"fmt"
	"sync"
)

// Kind identifies a control plane backend.
type Kind string

// Supported backends.
const (
	// KindZVM drives the legacy hypervisor through its 3270 console.
	KindZVM Kind = "zvm"

	// KindHMC drives the management appliance over its HTTP+JSON API.
	KindHMC Kind = "hmc"

	// KindKVM drives a Linux hypervisor through a remote shell.
	KindKVM Kind = "kvm"
)

// Config carries the connection settings for one hypervisor instance.
type Config struct {
	Kind     Kind   `mapstructure:"kind"`
	Host     string `mapstructure:"host"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	// Parameters carries backend-specific settings (emulator binary, TLS
	// verification, SSH port and similar).
	Parameters map[string]interface{} `mapstructure:"parameters"`
}

// BootDevice selects where a guest boots from.
type BootDevice struct {
	// DeviceNumber is the channel device number of the boot volume
	// (zvm and hmc backends).
	DeviceNumber string

	// Source is the named boot source for backends without channel device
	// numbers (e.g. "hd", "network", "cdrom" on kvm).
	Source string
}

// GuestParameters are the free-form per-operation parameters supplied by the
// caller, validated against the registered schema before dispatch.
type GuestParameters map[string]interface{}

// Driver is the capability set every backend implements. All operations are
// blocking; cancellation and deadlines arrive through the context.
type Driver interface {
	// Login establishes the control plane session.
	Login(ctx context.Context) error

	// Logoff ends the control plane session. Idempotence is not guaranteed;
	// acting on a closed session fails fast.
	Logoff(ctx context.Context) error

	// Start brings a guest up.
	Start(ctx context.Context, guest string, params GuestParameters) error

	// Stop brings a guest down.
	Stop(ctx context.Context, guest string) error

	// Reboot restarts a guest.
	Reboot(ctx context.Context, guest string) error

	// SetBootDevice selects the guest's boot device for subsequent starts.
	SetBootDevice(ctx context.Context, guest string, device BootDevice) error
}

// Factory builds a driver from its configuration.
type Factory func(cfg Config) (Driver, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[Kind]Factory)
)

// Register makes a backend available under its kind tag. Backends call this
// from their init; registering the same kind twice panics.
func Register(kind Kind, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[kind]; dup {
		panic(fmt.Sprintf("hypervisor: backend %q registered twice", kind))
	}
	registry[kind] = factory
}

// New builds the driver for cfg.Kind.
func New(cfg Config) (Driver, error) {
	registryMu.RLock()
	factory, ok := registry[cfg.Kind]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported hypervisor kind: %s", cfg.Kind)
	}
	return factory(cfg)
}

// Kinds lists the registered backend tags.
func Kinds() []Kind {
	registryMu.RLock()
	defer registryMu.RUnlock()
	kinds := make([]Kind, 0, len(registry))
	for kind := range registry {
		kinds = append(kinds, kind)
	}
	return kinds
}
