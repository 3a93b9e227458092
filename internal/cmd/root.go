// Package cmd implements the baselib command line interface.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tessia-project/baselib/pkg/config"
	"github.com/tessia-project/baselib/pkg/hypervisor"

	// Backend registration.
	_ "github.com/tessia-project/baselib/pkg/hypervisor/hmc"
	_ "github.com/tessia-project/baselib/pkg/hypervisor/kvm"
	_ "github.com/tessia-project/baselib/pkg/hypervisor/zvm"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "baselib",
	Short: "Guest lifecycle control for mainframe hypervisors",
	Long: `A command-line interface for controlling guests across mainframe
control planes: the z/VM 3270 console, the HMC web services API and
KVM hosts reached over SSH.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		cfg.Log.ConfigureZerolog()
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is environment only)")
}

// openDriver builds and logs in the driver for a configured hypervisor
// instance. The returned cleanup logs off.
func openDriver(ctx context.Context, name string) (hypervisor.Driver, func(), error) {
	hvCfg, err := cfg.Hypervisor(name)
	if err != nil {
		return nil, nil, err
	}
	driver, err := hypervisor.New(hvCfg)
	if err != nil {
		return nil, nil, err
	}
	if err := driver.Login(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to log in to %s: %w", name, err)
	}
	cleanup := func() {
		if err := driver.Logoff(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "warning: logoff from %s failed: %v\n", name, err)
		}
	}
	return driver, cleanup, nil
}
