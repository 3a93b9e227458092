package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tessia-project/baselib/pkg/hypervisor"
)

var (
	startCPUs      int
	startMemoryMiB int
	startBootDev   string
)

var guestCmd = &cobra.Command{
	Use:   "guest",
	Short: "Guest lifecycle commands",
	Long:  "Commands for starting, stopping and rebooting guests",
}

var guestStartCmd = &cobra.Command{
	Use:   "start <hypervisor> <guest>",
	Short: "Start a guest",
	Long:  "Bring the specified guest up on its hypervisor",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, guest := args[0], args[1]

		driver, cleanup, err := openDriver(cmd.Context(), name)
		if err != nil {
			return err
		}
		defer cleanup()

		params := hypervisor.GuestParameters{}
		if startCPUs > 0 {
			params["cpus"] = startCPUs
		}
		if startMemoryMiB > 0 {
			params["memory_mib"] = startMemoryMiB
		}
		if startBootDev != "" {
			params["boot_device"] = startBootDev
		}

		fmt.Printf("Starting guest %s on %s...\n", guest, name)
		if err := driver.Start(cmd.Context(), guest, params); err != nil {
			return fmt.Errorf("failed to start guest: %w", err)
		}
		fmt.Printf("Guest %s started successfully\n", guest)
		return nil
	},
}

var guestStopCmd = &cobra.Command{
	Use:   "stop <hypervisor> <guest>",
	Short: "Stop a guest",
	Long:  "Bring the specified guest down on its hypervisor",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, guest := args[0], args[1]

		driver, cleanup, err := openDriver(cmd.Context(), name)
		if err != nil {
			return err
		}
		defer cleanup()

		fmt.Printf("Stopping guest %s on %s...\n", guest, name)
		if err := driver.Stop(cmd.Context(), guest); err != nil {
			return fmt.Errorf("failed to stop guest: %w", err)
		}
		fmt.Printf("Guest %s stopped successfully\n", guest)
		return nil
	},
}

var guestRebootCmd = &cobra.Command{
	Use:   "reboot <hypervisor> <guest>",
	Short: "Reboot a guest",
	Long:  "Restart the specified guest on its hypervisor",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, guest := args[0], args[1]

		driver, cleanup, err := openDriver(cmd.Context(), name)
		if err != nil {
			return err
		}
		defer cleanup()

		fmt.Printf("Rebooting guest %s on %s...\n", guest, name)
		if err := driver.Reboot(cmd.Context(), guest); err != nil {
			return fmt.Errorf("failed to reboot guest: %w", err)
		}
		fmt.Printf("Guest %s rebooted successfully\n", guest)
		return nil
	},
}

var guestBootDevCmd = &cobra.Command{
	Use:   "bootdev <hypervisor> <guest>",
	Short: "Select the guest boot device",
	Long:  "Select the device or source the guest boots from on subsequent starts",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, guest := args[0], args[1]
		device, _ := cmd.Flags().GetString("device")
		source, _ := cmd.Flags().GetString("source")
		if device == "" && source == "" {
			return fmt.Errorf("one of --device or --source is required")
		}

		driver, cleanup, err := openDriver(cmd.Context(), name)
		if err != nil {
			return err
		}
		defer cleanup()

		bootDev := hypervisor.BootDevice{DeviceNumber: device, Source: source}
		if err := driver.SetBootDevice(cmd.Context(), guest, bootDev); err != nil {
			return fmt.Errorf("failed to set boot device: %w", err)
		}
		fmt.Printf("Boot device for guest %s updated\n", guest)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(guestCmd)
	guestCmd.AddCommand(guestStartCmd)
	guestCmd.AddCommand(guestStopCmd)
	guestCmd.AddCommand(guestRebootCmd)
	guestCmd.AddCommand(guestBootDevCmd)

	guestStartCmd.Flags().IntVar(&startCPUs, "cpus", 0, "number of cpus to assign")
	guestStartCmd.Flags().IntVar(&startMemoryMiB, "memory", 0, "memory in MiB to assign")
	guestStartCmd.Flags().StringVar(&startBootDev, "boot-device", "", "device to boot from")

	guestBootDevCmd.Flags().String("device", "", "channel device number of the boot volume")
	guestBootDevCmd.Flags().String("source", "", "named boot source (hd, network, cdrom)")
}
