package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tessia-project/baselib/pkg/hypervisor"
)

var (
	netbootKernelURI string
	netbootInitrdURI string
	netbootCmdline   string
)

var guestNetbootCmd = &cobra.Command{
	Use:   "netboot <hypervisor> <guest>",
	Short: "Network boot a guest",
	Long:  "Start the specified guest from a kernel and initrd fetched over the network",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, guest := args[0], args[1]

		driver, cleanup, err := openDriver(cmd.Context(), name)
		if err != nil {
			return err
		}
		defer cleanup()

		netboot := map[string]interface{}{
			"kernel_uri": netbootKernelURI,
		}
		if netbootInitrdURI != "" {
			netboot["initrd_uri"] = netbootInitrdURI
		}
		if netbootCmdline != "" {
			netboot["cmdline"] = netbootCmdline
		}
		params := hypervisor.GuestParameters{"netboot": netboot}

		fmt.Printf("Network booting guest %s on %s...\n", guest, name)
		if err := driver.Start(cmd.Context(), guest, params); err != nil {
			return fmt.Errorf("failed to network boot guest: %w", err)
		}
		fmt.Printf("Guest %s started successfully\n", guest)
		return nil
	},
}

func init() {
	guestCmd.AddCommand(guestNetbootCmd)

	guestNetbootCmd.Flags().StringVar(&netbootKernelURI, "kernel-uri", "", "URI of the kernel image (required)")
	guestNetbootCmd.Flags().StringVar(&netbootInitrdURI, "initrd-uri", "", "URI of the initrd image")
	guestNetbootCmd.Flags().StringVar(&netbootCmdline, "cmdline", "", "kernel command line")
	guestNetbootCmd.MarkFlagRequired("kernel-uri")
}
