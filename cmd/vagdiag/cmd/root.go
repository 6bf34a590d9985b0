package cmd

import (
	"github.com/spf13/cobra"
)

// NewRootCommand builds the vagdiag command tree: persistent device/
// platform/protocol flags on the root, one subcommand per top-level
// operation (SPEC_FULL §6).
func NewRootCommand() *cobra.Command {
	app := NewApp()

	root := &cobra.Command{
		Use:   "vagdiag",
		Short: "Host-side toolkit for D2/TP2.0/UDS ECU diagnostics",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			app.configureLogging()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&app.Device, "device", "d", "local", `adapter endpoint: "local" for direct USB, or a vagdiagd "host:port"`)
	flags.IntVarP(&app.Baud, "baud", "b", 500000, "bus speed in bits/second")
	flags.StringVarP(&app.Platform, "platform", "f", "", "platform name in the platform registry")
	flags.StringVarP(&app.ConfigPath, "config", "c", "", "path to platforms.yaml (default $XDG_CONFIG_HOME/vagdiag/platforms.yaml)")
	flags.StringVarP(&app.EcuHex, "ecu", "e", "", "target ECU id, hex (e.g. 50, 7E0)")
	flags.StringVarP(&app.PinHex, "pin", "p", "", "security access PIN, 10 hex characters")
	flags.StringVar(&app.Protocol, "protocol", "uds", "wire protocol: d2, uds or tp20")
	flags.StringVar(&app.VendorID, "vid", "0000", "USB vendor id of the pass-through interface, hex")
	flags.StringVar(&app.ProductID, "pid", "0000", "USB product id of the pass-through interface, hex")
	flags.BoolVarP(&app.Verbose, "verbose", "v", false, "enable diagnostic logging to stderr")

	root.AddCommand(
		newFlashCommand(app),
		newReadCommand(app),
		newWakeupCommand(app),
		newPinCommand(app),
		newTestCommand(app),
	)

	return root
}
