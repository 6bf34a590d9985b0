package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/volvotools/vagdiag/internal/adapter"
	"github.com/volvotools/vagdiag/internal/d2"
	"github.com/volvotools/vagdiag/internal/flasher"
	"github.com/volvotools/vagdiag/internal/vbf"
)

// newFlashCommand runs one flasher.Plan over a single VBF file. A
// two-stage SBL-then-data reflash (§4.6's "BootloaderLoading" step) is
// driven by invoking flash twice — once against the SBL VBF, once
// against the payload VBF — since flasher.Params.Image carries exactly
// one vbf.VBF and its header's SWPartType decides which half of the plan
// its chunks run through.
func newFlashCommand(app *App) *cobra.Command {
	var inputPath string
	var bootloaderCallHex string

	cmd := &cobra.Command{
		Use:   "flash",
		Short: "Reflash the target ECU from a VBF image",
		RunE: func(cmd *cobra.Command, args []string) error {
			if inputPath == "" {
				return fmt.Errorf("flash: --input is required")
			}

			data, err := os.ReadFile(inputPath)
			if err != nil {
				return fmt.Errorf("flash: read %s: %w", inputPath, err)
			}
			image, err := vbf.Parse(data)
			if err != nil {
				return fmt.Errorf("flash: parse %s: %w", inputPath, err)
			}

			var bootloaderCall uint64
			if bootloaderCallHex != "" {
				bootloaderCall, err = strconv.ParseUint(bootloaderCallHex, 16, 32)
				if err != nil {
					return fmt.Errorf("flash: --call must be hex: %w", err)
				}
			}

			profile, err := app.loadPlatform()
			if err != nil {
				return err
			}
			ecuID, err := app.ecuID(profile)
			if err != nil {
				return err
			}
			pin, err := app.pin()
			if err != nil {
				return err
			}

			dev, err := app.dial()
			if err != nil {
				return err
			}
			defer dev.Close()

			ctx := context.Background()
			proc, channel, err := app.connectProcessor(ctx, dev, ecuID)
			if err != nil {
				return err
			}
			defer channel.Close()

			params := flasher.Params{
				Channels:       []adapter.Channel{channel},
				Pin:            pin,
				Image:          image,
				RequestTimeout: requestTimeout(),
				BootloaderCall: uint32(bootloaderCall),
			}

			var plan *flasher.Plan
			switch app.Protocol {
			case "d2":
				plan = flasher.NewD2FlashPlan(d2.EcuID(ecuID), params)
			case "tp20":
				plan = flasher.NewKWPFlashPlan(proc, params)
			default:
				plan = flasher.NewUDSFlashPlan(proc, params)
			}

			plan.OnState = func(s flasher.State) {
				app.Log.Printf("state: %s", s)
			}
			plan.OnProgress = func(current, max int) {
				app.Log.Printf("progress: %d/%d", current, max)
			}

			if err := plan.Run(ctx); err != nil {
				return fmt.Errorf("flash: %w", err)
			}
			fmt.Println("flash complete")
			return nil
		},
	}

	cmd.Flags().StringVarP(&inputPath, "input", "i", "", "VBF file to flash")
	cmd.Flags().StringVar(&bootloaderCallHex, "call", "", "bootloader start-routine address, hex (optional)")
	return cmd
}
