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
)

// newReadCommand reads a block of ECU memory and writes the raw bytes to
// --output. For --protocol d2 there is no read-memory-by-address
// service at all — the bootloader only exposes memory one byte at a
// time via its additive-checksum trick — so that path runs a full
// flasher.NewD2ReadPlan state machine (D2Reader::readFunction) instead
// of a single request. Every other protocol issues one UDS-style
// service 0x23 request, following the same request shape
// logger.UDSSlowVariant.Sample uses per parameter, generalized here to
// one arbitrary address/size pair.
func newReadCommand(app *App) *cobra.Command {
	var startHex string
	var size int
	var outputPath string

	cmd := &cobra.Command{
		Use:   "read",
		Short: "Read a block of ECU memory",
		RunE: func(cmd *cobra.Command, args []string) error {
			if startHex == "" || size <= 0 {
				return fmt.Errorf("read: --start and --size are required")
			}
			start, err := strconv.ParseUint(startHex, 16, 32)
			if err != nil {
				return fmt.Errorf("read: --start must be hex: %w", err)
			}

			profile, err := app.loadPlatform()
			if err != nil {
				return err
			}
			ecuID, err := app.ecuID(profile)
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

			var data []byte
			if app.Protocol == "d2" {
				readParams := flasher.ReadParams{
					Channels:       []adapter.Channel{channel},
					EcuID:          d2.EcuID(ecuID),
					Start:          uint32(start),
					Size:           uint32(size),
					RequestTimeout: requestTimeout(),
				}
				plan := flasher.NewD2ReadPlan(readParams, &data)
				plan.OnState = func(s flasher.State) {
					app.Log.Printf("state: %s", s)
				}
				if err := plan.Run(ctx); err != nil {
					return fmt.Errorf("read: %w", err)
				}
			} else {
				params := []byte{
					0x14, // dataLength=1 byte, addrLength=4 bytes, per UDSSlowVariant
					byte(start >> 24), byte(start >> 16), byte(start >> 8), byte(start),
					byte(size),
				}
				data, err = proc.Process(ctx, 0x23, params, requestTimeout())
				if err != nil {
					return fmt.Errorf("read: %w", err)
				}
			}

			if outputPath == "" {
				_, err = os.Stdout.Write(data)
				return err
			}
			if err := os.WriteFile(outputPath, data, 0o644); err != nil {
				return fmt.Errorf("read: write %s: %w", outputPath, err)
			}
			fmt.Printf("wrote %d bytes to %s\n", len(data), outputPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&startHex, "start", "s", "", "start address, hex")
	cmd.Flags().IntVar(&size, "size", 0, "number of bytes to read")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file (default: stdout)")
	return cmd
}
