package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/volvotools/vagdiag/internal/adapter"
	"github.com/volvotools/vagdiag/internal/steps"
)

// newWakeupCommand opens a channel and sends the broadcast wake-up burst
// a flasher job always runs as its terminal compensation step
// (steps.WakeUp), useful standalone when a prior run left the bus asleep.
func newWakeupCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "wakeup",
		Short: "Broadcast a bus wake-up burst",
		RunE: func(cmd *cobra.Command, args []string) error {
			dev, err := app.dial()
			if err != nil {
				return err
			}
			defer dev.Close()

			channel, err := dev.Connect(adapter.ProtocolCAN, adapter.FlagCANIDBoth, app.Baud)
			if err != nil {
				return fmt.Errorf("wakeup: connect: %w", err)
			}
			defer channel.Close()

			steps.WakeUp(context.Background(), []adapter.Channel{channel})
			fmt.Println("wake-up burst sent")
			return nil
		},
	}
}
