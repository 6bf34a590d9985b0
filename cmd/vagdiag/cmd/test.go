package cmd

import (
	"fmt"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/spf13/cobra"

	"github.com/volvotools/vagdiag/internal/adapter"
	"github.com/volvotools/vagdiag/internal/trace"
)

// newTestCommand reports host resource figures (SPEC_FULL §4.9's "the
// test CLI subcommand additionally reports host resource figures ...
// via shirou/gopsutil/v3") next to an adapter connectivity round trip,
// and optionally attaches a tracer for the duration of the check.
func newTestCommand(app *App) *cobra.Command {
	var withTrace bool

	cmd := &cobra.Command{
		Use:   "test",
		Short: "Check adapter connectivity and report host resources",
		RunE: func(cmd *cobra.Command, args []string) error {
			dev, err := app.dial()
			if err != nil {
				return err
			}
			defer dev.Close()

			channel, err := dev.Connect(adapter.ProtocolCAN, adapter.FlagCANIDBoth, app.Baud)
			if err != nil {
				return fmt.Errorf("test: connect: %w", err)
			}
			defer channel.Close()

			tr := trace.Noop()
			if withTrace {
				if fdTracer, err := trace.Attach(0); err == nil {
					tr = fdTracer
				} else {
					app.Log.Printf("trace: %v (continuing without tracing)", err)
				}
			}
			defer tr.Close()

			if _, err := channel.Read(500 * time.Millisecond); err != nil {
				if aerr, ok := err.(*adapter.Error); !ok || aerr.Code != adapter.Timeout {
					return fmt.Errorf("test: read: %w", err)
				}
			}
			fmt.Println("adapter: OK")

			percent, err := cpu.Percent(0, false)
			if err == nil && len(percent) > 0 {
				fmt.Printf("cpu: %.1f%% (%d cores)\n", percent[0], runtime.NumCPU())
			}
			if vm, err := mem.VirtualMemory(); err == nil {
				fmt.Printf("memory: %d/%d MB used\n", vm.Used/1024/1024, vm.Total/1024/1024)
			}
			fmt.Printf("os: %s/%s\n", runtime.GOOS, runtime.GOARCH)

			if withTrace {
				select {
				case ev, ok := <-tr.Events():
					if ok {
						fmt.Printf("trace: %s %d bytes on channel %d\n", ev.Direction, ev.Bytes, ev.ChannelID)
					}
				default:
				}
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&withTrace, "trace", false, "attach the eBPF I/O tracer (Linux only)")
	return cmd
}
