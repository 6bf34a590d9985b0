// Command vagdiag-monitor attaches to a logger.Logger session and
// renders the decoded samples it dispatches as a live-updating table
// (SPEC_FULL §6 "Monitor"). It is the terminal-dashboard sibling of
// vagdiag's own protocol/platform flags, reimplemented here rather than
// imported since cmd/vagdiag/cmd is an internal package of that binary.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/gousb"

	"github.com/volvotools/vagdiag/internal/adapter"
	"github.com/volvotools/vagdiag/internal/csvparam"
	"github.com/volvotools/vagdiag/internal/d2"
	"github.com/volvotools/vagdiag/internal/logger"
	"github.com/volvotools/vagdiag/internal/steps"
	"github.com/volvotools/vagdiag/internal/tp20"
	"github.com/volvotools/vagdiag/internal/transportdial"
	"github.com/volvotools/vagdiag/internal/uds"
)

func main() {
	device := flag.String("device", "local", `adapter endpoint: "local" for direct USB, or a vagdiagd "host:port"`)
	baud := flag.Int("baud", 500000, "bus speed in bits/second")
	ecuHex := flag.String("ecu", "", "target ECU id, hex (e.g. 50, 7E0)")
	protocol := flag.String("protocol", "uds", "wire protocol: d2, uds or tp20")
	slow := flag.Bool("slow", false, "use the UDS read-memory-by-address variant instead of DDDI grouping")
	paramsPath := flag.String("params", "", "CSV parameter list (required)")
	vidHex := flag.String("vid", "0000", "USB vendor id of the pass-through interface, hex")
	pidHex := flag.String("pid", "0000", "USB product id of the pass-through interface, hex")
	flag.Parse()

	if *paramsPath == "" {
		log.Fatal("vagdiag-monitor: --params is required")
	}
	if *ecuHex == "" {
		log.Fatal("vagdiag-monitor: --ecu is required")
	}

	params, err := loadParams(*paramsPath)
	if err != nil {
		log.Fatalf("vagdiag-monitor: %v", err)
	}

	ecuID, err := strconv.ParseUint(*ecuHex, 16, 32)
	if err != nil {
		log.Fatalf("vagdiag-monitor: --ecu must be hex: %v", err)
	}
	vid, err := strconv.ParseUint(*vidHex, 16, 16)
	if err != nil {
		log.Fatalf("vagdiag-monitor: --vid must be hex: %v", err)
	}
	pid, err := strconv.ParseUint(*pidHex, 16, 16)
	if err != nil {
		log.Fatalf("vagdiag-monitor: --pid must be hex: %v", err)
	}

	dev, err := transportdial.Dial(*device, gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		log.Fatalf("vagdiag-monitor: dial %s: %v", *device, err)
	}
	defer dev.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	proc, channel, err := connectProcessor(ctx, *protocol, dev, uint32(ecuID), *baud)
	if err != nil {
		log.Fatalf("vagdiag-monitor: %v", err)
	}
	defer channel.Close()

	var variant logger.Variant
	switch {
	case *protocol == "d2":
		variant = &logger.D2Variant{Proc: proc, Params: params}
	case *slow:
		variant = &logger.UDSSlowVariant{Proc: proc, Params: params}
	default:
		variant = &logger.UDSVariant{Proc: proc, Params: params}
	}

	lg := &logger.Logger{Variant: variant, Params: params, Timeout: 2 * time.Second}

	m := newModel(params)
	program := tea.NewProgram(m, tea.WithAltScreen())

	lg.Subscribe(func(rec logger.LogRecord) {
		program.Send(sampleMsg(rec))
	})

	if err := lg.Start(ctx); err != nil {
		log.Fatalf("vagdiag-monitor: start logger: %v", err)
	}
	defer lg.Stop()

	if _, err := program.Run(); err != nil {
		log.Fatalf("vagdiag-monitor: %v", err)
	}
}

func loadParams(path string) ([]logger.LogParameter, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	params, err := csvparam.Load(f)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	if len(params) == 0 {
		return nil, fmt.Errorf("%s: no parameters", path)
	}
	return params, nil
}

// connectProcessor mirrors cmd/vagdiag/cmd.App.connectProcessor: one
// channel, wrapped in the steps.RequestProcessor matching protocol.
func connectProcessor(ctx context.Context, protocol string, dev adapter.Device, ecuID uint32, baud int) (steps.RequestProcessor, adapter.Channel, error) {
	switch protocol {
	case "d2":
		ch, err := dev.Connect(adapter.ProtocolCAN, adapter.FlagCANIDBoth, baud)
		if err != nil {
			return nil, nil, fmt.Errorf("connect d2 channel: %w", err)
		}
		return &d2.Processor{Channel: ch, EcuID: d2.EcuID(ecuID)}, ch, nil

	case "tp20":
		ch, err := dev.Connect(adapter.ProtocolTP20, adapter.FlagNone, baud)
		if err != nil {
			return nil, nil, fmt.Errorf("connect tp20 channel: %w", err)
		}
		session := tp20.NewSession(ch, byte(ecuID))
		if err := session.Start(ctx); err != nil {
			ch.Close()
			return nil, nil, fmt.Errorf("start tp20 session: %w", err)
		}
		return &tp20.Processor{Session: session}, ch, nil

	case "uds", "":
		ch, err := dev.Connect(adapter.ProtocolISO15765, adapter.FlagISO15765FramePad, baud)
		if err != nil {
			return nil, nil, fmt.Errorf("connect uds channel: %w", err)
		}
		return &uds.Processor{Channel: ch, TargetID: ecuID, RxID: ecuID + 8}, ch, nil

	default:
		return nil, nil, fmt.Errorf("unknown --protocol %q (want d2, uds or tp20)", protocol)
	}
}
