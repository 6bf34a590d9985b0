// Package cmd wires spf13/cobra's command tree for vagdiag, grounded on
// keskad-loco's pkgs/cli package (one NewXCommand(app) constructor per
// subcommand, a shared app struct threaded through instead of package
// globals).
package cmd

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/google/gousb"

	"github.com/volvotools/vagdiag/internal/adapter"
	"github.com/volvotools/vagdiag/internal/d2"
	"github.com/volvotools/vagdiag/internal/steps"
	"github.com/volvotools/vagdiag/internal/support/platformcfg"
	"github.com/volvotools/vagdiag/internal/tp20"
	"github.com/volvotools/vagdiag/internal/transportdial"
	"github.com/volvotools/vagdiag/internal/uds"
)

// App holds the root command's persistent flag values and the
// lazily-built pieces every subcommand shares: the platform registry, the
// dialed adapter device, and a component logger. One instance is created
// by NewRootCommand and passed by pointer into every subcommand
// constructor, the same shape LocoApp plays in keskad-loco's pkgs/app.
type App struct {
	Device     string
	Baud       int
	Platform   string
	ConfigPath string
	EcuHex     string
	PinHex     string
	Protocol   string
	VendorID   string
	ProductID  string
	Verbose    bool

	Log *log.Logger
}

// NewApp returns an App with its persistent flags at their zero values;
// NewRootCommand binds cobra flags onto the returned struct's fields.
func NewApp() *App {
	return &App{Log: log.New(os.Stderr, "vagdiag: ", log.LstdFlags)}
}

// configureLogging mirrors SPEC_FULL §7's "-v toggling verbose output by
// wrapping it with an io.Discard writer when off" rule.
func (a *App) configureLogging() {
	if !a.Verbose {
		a.Log.SetOutput(io.Discard)
	}
}

func (a *App) loadPlatform() (platformcfg.PlatformProfile, error) {
	reg, err := platformcfg.Load(a.ConfigPath)
	if err != nil {
		return platformcfg.PlatformProfile{}, fmt.Errorf("load platform registry: %w", err)
	}
	if a.Platform == "" {
		return platformcfg.PlatformProfile{}, fmt.Errorf("no --platform given")
	}
	return reg.Lookup(a.Platform)
}

// ecuID resolves -e/--ecu, a bare hex string (e.g. "50" for D2 CEM, or
// "7E0" for a UDS physical address), falling back to profile's table
// under the same name when -e isn't hex.
func (a *App) ecuID(profile platformcfg.PlatformProfile) (uint32, error) {
	if a.EcuHex == "" {
		return 0, fmt.Errorf("no --ecu given")
	}
	if id, err := strconv.ParseUint(a.EcuHex, 16, 32); err == nil {
		return uint32(id), nil
	}
	return profile.ECU(a.EcuHex)
}

// pin parses -p/--pin as 10 hex characters (5 bytes), the wire shape
// steps.Authorize and pinfinder.Finder both take.
func (a *App) pin() ([5]byte, error) {
	var pin [5]byte
	if a.PinHex == "" {
		return pin, nil
	}
	raw, err := hex.DecodeString(a.PinHex)
	if err != nil || len(raw) != 5 {
		return pin, fmt.Errorf("--pin must be 10 hex characters (5 bytes)")
	}
	copy(pin[:], raw)
	return pin, nil
}

func (a *App) vendorProductID() (gousb.ID, gousb.ID, error) {
	vid, err := strconv.ParseUint(a.VendorID, 16, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("--vid must be a hex USB vendor id: %w", err)
	}
	pid, err := strconv.ParseUint(a.ProductID, 16, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("--pid must be a hex USB product id: %w", err)
	}
	return gousb.ID(vid), gousb.ID(pid), nil
}

// dial opens the adapter.Device named by --device (SPEC_FULL §3's
// AdapterEndpoint: "local" for direct USB, else a vagdiagd "host:port").
func (a *App) dial() (adapter.Device, error) {
	vid, pid, err := a.vendorProductID()
	if err != nil {
		return nil, err
	}
	dev, err := transportdial.Dial(a.Device, vid, pid)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", a.Device, err)
	}
	return dev, nil
}

// connectProcessor opens one channel on dev for the protocol named by
// --protocol ("d2", "uds" or "tp20") and wraps it in the matching
// steps.RequestProcessor, bound to ecuID. For tp20 this also runs the
// session's connect handshake, since a Processor can't be used before
// Session.Start succeeds.
func (a *App) connectProcessor(ctx context.Context, dev adapter.Device, ecuID uint32) (steps.RequestProcessor, adapter.Channel, error) {
	switch a.Protocol {
	case "d2":
		ch, err := dev.Connect(adapter.ProtocolCAN, adapter.FlagCANIDBoth, a.Baud)
		if err != nil {
			return nil, nil, fmt.Errorf("connect d2 channel: %w", err)
		}
		return &d2.Processor{Channel: ch, EcuID: d2.EcuID(ecuID)}, ch, nil

	case "tp20":
		ch, err := dev.Connect(adapter.ProtocolTP20, adapter.FlagNone, a.Baud)
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
		ch, err := dev.Connect(adapter.ProtocolISO15765, adapter.FlagISO15765FramePad, a.Baud)
		if err != nil {
			return nil, nil, fmt.Errorf("connect uds channel: %w", err)
		}
		// Standard UDS-over-ISO-TP physical addressing: the ECU listens on
		// ecuID and replies on ecuID+8 (e.g. 0x7E0/0x7E8).
		return &uds.Processor{Channel: ch, TargetID: ecuID, RxID: ecuID + 8}, ch, nil

	default:
		return nil, nil, fmt.Errorf("unknown --protocol %q (want d2, uds or tp20)", a.Protocol)
	}
}

func requestTimeout() time.Duration { return 5 * time.Second }
