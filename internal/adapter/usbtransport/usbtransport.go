// Package usbtransport implements adapter.Device/Channel directly over a
// USB bulk interface, for pass-through hardware that exposes one rather
// than requiring a vendor kernel driver (SPEC_FULL §4.1a). Grounded on
// _examples/guiperry-HASHER/internal/driver/device/usb_device.go's
// gousb.Context/Device/Config/Interface open sequence and bulk
// endpoint read/write shape, generalized from its fixed ASIC vendor/
// product id and packet formats to the adapter facade's generic
// connect/read/write/ioctl surface.
package usbtransport

import (
	"context"
	"fmt"
	"time"

	"github.com/google/gousb"

	"github.com/volvotools/vagdiag/internal/adapter"
	"github.com/volvotools/vagdiag/internal/canframe"
)

// Default endpoint numbers and configuration/interface indices, matching
// the single-config/single-interface bulk layout usb_device.go assumes
// (USBDevice.config/intf/epOut/epIn).
const (
	DefaultConfigNum    = 1
	DefaultInterfaceNum = 0
	DefaultAltSetting   = 0
	DefaultEndpointOut  = 0x01
	DefaultEndpointIn   = 0x81

	// MaxUSBPacketSize bounds one bulk IN transfer (usb_device.go's
	// MaxUSBPacketSize = 512).
	MaxUSBPacketSize = 512

	vendorRequestConnect       = 0x01
	vendorRequestSetFilter     = 0x02
	vendorRequestStartPeriodic = 0x03
	vendorRequestStopPeriodic  = 0x04
	vendorRequestIoctl         = 0x05
	vendorRequestClearRx       = 0x06
	vendorRequestClearTx       = 0x07
	vendorRequestSetConfig     = 0x08
)

// Device is one opened USB pass-through interface.
type Device struct {
	ctx    *gousb.Context
	dev    *gousb.Device
	config *gousb.Config
	intf   *gousb.Interface
	epOut  *gousb.OutEndpoint
	epIn   *gousb.InEndpoint
}

// Open opens the pass-through interface by USB vendor/product id
// (OpenUSBDevice's gousb.NewContext -> OpenDeviceWithVIDPID -> Config ->
// Interface chain).
func Open(vid, pid gousb.ID) (*Device, error) {
	ctx := gousb.NewContext()

	dev, err := ctx.OpenDeviceWithVIDPID(vid, pid)
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("usbtransport: open device: %w", err)
	}
	if dev == nil {
		ctx.Close()
		return nil, fmt.Errorf("usbtransport: device not found (vid:0x%04x pid:0x%04x)", vid, pid)
	}

	config, err := dev.Config(DefaultConfigNum)
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("usbtransport: set config: %w", err)
	}

	intf, err := config.Interface(DefaultInterfaceNum, DefaultAltSetting)
	if err != nil {
		config.Close()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("usbtransport: claim interface: %w", err)
	}

	epOut, err := intf.OutEndpoint(DefaultEndpointOut)
	if err != nil {
		intf.Close()
		config.Close()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("usbtransport: open out endpoint: %w", err)
	}

	epIn, err := intf.InEndpoint(DefaultEndpointIn)
	if err != nil {
		intf.Close()
		config.Close()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("usbtransport: open in endpoint: %w", err)
	}

	return &Device{ctx: ctx, dev: dev, config: config, intf: intf, epOut: epOut, epIn: epIn}, nil
}

// Connect negotiates a logical channel over the single shared bulk pipe:
// it sends a vendor control request carrying protocol/flags/baud and
// returns a Channel multiplexed by the channel id the adapter firmware
// hands back (adapter.Device.Connect).
func (d *Device) Connect(protocol adapter.Protocol, flags adapter.ConnectFlags, baud int) (adapter.Channel, error) {
	payload := []byte{
		byte(protocol),
		byte(flags >> 24), byte(flags >> 16), byte(flags >> 8), byte(flags),
		byte(baud >> 24), byte(baud >> 16), byte(baud >> 8), byte(baud),
	}
	resp, err := d.controlOut(vendorRequestConnect, 0, payload)
	if err != nil {
		return nil, fmt.Errorf("usbtransport: connect: %w", err)
	}
	if len(resp) < 1 {
		return nil, fmt.Errorf("usbtransport: connect: empty channel id response")
	}
	return &Channel{device: d, channelID: resp[0]}, nil
}

// Close releases the USB interface, configuration, device handle and
// context, in USBDevice.Close's order.
func (d *Device) Close() error {
	if d.intf != nil {
		d.intf.Close()
	}
	if d.config != nil {
		d.config.Close()
	}
	if d.dev != nil {
		d.dev.Close()
	}
	if d.ctx != nil {
		d.ctx.Close()
	}
	return nil
}

// controlOut issues a vendor OUT control transfer carrying payload for
// request, then reads back whatever response bytes the firmware placed
// on the IN endpoint (the interfaces this targets have no separate
// control endpoint beyond the bulk pair, so acknowledgements ride the
// same IN pipe as frame data).
func (d *Device) controlOut(request uint8, channelID byte, payload []byte) ([]byte, error) {
	frame := append([]byte{request, channelID}, payload...)
	if _, err := d.epOut.Write(frame); err != nil {
		return nil, fmt.Errorf("usbtransport: control write: %w", err)
	}
	buf := make([]byte, 64)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	n, err := d.epIn.ReadContext(ctx, buf)
	if err != nil {
		return nil, fmt.Errorf("usbtransport: control read: %w", err)
	}
	return buf[:n], nil
}

// Channel is one logical connection multiplexed over the device's shared
// bulk pipe, tagged with the channel id Connect negotiated.
type Channel struct {
	device    *Device
	channelID byte
}

// frameWireSize is the fixed wire size of one canframe.CanFrame: a
// 4-byte id prefix plus an 8-byte payload (canframe.PayloadSize).
const frameWireSize = 4 + canframe.PayloadSize

// Read performs one bulk IN transfer with the given timeout and splits
// the result into wire-ready canframe-sized byte slices
// (USBDevice.ReadPacket's ReadContext-with-deadline shape, generalized
// from one fixed-format ASIC packet to however many frames the firmware
// batched into this transfer).
func (c *Channel) Read(timeout time.Duration) ([][]byte, error) {
	buf := make([]byte, MaxUSBPacketSize)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	n, err := c.device.epIn.ReadContext(ctx, buf)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &adapter.Error{Op: "read", Code: adapter.Timeout}
		}
		return nil, fmt.Errorf("usbtransport: read: %w", err)
	}

	return splitFrames(buf[:n]), nil
}

// splitFrames slices a bulk IN transfer's raw bytes into fixed-size
// canframe-wire frames, dropping any short trailing remainder.
func splitFrames(buf []byte) [][]byte {
	var frames [][]byte
	for off := 0; off+frameWireSize <= len(buf); off += frameWireSize {
		frame := make([]byte, frameWireSize)
		copy(frame, buf[off:off+frameWireSize])
		frames = append(frames, frame)
	}
	return frames
}

// Write sends frames as a single bulk OUT transfer, tagged with this
// channel's id so the firmware can demultiplex it (SendPacket's
// epOut.Write, generalized to one write per batch of frames rather than
// one fixed-format packet).
func (c *Channel) Write(frames [][]byte, timeout time.Duration) (int, error) {
	out := joinFrames(c.channelID, frames)
	n, err := c.device.epOut.Write(out)
	if err != nil {
		return 0, fmt.Errorf("usbtransport: write: %w", err)
	}
	return (n - 1) / frameWireSize, nil
}

// joinFrames concatenates frames behind a one-byte channel id prefix so
// the firmware can demultiplex a write on the shared bulk pipe.
func joinFrames(channelID byte, frames [][]byte) []byte {
	out := make([]byte, 0, 1+frameWireSize*len(frames))
	out = append(out, channelID)
	for _, f := range frames {
		out = append(out, f...)
	}
	return out
}

// StartPeriodic asks the firmware to resend frame on its own timer,
// returning the handle it allocates (adapter.Channel.StartPeriodic).
func (c *Channel) StartPeriodic(frame []byte, interval time.Duration) (adapter.PeriodicHandle, error) {
	payload := append([]byte{byte(interval.Milliseconds() >> 8), byte(interval.Milliseconds())}, frame...)
	resp, err := c.device.controlOut(vendorRequestStartPeriodic, c.channelID, payload)
	if err != nil {
		return 0, fmt.Errorf("usbtransport: start periodic: %w", err)
	}
	if len(resp) < 4 {
		return 0, fmt.Errorf("usbtransport: start periodic: short handle response")
	}
	h := uint32(resp[0])<<24 | uint32(resp[1])<<16 | uint32(resp[2])<<8 | uint32(resp[3])
	return adapter.PeriodicHandle(h), nil
}

// StopPeriodic cancels a periodic job started with StartPeriodic.
func (c *Channel) StopPeriodic(h adapter.PeriodicHandle) error {
	payload := []byte{byte(h >> 24), byte(h >> 16), byte(h >> 8), byte(h)}
	_, err := c.device.controlOut(vendorRequestStopPeriodic, c.channelID, payload)
	if err != nil {
		return fmt.Errorf("usbtransport: stop periodic: %w", err)
	}
	return nil
}

// SetFilter installs a hardware mask/pattern/flow-control filter.
func (c *Channel) SetFilter(kind adapter.FilterKind, mask, pattern, flow []byte) (adapter.FilterHandle, error) {
	resp, err := c.device.controlOut(vendorRequestSetFilter, c.channelID, encodeFilterPayload(kind, mask, pattern, flow))
	if err != nil {
		return 0, fmt.Errorf("usbtransport: set filter: %w", err)
	}
	if len(resp) < 4 {
		return 0, fmt.Errorf("usbtransport: set filter: short handle response")
	}
	h := uint32(resp[0])<<24 | uint32(resp[1])<<16 | uint32(resp[2])<<8 | uint32(resp[3])
	return adapter.FilterHandle(h), nil
}

// encodeFilterPayload builds the kind + length-prefixed mask/pattern/flow
// body SetFilter sends.
func encodeFilterPayload(kind adapter.FilterKind, mask, pattern, flow []byte) []byte {
	payload := []byte{byte(kind)}
	payload = append(payload, byte(len(mask)))
	payload = append(payload, mask...)
	payload = append(payload, byte(len(pattern)))
	payload = append(payload, pattern...)
	payload = append(payload, byte(len(flow)))
	payload = append(payload, flow...)
	return payload
}

// Ioctl issues a vendor-defined control request and returns up to
// outLen bytes of response.
func (c *Channel) Ioctl(id int, in []byte, outLen int) ([]byte, error) {
	payload := append([]byte{byte(id >> 24), byte(id >> 16), byte(id >> 8), byte(id)}, in...)
	resp, err := c.device.controlOut(vendorRequestIoctl, c.channelID, payload)
	if err != nil {
		return nil, fmt.Errorf("usbtransport: ioctl: %w", err)
	}
	if len(resp) > outLen {
		resp = resp[:outLen]
	}
	return resp, nil
}

// ClearRx flushes the firmware's inbound queue for this channel.
func (c *Channel) ClearRx() error {
	_, err := c.device.controlOut(vendorRequestClearRx, c.channelID, nil)
	if err != nil {
		return fmt.Errorf("usbtransport: clear rx: %w", err)
	}
	return nil
}

// ClearTx flushes the firmware's outbound queue for this channel.
func (c *Channel) ClearTx() error {
	_, err := c.device.controlOut(vendorRequestClearTx, c.channelID, nil)
	if err != nil {
		return fmt.Errorf("usbtransport: clear tx: %w", err)
	}
	return nil
}

// SetConfig pushes integer-valued configuration pairs (e.g. loopback,
// bit timing) to the firmware.
func (c *Channel) SetConfig(pairs map[string]int) error {
	_, err := c.device.controlOut(vendorRequestSetConfig, c.channelID, encodeConfigPairs(pairs))
	if err != nil {
		return fmt.Errorf("usbtransport: set config: %w", err)
	}
	return nil
}

// encodeConfigPairs builds the count + (key-length, key, value) body
// SetConfig sends. Map iteration order is non-deterministic, which is
// fine here: every pair is self-delimiting and order carries no meaning.
func encodeConfigPairs(pairs map[string]int) []byte {
	payload := []byte{byte(len(pairs))}
	for k, v := range pairs {
		payload = append(payload, byte(len(k)))
		payload = append(payload, []byte(k)...)
		payload = append(payload, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
	}
	return payload
}

// Close is a no-op: the channel shares the device's bulk pipe, so only
// Device.Close releases the underlying USB resources.
func (c *Channel) Close() error { return nil }
