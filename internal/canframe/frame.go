// Package canframe holds the wire-level types shared by every protocol
// codec in this module: the fixed 8-byte CAN payload and the logical,
// possibly multi-frame, message built from a run of them.
package canframe

import "fmt"

// PayloadSize is the fixed size of a classic CAN data frame payload.
const PayloadSize = 8

// MaxMessageBytes is the largest payload byte count the adapter facade will
// accept in a single logical read/write, matching the data model's
// CanFrame invariant (payload <= 4128 bytes including the 4-byte header).
const MaxMessageBytes = 4128 - 4

// CanFrame is one physical CAN frame: a 4-byte big-endian identifier prefix
// as the adapter driver reports/expects it, plus up to PayloadSize data
// bytes.
type CanFrame struct {
	ID   uint32
	Data [PayloadSize]byte
}

// Bytes renders the frame as the adapter wire format: 4-byte big-endian id
// followed by the data bytes.
func (f CanFrame) Bytes() []byte {
	out := make([]byte, 4+PayloadSize)
	out[0] = byte(f.ID >> 24)
	out[1] = byte(f.ID >> 16)
	out[2] = byte(f.ID >> 8)
	out[3] = byte(f.ID)
	copy(out[4:], f.Data[:])
	return out
}

// ParseCanFrame reads the adapter wire format back into a CanFrame.
func ParseCanFrame(b []byte) (CanFrame, error) {
	if len(b) < 4+PayloadSize {
		return CanFrame{}, fmt.Errorf("canframe: short frame: %d bytes", len(b))
	}
	f := CanFrame{ID: uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])}
	copy(f.Data[:], b[4:4+PayloadSize])
	return f, nil
}

// Message is a logical request or response: a CAN identifier plus the
// ordered sequence of 8-byte payloads a codec produced for it.
type Message struct {
	ID       uint32
	Payloads [][PayloadSize]byte
}

// Frames expands the message into wire-ready CanFrames.
func (m Message) Frames() []CanFrame {
	out := make([]CanFrame, len(m.Payloads))
	for i, p := range m.Payloads {
		out[i] = CanFrame{ID: m.ID, Data: p}
	}
	return out
}
