// Package tp20 implements the stateful "TP 2.0" transport session that
// carries KWP2000 requests over CAN (spec.md §4.4), modeled on the D2/UDS
// processors in internal/d2 and internal/uds but with a long-lived,
// windowed session instead of a one-shot request/response exchange.
package tp20

// Opcode nibbles carried in byte 0 of every data-phase TP 2.0 payload
// (spec.md §4.4's "Frame opcodes" list).
const (
	opDataAckRequired = 0x10 // 0x1_: last of block or last of message
	opDataNoAck       = 0x20 // 0x2_: more payloads to follow in this window
	opAck             = 0xB0 // 0xB_: acknowledgement
	opConnectionTest  = 0xA1 // ignored by the session
	opKeepAlive       = 0xA3 // periodic alive message, no sequence nibble

	seqMask = 0x0F
)

// Service bytes used only during connect(), before a session exists.
// These are distinct from the KWP2000 service ids the session later
// carries as payload once the channel is up.
const (
	serviceChannelSetup                 = 0x10
	serviceChannelSetupPositiveResponse = 0xD0
	serviceSetupChannelParameters       = 0xA0
)

const (
	initialCanID     uint32 = 0x200
	requestedChannel uint16 = 0x300
	keepAliveMS             = 1000
	maxRequestBytes         = 4096
	payloadSize             = 8
)

// frame is a single TP 2.0 data-phase CAN payload: opcode nibble OR'd
// with a sequence nibble in byte 0, followed by up to 7 data bytes.
type frame struct {
	Opcode byte
	Seq    byte
	Data   []byte
}

func (f frame) encode() [8]byte {
	var out [8]byte
	out[0] = (f.Opcode &^ seqMask) | (f.Seq & seqMask)
	copy(out[1:], f.Data)
	return out
}

// encodeChannel builds the little-endian 2-byte decode used for the
// requested/tx channel ids, matching the original `encode(lo, hi)` helper.
func encodeChannel(lo, hi byte) uint16 {
	return uint16(lo) | uint16(hi)<<8
}
