// Package isotp implements ISO 15765-2 single/first/consecutive/flow-control
// framing used to carry UDS requests over CAN (spec.md §4.3).
package isotp

import "fmt"

// FrameError reports malformed ISO-TP framing.
type FrameError struct{ Reason string }

func (e *FrameError) Error() string { return "isotp: " + e.Reason }

const (
	pciSingle      = 0x0
	pciFirst       = 0x1
	pciConsecutive = 0x2
	pciFlowControl = 0x3

	maxSingleBytes = 7
	maxTotalBytes  = 4095 // 12-bit length field
)

// Encode splits data into one or more 8-byte ISO-TP frame payloads. The
// adapter is assumed to drive ISO-TP flow control for the consecutive
// frames that follow a "first" frame (spec.md §4.3), so Encode only
// produces the logical frame sequence; it does not wait for flow-control
// frames itself.
func Encode(data []byte) ([][8]byte, error) {
	if len(data) > maxTotalBytes {
		return nil, fmt.Errorf("isotp: request too large: %d bytes", len(data))
	}
	if len(data) <= maxSingleBytes {
		var f [8]byte
		f[0] = byte(pciSingle<<4) | byte(len(data))
		copy(f[1:], data)
		return [][8]byte{f}, nil
	}

	var frames [][8]byte
	var first [8]byte
	first[0] = byte(pciFirst<<4) | byte((len(data)>>8)&0x0F)
	first[1] = byte(len(data) & 0xFF)
	n := copy(first[2:], data)
	frames = append(frames, first)

	offset := n
	seq := byte(1)
	for offset < len(data) {
		var f [8]byte
		f[0] = byte(pciConsecutive<<4) | (seq & 0x0F)
		m := copy(f[1:], data[offset:])
		frames = append(frames, f)
		offset += m
		seq++
	}
	return frames, nil
}

// Decode reassembles a received ISO-TP frame series (single, or
// first+consecutive*) into the logical payload.
func Decode(payloads [][8]byte) ([]byte, error) {
	if len(payloads) == 0 {
		return nil, &FrameError{Reason: "empty frame series"}
	}
	pci := payloads[0][0] >> 4
	switch pci {
	case pciSingle:
		n := int(payloads[0][0] & 0x0F)
		if n > maxSingleBytes {
			return nil, &FrameError{Reason: "invalid single-frame length"}
		}
		return append([]byte(nil), payloads[0][1:1+n]...), nil
	case pciFirst:
		total := (int(payloads[0][0]&0x0F) << 8) | int(payloads[0][1])
		out := append([]byte(nil), payloads[0][2:]...)
		seq := byte(1)
		for _, p := range payloads[1:] {
			if p[0]>>4 != pciConsecutive {
				return nil, &FrameError{Reason: "expected consecutive frame"}
			}
			if p[0]&0x0F != seq&0x0F {
				return nil, &FrameError{Reason: "consecutive sequence mismatch"}
			}
			out = append(out, p[1:]...)
			seq++
			if len(out) >= total {
				break
			}
		}
		if len(out) < total {
			return nil, &FrameError{Reason: "series truncated"}
		}
		return out[:total], nil
	default:
		return nil, &FrameError{Reason: fmt.Sprintf("unexpected leading PCI 0x%X", pci)}
	}
}

// FlowControlFrame builds an explicit flow-control continuation frame,
// for transports that do not drive ISO-TP flow control in hardware.
func FlowControlFrame(blockSize, stMinMS byte) [8]byte {
	var f [8]byte
	f[0] = byte(pciFlowControl << 4)
	f[1] = blockSize
	f[2] = stMinMS
	return f
}
