package uds

import (
	"context"
	"fmt"
	"time"

	"github.com/volvotools/vagdiag/internal/adapter"
	"github.com/volvotools/vagdiag/internal/isotp"
)

// Processor implements the UDS request/response cycle over ISO-TP
// (spec.md §4.3-§4.5).
type Processor struct {
	Channel  adapter.Channel
	TargetID uint32 // destination CAN id, e.g. an ECU's physical address
	RxID     uint32 // id the ECU responds on
}

// Process writes serviceByte+params as a single UDS request and returns
// the reassembled positive-response payload (without the echoed service
// byte), or a typed Error for a negative response.
func (p *Processor) Process(ctx context.Context, serviceByte byte, params []byte, timeout time.Duration) ([]byte, error) {
	req := make([]byte, 0, 1+len(params))
	req = append(req, serviceByte)
	req = append(req, params...)

	frames, err := isotp.Encode(req)
	if err != nil {
		return nil, fmt.Errorf("uds: encode request: %w", err)
	}

	wire := make([][]byte, len(frames))
	for i, f := range frames {
		payload := make([]byte, 4+8)
		payload[0] = byte(p.TargetID >> 24)
		payload[1] = byte(p.TargetID >> 16)
		payload[2] = byte(p.TargetID >> 8)
		payload[3] = byte(p.TargetID)
		copy(payload[4:], f[:])
		wire[i] = payload
	}

	n, err := p.Channel.Write(wire, timeout)
	if err != nil {
		return nil, fmt.Errorf("uds: write request: %w", err)
	}
	if n < 1 {
		return nil, fmt.Errorf("uds: write request: no frames written")
	}

	deadline := time.Now().Add(timeout)
	var series [][8]byte
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("uds: process: timeout waiting for response")
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		raw, err := p.Channel.Read(remaining)
		if err != nil {
			return nil, fmt.Errorf("uds: read response: %w", err)
		}
		for _, b := range raw {
			if len(b) < 5 {
				continue
			}
			id := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
			if p.RxID != 0 && id != p.RxID {
				continue
			}
			var payload [8]byte
			copy(payload[:], b[4:])

			pci := payload[0] >> 4
			switch pci {
			case 0x0:
				series = [][8]byte{payload}
			case 0x1:
				series = [][8]byte{payload}
			case 0x2:
				if len(series) == 0 {
					continue
				}
				series = append(series, payload)
			default:
				continue
			}

			decoded, derr := isotp.Decode(series)
			if derr != nil {
				continue
			}
			if len(decoded) < 1 {
				continue
			}
			if decoded[0] == 0x7F {
				if len(decoded) < 3 {
					continue
				}
				if IsBusy(decoded[2]) {
					series = nil
					continue
				}
				return nil, &Error{Service: decoded[1], NRC: decoded[2]}
			}
			if decoded[0] != serviceByte+0x40 {
				continue
			}
			return decoded[1:], nil
		}
	}
}

// WrapRequest prepends the 4-byte big-endian destination CAN id ahead of
// an ISO-TP payload, matching spec.md §4.3's wire shape.
func WrapRequest(targetID uint32, isotpFrame [8]byte) []byte {
	out := make([]byte, 4+8)
	out[0] = byte(targetID >> 24)
	out[1] = byte(targetID >> 16)
	out[2] = byte(targetID >> 8)
	out[3] = byte(targetID)
	copy(out[4:], isotpFrame[:])
	return out
}
