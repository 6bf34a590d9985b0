package d2

import (
	"context"
	"fmt"
	"time"

	"github.com/volvotools/vagdiag/internal/adapter"
	"github.com/volvotools/vagdiag/internal/canframe"
)

// Processor implements the D2 request/response cycle (spec.md §4.5).
type Processor struct {
	Channel adapter.Channel
	EcuID   EcuID
}

// Process writes a D2 request and returns the reassembled positive
// response payload, or a typed Error for a negative response.
func (p *Processor) Process(ctx context.Context, serviceByte byte, params []byte, timeout time.Duration) ([]byte, error) {
	frames := Encode(p.EcuID, []byte{serviceByte}, params)
	wire := make([][]byte, len(frames))
	for i, f := range frames {
		wire[i] = canframe.CanFrame{ID: CanID, Data: f}.Bytes()
	}

	n, err := p.Channel.Write(wire, timeout)
	if err != nil {
		return nil, fmt.Errorf("d2: write request: %w", err)
	}
	if n < 1 {
		return nil, fmt.Errorf("d2: write request: no frames written")
	}

	deadline := time.Now().Add(timeout)
	var series [][8]byte
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("d2: process: %w", errTimeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		raw, err := p.Channel.Read(remaining)
		if err != nil {
			return nil, fmt.Errorf("d2: read response: %w", err)
		}
		for _, b := range raw {
			f, err := canframe.ParseCanFrame(b)
			if err != nil || f.ID != CanID {
				continue
			}
			if len(series) == 0 {
				if f.Data[0] != 0x8F && (f.Data[0] < 0xC8 || f.Data[0] > 0xCF) {
					continue
				}
			}
			series = append(series, f.Data)

			done, final := frameIsTerminal(f.Data[0])
			if !done {
				continue
			}
			payload, derr := Decode(series)
			if derr != nil {
				series = nil
				continue
			}
			if len(payload) < 2 || payload[0] != byte(p.EcuID) {
				series = nil
				continue
			}
			if payload[1] == 0x7F && len(payload) >= 3 {
				if IsBusy(payload[2]) {
					series = nil
					continue
				}
				return nil, &Error{Code: payload[2]}
			}
			if payload[1] != serviceByte+0x40 {
				series = nil
				continue
			}
			_ = final
			return payload[2:], nil
		}
	}
}

func frameIsTerminal(header byte) (done bool, single bool) {
	if header >= 0xC8 && header <= 0xCF {
		return true, true
	}
	if header >= 0x48 && header <= 0x4F {
		return true, false
	}
	return false, false
}

var errTimeout = fmt.Errorf("timeout waiting for response")
