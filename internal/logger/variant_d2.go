package logger

import (
	"context"
	"fmt"
	"time"

	"github.com/volvotools/vagdiag/internal/steps"
)

// D2Variant samples parameters over the D2 protocol: register each
// address/size pair once, then pull every sample with a single
// request_memory call that returns one concatenated response holding
// all parameters back to back (Logger.cpp's D2LoggerImpl, spec.md
// §4.8 "D2 variant"). Proc is typically a *d2.Processor, referenced
// here only through the shared RequestProcessor contract.
type D2Variant struct {
	Proc   steps.RequestProcessor
	Params []LogParameter
}

// Register sends unregister_all (service 0xAA, sub-function 0x00)
// followed by one register(addr, size) call per parameter (service
// 0xAA 0x50 addr[2..0] size), verifying each echoes positive
// (D2LoggerImpl::registerParameters).
func (v *D2Variant) Register(ctx context.Context, timeout time.Duration) error {
	if _, err := v.Proc.Process(ctx, 0xAA, []byte{0x00}, timeout); err != nil {
		return fmt.Errorf("logger: d2: unregister all: %w", err)
	}
	for _, p := range v.Params {
		params := []byte{
			0x50,
			byte(p.Address >> 16), byte(p.Address >> 8), byte(p.Address),
			byte(p.Size),
		}
		if _, err := v.Proc.Process(ctx, 0xAA, params, timeout); err != nil {
			return fmt.Errorf("logger: d2: register %s: %w", p.Name, err)
		}
	}
	return nil
}

// Sample sends request_memory (service 0xA6, params F0 00 01) and
// slices the response into one big-endian value per parameter, in
// registration order. The ECU echoes its own sub-function bytes (F0
// 00) ahead of the data; those two bytes are skipped
// (D2LoggerImpl::requestMemory).
func (v *D2Variant) Sample(ctx context.Context, timeout time.Duration) ([]uint32, error) {
	resp, err := v.Proc.Process(ctx, 0xA6, []byte{0xF0, 0x00, 0x01}, timeout)
	if err != nil {
		return nil, fmt.Errorf("logger: d2: request memory: %w", err)
	}
	if len(resp) < 2 {
		return nil, fmt.Errorf("logger: d2: request memory: short response")
	}
	data := resp[2:]

	out := make([]uint32, len(v.Params))
	offset := 0
	for i, p := range v.Params {
		if offset+p.Size > len(data) {
			return nil, fmt.Errorf("logger: d2: request memory: response too short for %s", p.Name)
		}
		var value uint32
		for j := 0; j < p.Size; j++ {
			value = value<<8 | uint32(data[offset+j])
		}
		out[i] = value
		offset += p.Size
	}
	return out, nil
}
