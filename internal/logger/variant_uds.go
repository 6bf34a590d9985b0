package logger

import (
	"context"
	"fmt"
	"time"

	"github.com/volvotools/vagdiag/internal/steps"
)

const (
	dddiBase        = uint16(0xF200)
	dddiMaxDataSize = 7
	dddiDataFormat  = 0x24 // (dataLength=2 << 4) | addrLength=4
)

type dddiGroup struct {
	did       uint16
	paramIdxs []int
	freeBytes int
}

// UDSVariant packs parameters into dynamically-defined data
// identifiers (DDDIs) starting at 0xF200, at most 7 bytes of backing
// data each, then reads one DID per sample instead of one request per
// parameter (Logger.cpp's UDSLoggerImpl, spec.md §4.8 "UDS variant").
type UDSVariant struct {
	Proc   steps.RequestProcessor
	Params []LogParameter

	groups []dddiGroup
}

// Register enters the extended diagnostic session (0x10 0x03), bin-packs
// parameters into DDDI groups, clears each DID (0x2C 0x03 did) and
// defines it (0x2C 0x02 did 0x24 addr size ...) over every parameter
// assigned to it (UDSLoggerImpl::registerParameters).
func (v *UDSVariant) Register(ctx context.Context, timeout time.Duration) error {
	if _, err := v.Proc.Process(ctx, 0x10, []byte{0x03}, timeout); err != nil {
		return fmt.Errorf("logger: uds: diagnostic session: %w", err)
	}

	v.groups = nil
	for i, p := range v.Params {
		idx := v.fittingGroup(p.Size)
		v.groups[idx].paramIdxs = append(v.groups[idx].paramIdxs, i)
		v.groups[idx].freeBytes -= p.Size
	}

	for _, g := range v.groups {
		if _, err := v.Proc.Process(ctx, 0x2C, []byte{0x03, byte(g.did >> 8), byte(g.did)}, timeout); err != nil {
			return fmt.Errorf("logger: uds: clear dddi 0x%04X: %w", g.did, err)
		}

		params := []byte{0x02, byte(g.did >> 8), byte(g.did), dddiDataFormat}
		for _, idx := range g.paramIdxs {
			p := v.Params[idx]
			params = append(params,
				byte(p.Address>>24), byte(p.Address>>16), byte(p.Address>>8), byte(p.Address),
				byte(uint16(p.Size)>>8), byte(uint16(p.Size)))
		}
		if _, err := v.Proc.Process(ctx, 0x2C, params, timeout); err != nil {
			return fmt.Errorf("logger: uds: define dddi 0x%04X: %w", g.did, err)
		}
	}
	return nil
}

// fittingGroup returns the index of the first group with room for a
// size-byte parameter, creating a fresh one past the highest did in
// use when none fits (UDSLoggerImpl::getFittingDidIndex).
func (v *UDSVariant) fittingGroup(size int) int {
	maxDid := dddiBase - 1
	for i, g := range v.groups {
		if g.freeBytes >= size {
			return i
		}
		if g.did > maxDid {
			maxDid = g.did
		}
	}
	v.groups = append(v.groups, dddiGroup{did: maxDid + 1, freeBytes: dddiMaxDataSize})
	return len(v.groups) - 1
}

// Sample reads each DID once (service 0x22 did) and slices its
// response into the parameters packed into it, skipping the two
// echoed DID bytes the ECU prefixes the data with
// (UDSLoggerImpl::requestMemory).
func (v *UDSVariant) Sample(ctx context.Context, timeout time.Duration) ([]uint32, error) {
	out := make([]uint32, len(v.Params))
	for _, g := range v.groups {
		resp, err := v.Proc.Process(ctx, 0x22, []byte{byte(g.did >> 8), byte(g.did)}, timeout)
		if err != nil {
			return nil, fmt.Errorf("logger: uds: read dddi 0x%04X: %w", g.did, err)
		}
		if len(resp) < 2 {
			return nil, fmt.Errorf("logger: uds: read dddi 0x%04X: short response", g.did)
		}
		data := resp[2:]

		offset := 0
		for _, idx := range g.paramIdxs {
			p := v.Params[idx]
			if offset+p.Size > len(data) {
				return nil, fmt.Errorf("logger: uds: read dddi 0x%04X: response too short for %s", g.did, p.Name)
			}
			var value uint32
			for j := 0; j < p.Size; j++ {
				value = value<<8 | uint32(data[offset+j])
			}
			out[idx] = value
			offset += p.Size
		}
	}
	return out, nil
}

// UDSSlowVariant samples each parameter with its own read-memory-by-
// address request (service 0x23) for ECUs that reject DDDIs
// (UDSSlowLoggerImpl, spec.md §4.8 "UDS slow variant"). No grouping is
// possible, so sampling cost is one request per parameter.
type UDSSlowVariant struct {
	Proc   steps.RequestProcessor
	Params []LogParameter
}

const udsSlowDataFormat = 0x14 // (dataLength=1 << 4) | addrLength=4

// Register enters the extended diagnostic session (0x10 0x03); there
// is nothing else to set up per parameter (UDSSlowLoggerImpl::registerParameters).
func (v *UDSSlowVariant) Register(ctx context.Context, timeout time.Duration) error {
	if _, err := v.Proc.Process(ctx, 0x10, []byte{0x03}, timeout); err != nil {
		return fmt.Errorf("logger: uds-slow: diagnostic session: %w", err)
	}
	return nil
}

// Sample issues one 0x23 read-memory-by-address request per parameter,
// serially (UDSSlowLoggerImpl::requestMemory).
func (v *UDSSlowVariant) Sample(ctx context.Context, timeout time.Duration) ([]uint32, error) {
	out := make([]uint32, len(v.Params))
	for i, p := range v.Params {
		params := []byte{
			udsSlowDataFormat,
			byte(p.Address >> 24), byte(p.Address >> 16), byte(p.Address >> 8), byte(p.Address),
			byte(p.Size),
		}
		data, err := v.Proc.Process(ctx, 0x23, params, timeout)
		if err != nil {
			return nil, fmt.Errorf("logger: uds-slow: read %s: %w", p.Name, err)
		}
		if len(data) < p.Size {
			return nil, fmt.Errorf("logger: uds-slow: read %s: short response", p.Name)
		}
		var value uint32
		for j := 0; j < p.Size; j++ {
			value = value<<8 | uint32(data[j])
		}
		out[i] = value
	}
	return out, nil
}
