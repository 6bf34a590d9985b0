// Package steps implements the shared protocol building blocks the
// flasher and pin finder both drive: fall_asleep, keep_alive, authorize,
// wake_up, request_download, erase, transfer_data, start_routine
// (spec.md §4.6).
package steps

import (
	"context"
	"fmt"
	"time"

	"github.com/volvotools/vagdiag/internal/uds"
)

// RequestProcessor is the shared contract d2.Processor, uds.Processor
// and tp20.Processor all satisfy (spec.md §4.5), letting every step in
// this package work across all three wire protocols.
type RequestProcessor interface {
	Process(ctx context.Context, serviceByte byte, params []byte, timeout time.Duration) ([]byte, error)
}

// generateKeyImpl ports UDSProtocolCommonSteps.cpp's bit-exact scramble:
// 32 rounds feeding one bit of input into hash at a time.
func generateKeyImpl(hash, input uint32) uint32 {
	for i := 0; i < 32; i++ {
		isBitSet := (hash^input)&1 != 0
		input >>= 1
		hash >>= 1
		if isBitSet {
			hash = (hash | 0x800000) ^ 0x109028
		}
	}
	return hash
}

// GenerateKey computes the 24-bit Volvo security-access key from a 5-byte
// pin and a 3-byte seed (spec.md §4.6, bit-exact fixture in §8).
func GenerateKey(pin [5]byte, seed [3]byte) uint32 {
	highPart := uint32(pin[4])<<24 | uint32(pin[3])<<16 | uint32(pin[2])<<8 | uint32(pin[1])
	lowPart := uint32(pin[0])<<24 | uint32(seed[2])<<16 | uint32(seed[1])<<8 | uint32(seed[0])

	hash := uint32(0xC541A9)
	hash = generateKeyImpl(hash, lowPart)
	hash = generateKeyImpl(hash, highPart)

	return ((hash & 0xF00000) >> 12) | (hash & 0xF000) | (uint32(byte(16*hash))) |
		((hash & 0xFF0) << 12) | ((hash & 0xF0000) >> 16)
}

// Authorize runs the seed/key security-access handshake: request seed
// (service 0x27 sub-function 0x01), compute the key, send it back
// (sub-function 0x02). It retries up to 5 times, sleeping 5s between
// attempts on any transport error, RequiredTimeDelayHasNotExpired (0x37)
// included; a rejected key is retried without sleeping
// (spec.md §4.6, §9 "replacing exceptions for control flow").
func Authorize(ctx context.Context, p RequestProcessor, pin [5]byte, timeout time.Duration) error {
	for attempt := 0; attempt < 5; attempt++ {
		seedResp, err := p.Process(ctx, 0x27, []byte{0x01}, timeout)
		if err != nil {
			if sleepOrDone(ctx, 5*time.Second) {
				return ctx.Err()
			}
			continue
		}
		if len(seedResp) < 3 {
			if sleepOrDone(ctx, 5*time.Second) {
				return ctx.Err()
			}
			continue
		}
		seed := [3]byte{seedResp[len(seedResp)-3], seedResp[len(seedResp)-2], seedResp[len(seedResp)-1]}
		key := GenerateKey(pin, seed)

		keyResp, err := p.Process(ctx, 0x27, []byte{0x02, byte(key >> 16), byte(key >> 8), byte(key)}, timeout)
		if err != nil {
			if sleepOrDone(ctx, 5*time.Second) {
				return ctx.Err()
			}
			continue
		}
		if len(keyResp) >= 1 && keyResp[0] == 0x02 {
			return nil
		}
	}
	return fmt.Errorf("steps: authorize: exhausted retries")
}

func asUDSError(err error) (*uds.Error, bool) {
	ue, ok := err.(*uds.Error)
	return ue, ok
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return false
	case <-ctx.Done():
		return true
	}
}
