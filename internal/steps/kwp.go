package steps

import (
	"context"
	"fmt"
	"time"
)

// SessionResetter is implemented by transports that can tear down and
// re-establish their session-level connection, which
// EnterProgrammingSession needs for its disconnect/reconnect handshake.
// tp20.Processor implements it; uds.Processor, being stateless over a
// raw channel, does not need to.
type SessionResetter interface {
	ResetSession(ctx context.Context) error
}

// generateKeyCommonKWP ports KWPProtocolCommonSteps::generateKeyCommon: 5
// rounds, each either XORing in a fixed constant after a 1-bit left
// rotation (when the pre-rotation sign bit was set) or just rotating.
func generateKeyCommonKWP(seed uint32) uint32 {
	for i := 0; i < 5; i++ {
		signSet := seed&0x80000000 != 0
		seed = seed<<1 | seed>>31
		if signSet {
			seed ^= 0x5FBD5DBD
		}
	}
	return seed
}

// AuthorizeKWP runs KWP's seed/key handshake (service 0x27). pin is
// accepted for signature parity with Authorize but, matching
// KWPProtocolCommonSteps::authorize, is never actually used by
// generateKeyCommonKWP — the key depends only on the seed.
func AuthorizeKWP(ctx context.Context, p RequestProcessor, pin [5]byte, timeout time.Duration) error {
	_ = pin
	seedResp, err := p.Process(ctx, 0x27, []byte{0x01}, timeout)
	if err != nil {
		return fmt.Errorf("steps: authorize kwp: request seed: %w", err)
	}
	if len(seedResp) < 5 {
		return fmt.Errorf("steps: authorize kwp: short seed response")
	}
	seed := uint32(seedResp[4])<<24 | uint32(seedResp[3])<<16 | uint32(seedResp[2])<<8 | uint32(seedResp[1])
	key := generateKeyCommonKWP(seed)

	keyResp, err := p.Process(ctx, 0x27, []byte{0x02, byte(key >> 24), byte(key >> 16), byte(key >> 8), byte(key)}, timeout)
	if err != nil {
		return fmt.Errorf("steps: authorize kwp: send key: %w", err)
	}
	if len(keyResp) < 2 || keyResp[1] != 0x34 {
		return fmt.Errorf("steps: authorize kwp: key rejected")
	}
	return nil
}

// EnterProgrammingSession runs KWPProtocolCommonSteps::enterProgrammingSession:
// request the diagnostic session (0x10 0x85), wait, drop and reopen the
// transport session, then re-authorize with an all-zero pin.
func EnterProgrammingSession(ctx context.Context, p RequestProcessor, timeout time.Duration) error {
	if _, err := p.Process(ctx, 0x10, []byte{0x85}, timeout); err != nil {
		return fmt.Errorf("steps: enter programming session: %w", err)
	}
	if sleepOrDone(ctx, 500*time.Millisecond) {
		return ctx.Err()
	}
	resetter, ok := p.(SessionResetter)
	if !ok {
		return fmt.Errorf("steps: enter programming session: transport cannot reset session")
	}
	if err := resetter.ResetSession(ctx); err != nil {
		return fmt.Errorf("steps: enter programming session: reset: %w", err)
	}
	return AuthorizeKWP(ctx, p, [5]byte{}, timeout)
}

// addr24 returns the low 3 bytes of v's big-endian representation,
// mirroring toVector(uint32)'s 4-byte split truncated the way
// KWPProtocolCommonSteps::eraseFlash's wire format does.
func addr24(v uint32) [3]byte {
	return [3]byte{byte(v >> 16), byte(v >> 8), byte(v)}
}

// EraseFlashKWP erases [writeOffset, writeOffset+size) with the 0x31 0xC4
// service. The original validates nothing beyond the absence of a
// transport exception, so a nil error here is the only success signal
// (KWPProtocolCommonSteps::eraseFlash).
func EraseFlashKWP(ctx context.Context, p RequestProcessor, writeOffset, size uint32, timeout time.Duration) error {
	start := addr24(writeOffset)
	end := addr24(writeOffset + size)
	params := []byte{start[0], start[1], start[2], end[0], end[1], end[2], 0, 1, 2, 3, 4, 5}
	if _, err := p.Process(ctx, 0x31, append([]byte{0xC4}, params...), timeout); err != nil {
		return fmt.Errorf("steps: erase flash kwp: %w", err)
	}
	return nil
}
