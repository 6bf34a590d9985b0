package steps

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/volvotools/vagdiag/internal/adapter"
	"github.com/volvotools/vagdiag/internal/uds"
)

// broadcastCanID is the UDS functional-addressing id FallAsleep/KeepAlive/
// WakeUp send on, independent of the target ECU's physical id.
const broadcastCanID = uds.BroadcastID

// FallAsleep sends a broadcast "go to sleep" (0x10 0x02) periodic message
// on every channel for 2s, then stops it (UDSProtocolCommonSteps::fallAsleep).
func FallAsleep(ctx context.Context, channels []adapter.Channel) error {
	return pulseBroadcast(ctx, channels, []byte{0x10, 0x02}, 5*time.Millisecond, 2*time.Second)
}

// KeepAlive starts the 1900ms UDS TesterPresent (0x3E 0x80) periodic
// message on channel and returns its handle so the caller can stop it
// when the session ends (UDSProtocolCommonSteps::keepAlive).
func KeepAlive(channel adapter.Channel) (adapter.PeriodicHandle, error) {
	frame := udsBroadcastFrame([]byte{0x3E, 0x80})
	return channel.StartPeriodic(frame, 1900*time.Millisecond)
}

// WakeUp sends two broadcast bursts (0x11 0x11, then 0x11 0x81) for 200ms
// each, used to bring the bus back up after a flash regardless of
// whether earlier flasher steps succeeded (UDSProtocolCommonSteps::wakeUp).
// It always runs to completion; callers must not skip it on error
// (spec.md §4.6, §8 scenario 5).
func WakeUp(ctx context.Context, channels []adapter.Channel) {
	for _, subFunc := range []byte{0x11, 0x81} {
		_ = pulseBroadcast(ctx, channels, []byte{0x11, subFunc}, 20*time.Millisecond, 200*time.Millisecond)
	}
}

func pulseBroadcast(ctx context.Context, channels []adapter.Channel, payload []byte, interval, hold time.Duration) error {
	frame := udsBroadcastFrame(payload)
	handles := make([]adapter.PeriodicHandle, len(channels))
	for i, ch := range channels {
		h, err := ch.StartPeriodic(frame, interval)
		if err != nil {
			return fmt.Errorf("steps: start periodic: %w", err)
		}
		handles[i] = h
	}
	select {
	case <-time.After(hold):
	case <-ctx.Done():
	}
	for i, ch := range channels {
		_ = ch.StopPeriodic(handles[i])
	}
	return nil
}

func udsBroadcastFrame(payload []byte) []byte {
	out := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(out[0:4], broadcastCanID)
	copy(out[4:], payload)
	return out
}

// RequestDownload issues service 0x34 for one VBF chunk and returns the
// maximum per-block transfer size the ECU reports
// (UDSProtocolCommonSteps::transferChunk's request-download half).
func RequestDownload(ctx context.Context, p RequestProcessor, writeOffset, dataSize uint32, timeout time.Duration) (int, error) {
	params := []byte{
		0x00, 0x44,
		byte(writeOffset >> 24), byte(writeOffset >> 16), byte(writeOffset >> 8), byte(writeOffset),
		byte(dataSize >> 24), byte(dataSize >> 16), byte(dataSize >> 8), byte(dataSize),
	}
	resp, err := p.Process(ctx, 0x34, params, timeout)
	if err != nil {
		return 0, fmt.Errorf("steps: request download: %w", err)
	}
	if len(resp) < 2 {
		return 0, fmt.Errorf("steps: request download: short response")
	}
	maxSize := int(uint16(resp[0])<<8|uint16(resp[1])) - 2
	if maxSize <= 0 {
		return 0, fmt.Errorf("steps: request download: non-positive max transfer size")
	}
	return maxSize, nil
}

// TransferData streams chunkData to the ECU in maxBlockSize-sized blocks
// via service 0x36, then closes the transfer with service 0x37 carrying
// the chunk's CRC (UDSProtocolCommonSteps::transferChunk/transferData).
// progress is called after each block with the number of bytes just sent.
func TransferData(ctx context.Context, p RequestProcessor, chunkData []byte, maxBlockSize int, crc uint16, progress func(int), timeout time.Duration) error {
	blockIndex := byte(1)
	for offset := 0; offset < len(chunkData); {
		end := offset + maxBlockSize
		if end > len(chunkData) {
			end = len(chunkData)
		}
		params := make([]byte, 0, 1+end-offset)
		params = append(params, blockIndex)
		params = append(params, chunkData[offset:end]...)
		if _, err := p.Process(ctx, 0x36, params, timeout); err != nil {
			return fmt.Errorf("steps: transfer data: block %d: %w", blockIndex, err)
		}
		if progress != nil {
			progress(end - offset)
		}
		offset = end
		blockIndex++
	}
	if _, err := p.Process(ctx, 0x37, []byte{byte(crc >> 8), byte(crc)}, timeout); err != nil {
		return fmt.Errorf("steps: transfer data: exit: %w", err)
	}
	return nil
}

// Erase runs the erase-flash routine (service 0x31, routine 0x01FF00)
// over a write offset/size, retrying up to 10 times with a 500ms
// backoff when the routine reports it isn't done yet
// (UDSProtocolCommonSteps::eraseFlash).
func Erase(ctx context.Context, p RequestProcessor, writeOffset, size uint32, timeout time.Duration) error {
	params := []byte{
		0x01, 0xFF, 0x00,
		byte(writeOffset >> 24), byte(writeOffset >> 16), byte(writeOffset >> 8), byte(writeOffset),
		byte(size >> 24), byte(size >> 16), byte(size >> 8), byte(size),
	}
	for attempt := 0; attempt < 10; attempt++ {
		resp, err := p.Process(ctx, 0x31, params, timeout)
		if err == nil && len(resp) >= 3 && resp[0] == 0x01 && resp[1] == 0xFF && resp[2] == 0x00 {
			return nil
		}
		select {
		case <-time.After(500 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("steps: erase: exhausted retries")
}

// StartRoutine calls the start-routine-by-address service (0x31 0x01
// 0x03 0x01 <addr>), used to jump into the downloaded bootloader/program
// (UDSProtocolCommonSteps::startRoutine).
func StartRoutine(ctx context.Context, p RequestProcessor, addr uint32, timeout time.Duration) error {
	params := []byte{0x01, 0x03, 0x01, byte(addr >> 24), byte(addr >> 16), byte(addr >> 8), byte(addr)}
	resp, err := p.Process(ctx, 0x31, params, timeout)
	if err != nil {
		return fmt.Errorf("steps: start routine: %w", err)
	}
	if len(resp) < 3 || resp[0] != 0x01 || resp[1] != 0x03 || resp[2] != 0x01 {
		return fmt.Errorf("steps: start routine: unexpected response")
	}
	return nil
}
