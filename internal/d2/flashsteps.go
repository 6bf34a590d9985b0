package d2

import (
	"context"
	"fmt"
	"time"

	"github.com/volvotools/vagdiag/internal/adapter"
	"github.com/volvotools/vagdiag/internal/canframe"
	"github.com/volvotools/vagdiag/internal/support/checksum"
	"github.com/volvotools/vagdiag/internal/vbf"
)

// The D2 flash sequence talks to the ECU's bootloader with raw,
// unframed messages (D2Message::makeD2RawMessage): a single CAN payload
// shaped [ecuId, command, data...], with no header byte and no
// single/first/continuation/final framing at all. This is a different
// wire format from Encode/Decode's diagnostic-request framing, and the
// functions below build and parse it directly instead of going through
// the codec in codec.go (D2ProtocolCommonSteps.cpp, D2Message.cpp).

const (
	writeChunkSize    = 6
	maxFramesPerBatch = 10
)

func rawFrame(ecuID EcuID, cmd byte, data ...byte) [8]byte {
	var f [8]byte
	f[0] = byte(ecuID)
	f[1] = cmd
	copy(f[2:], data)
	return f
}

// matchesAt reports whether data[offset:] starts with want.
func matchesAt(data [8]byte, offset int, want []byte) bool {
	if offset+len(want) > len(data) {
		return false
	}
	for i, w := range want {
		if data[offset+i] != w {
			return false
		}
	}
	return true
}

// writeAndCheck sends frame once and reads up to attempts times (3s per
// read), succeeding as soon as a same-CAN-ID response's payload starting
// at index 1 matches one of toChecks (writeMessagesAndCheckAnswer).
func writeAndCheck(channel adapter.Channel, frame [8]byte, toChecks [][]byte, attempts int) (bool, error) {
	wire := canframe.CanFrame{ID: CanID, Data: frame}.Bytes()
	if _, err := channel.Write([][]byte{wire}, 5*time.Second); err != nil {
		return false, fmt.Errorf("d2: write flash frame: %w", err)
	}
	for i := 0; i < attempts; i++ {
		raw, err := channel.Read(3 * time.Second)
		if err != nil {
			return false, fmt.Errorf("d2: read flash response: %w", err)
		}
		for _, b := range raw {
			f, perr := canframe.ParseCanFrame(b)
			if perr != nil || f.ID != CanID {
				continue
			}
			for _, want := range toChecks {
				if matchesAt(f.Data, 1, want) {
					return true, nil
				}
			}
		}
	}
	return false, nil
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return false
	case <-ctx.Done():
		return true
	}
}

// FallAsleep broadcasts the D2 "go to sleep" raw command (0x86) to ecuId
// 0xFF as a 5ms periodic message held for 3s on every channel
// (D2ProtocolCommonSteps::fallAsleep).
func FallAsleep(ctx context.Context, channels []adapter.Channel) error {
	frame := canframe.CanFrame{ID: CanID, Data: rawFrame(Broadcast, 0x86)}.Bytes()
	handles := make([]adapter.PeriodicHandle, len(channels))
	for i, ch := range channels {
		h, err := ch.StartPeriodic(frame, 5*time.Millisecond)
		if err != nil {
			return fmt.Errorf("d2: fall asleep: start periodic: %w", err)
		}
		handles[i] = h
	}
	if sleepOrDone(ctx, 3*time.Second) {
		for i, ch := range channels {
			_ = ch.StopPeriodic(handles[i])
		}
		return ctx.Err()
	}
	for i, ch := range channels {
		_ = ch.StopPeriodic(handles[i])
	}
	return nil
}

// WakeUp writes the D2 "wake up" raw command (0xC8) to ecuId 0xFF once on
// every channel, with no ack check — it must always run to completion
// even after a failed flash (D2ProtocolCommonSteps::wakeUp).
func WakeUp(channels []adapter.Channel) {
	wire := canframe.CanFrame{ID: CanID, Data: rawFrame(Broadcast, 0xC8)}.Bytes()
	for _, ch := range channels {
		_, _ = ch.Write([][]byte{wire}, 5*time.Second)
	}
}

// StartPBL tells ecuId to start its primary bootloader (raw command
// 0xC0), succeeding once it echoes 0xC6 (D2ProtocolCommonSteps::startPBL).
func StartPBL(channel adapter.Channel, ecuID EcuID) error {
	ok, err := writeAndCheck(channel, rawFrame(ecuID, 0xC0), [][]byte{{0xC6}}, 10)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("d2: start primary bootloader: no response")
	}
	return nil
}

// SetMemoryAddress sets ecuId's active read/write offset to addr (raw
// command 0x9C plus a 4-byte big-endian address), retrying up to 10
// times with a 1s backoff on no response
// (D2ProtocolCommonSteps::writeDataOffsetAndCheckAnswer).
func SetMemoryAddress(ctx context.Context, channel adapter.Channel, ecuID EcuID, addr uint32) error {
	frame := rawFrame(ecuID, 0x9C, byte(addr>>24), byte(addr>>16), byte(addr>>8), byte(addr))
	for attempt := 0; attempt < 10; attempt++ {
		ok, err := writeAndCheck(channel, frame, [][]byte{{0x9C}}, 10)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if sleepOrDone(ctx, time.Second) {
			return ctx.Err()
		}
	}
	return fmt.Errorf("d2: set memory address: ecu did not respond")
}

// EraseFlash erases every region in the flash image's header: set the
// region's start as the active offset, wait 1s, then send the erase
// command (raw 0xF8) and accept either 0xF9,0x00 or 0xF9,0x02 as the
// "erased" echo, over up to 30 reads (D2ProtocolCommonSteps::eraseFlash).
func EraseFlash(ctx context.Context, channel adapter.Channel, ecuID EcuID, regions []vbf.EraseRegion) error {
	for _, region := range regions {
		if err := SetMemoryAddress(ctx, channel, ecuID, region.Start); err != nil {
			return err
		}
		if sleepOrDone(ctx, time.Second) {
			return ctx.Err()
		}
		ok, err := writeAndCheck(channel, rawFrame(ecuID, 0xF8), [][]byte{{0xF9, 0x00}, {0xF9, 0x02}}, 30)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("d2: erase flash: ecu did not confirm erase")
		}
	}
	return nil
}

// buildWriteDataFrames splits data into raw 6-byte write frames (command
// 0xA8+len(piece)), followed by one empty 0xA8 terminator frame
// (D2Messages::createWriteDataMsgs).
func buildWriteDataFrames(ecuID EcuID, data []byte) [][8]byte {
	frames := make([][8]byte, 0, len(data)/writeChunkSize+2)
	for i := 0; i < len(data); i += writeChunkSize {
		end := i + writeChunkSize
		if end > len(data) {
			end = len(data)
		}
		piece := data[i:end]
		frames = append(frames, rawFrame(ecuID, 0xA8+byte(len(piece)), piece...))
	}
	frames = append(frames, rawFrame(ecuID, 0xA8))
	return frames
}

// WriteData transfers every chunk's data: set the write offset, stream
// the 6-byte-piece frames in batches of up to 10 per write call
// (progress is reported as 6*framesInBatch per batch, matching the
// original's byte accounting even for a short trailing piece), set the
// offset again, then verify the chunk's additive checksum via the 0xB4
// command (D2ProtocolCommonSteps::transferData).
func WriteData(ctx context.Context, channel adapter.Channel, ecuID EcuID, chunks []vbf.Chunk, progress func(int)) error {
	for _, c := range chunks {
		if err := SetMemoryAddress(ctx, channel, ecuID, c.WriteOffset); err != nil {
			return err
		}

		frames := buildWriteDataFrames(ecuID, c.Data)
		for i := 0; i < len(frames); i += maxFramesPerBatch {
			end := i + maxFramesPerBatch
			if end > len(frames) {
				end = len(frames)
			}
			batch := frames[i:end]
			wire := make([][]byte, len(batch))
			for j, f := range batch {
				wire[j] = canframe.CanFrame{ID: CanID, Data: f}.Bytes()
			}
			if _, err := channel.Write(wire, 50*time.Second); err != nil {
				return fmt.Errorf("d2: write data: %w", err)
			}
			if progress != nil {
				progress(writeChunkSize * len(batch))
			}
		}

		if err := SetMemoryAddress(ctx, channel, ecuID, c.WriteOffset); err != nil {
			return err
		}

		endOffset := c.WriteOffset + uint32(len(c.Data))
		sum := checksum.AdditiveChecksum(c.Data)
		checkFrame := rawFrame(ecuID, 0xB4, byte(endOffset>>24), byte(endOffset>>16), byte(endOffset>>8), byte(endOffset))
		ok, err := writeAndCheck(channel, checkFrame, [][]byte{{0xB1, sum}}, 10)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("d2: write data: checksum mismatch")
		}
	}
	return nil
}

// StartRoutine sets the jump address and calls it (raw command 0xA0,
// zero extra data bytes — createJumpToMsg(ecuId) is called here with its
// data1..data6 arguments defaulted), succeeding once the ECU echoes 0xA0
// (D2ProtocolCommonSteps::startRoutine).
func StartRoutine(ctx context.Context, channel adapter.Channel, ecuID EcuID, addr uint32) error {
	if err := SetMemoryAddress(ctx, channel, ecuID, addr); err != nil {
		return err
	}
	ok, err := writeAndCheck(channel, rawFrame(ecuID, 0xA0), [][]byte{{0xA0}}, 10)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("d2: start routine: ecu did not respond")
	}
	return nil
}

// SetDashboardClock writes the current local time of day to the DIM ECU
// on every channel, fire-and-forget like WakeUp. D2Messages::setCurrentTime
// builds this one through the header-framed constructor rather than a raw
// message, so it is the one flash-step message built with Encode instead
// of rawFrame; D2ProtocolCommonSteps::setDIMTime's own body wasn't present
// in the retrieved sources (see DESIGN.md), so this reconstructs it from
// setCurrentTime's documented message shape and D2FlasherBase's commented-out
// canWakeUp() override, which shows the same write repeated per call site.
func SetDashboardClock(channels []adapter.Channel, hour, minute uint8) error {
	value := uint16(minute) + uint16(hour)*60
	frames := Encode(DIM, []byte{0xB0, 0x07, 0x01, 0xFF}, []byte{byte(value >> 8), byte(value)})
	wire := make([][]byte, len(frames))
	for i, f := range frames {
		wire[i] = canframe.CanFrame{ID: CanID, Data: f}.Bytes()
	}
	for _, ch := range channels {
		if _, err := ch.Write(wire, 5*time.Second); err != nil {
			return fmt.Errorf("d2: set dashboard clock: %w", err)
		}
	}
	return nil
}

// ReadChecksumByte requests the additive checksum of the byte range
// ending at addr (raw command 0xB4) and returns its single trailing byte:
// over a one-byte range the fold-to-a-single-byte result is the byte
// itself, which is how D2Reader pulls memory one byte at a time. It is a
// single write/read, not retried — when the ECU doesn't answer within
// one 3s read this reports ok=false rather than an error, matching
// D2Reader.cpp silently skipping that position (D2Reader::readFunction,
// writeMessagesAndReadMessage).
func ReadChecksumByte(channel adapter.Channel, ecuID EcuID, addr uint32) (value byte, ok bool, err error) {
	frame := rawFrame(ecuID, 0xB4, byte(addr>>24), byte(addr>>16), byte(addr>>8), byte(addr))
	wire := canframe.CanFrame{ID: CanID, Data: frame}.Bytes()
	if _, err := channel.Write([][]byte{wire}, 5*time.Second); err != nil {
		return 0, false, fmt.Errorf("d2: read checksum byte: %w", err)
	}
	raw, err := channel.Read(3 * time.Second)
	if err != nil {
		return 0, false, fmt.Errorf("d2: read checksum byte: %w", err)
	}
	for _, b := range raw {
		f, perr := canframe.ParseCanFrame(b)
		if perr != nil || f.ID != CanID {
			continue
		}
		if f.Data[1] == 0xB1 {
			return f.Data[2], true, nil
		}
	}
	return 0, false, nil
}
