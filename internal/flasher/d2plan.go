package flasher

import (
	"context"
	"time"

	"github.com/volvotools/vagdiag/internal/adapter"
	"github.com/volvotools/vagdiag/internal/d2"
	"github.com/volvotools/vagdiag/internal/vbf"
)

// NewD2FlashPlan builds the D2 bootloader flash sequence
// (D2FlasherBase::startImpl, specialized by D2Flasher.cpp's
// erase/write steps). Unlike UDS and KWP it has no Authorize step — the
// D2 bootloader protocol has no security-access concept at all — and
// talks raw command bytes instead of UDS/KWP service IDs, so it is built
// from internal/d2's flash-step primitives rather than internal/steps.
func NewD2FlashPlan(ecuID d2.EcuID, p Params) *Plan {
	channel := p.Channels[0]

	var bootloaderChunks, dataChunks []vbf.Chunk
	for _, c := range p.Image.Chunks {
		c = p.unwrapChunk(c)
		if p.Image.Header.SWPartType == vbf.SWPartSBL {
			bootloaderChunks = append(bootloaderChunks, c)
		} else {
			dataChunks = append(dataChunks, c)
		}
	}
	if len(bootloaderChunks) == 0 && len(dataChunks) == 0 && len(p.Image.Chunks) > 0 {
		dataChunks = p.Image.Chunks
	}

	plan := &Plan{}
	plan.Steps = append(plan.Steps,
		Step{
			Name: StepOpenChannels, State: StateOpenChannels, MaxProgress: 1, SkipOnError: false,
			Fn: func(ctx context.Context, report func(int)) error {
				report(1)
				return nil
			},
		},
		Step{
			Name: StepFallingAsleep, State: StateFallAsleep, MaxProgress: 2, SkipOnError: false,
			Fn: func(ctx context.Context, report func(int)) error {
				if sleepOrDoneD2(ctx, time.Second) {
					report(2)
					return ctx.Err()
				}
				d2.WakeUp(p.Channels)
				err := d2.FallAsleep(ctx, p.Channels)
				report(2)
				return err
			},
		},
		Step{
			Name: StepBootloaderLoading, State: StateStartBootloader, MaxProgress: 1, SkipOnError: true,
			Fn: func(ctx context.Context, report func(int)) error {
				err := d2.StartPBL(channel, ecuID)
				report(1)
				return err
			},
		},
	)

	if len(bootloaderChunks) > 0 {
		plan.Steps = append(plan.Steps, d2TransferStep(channel, ecuID, StepBootloaderLoading, StateLoadBootloader, bootloaderChunks))
		if p.BootloaderCall != 0 {
			plan.Steps = append(plan.Steps, Step{
				Name: StepBootloaderLoading, State: StateStartBootloader, MaxProgress: 1, SkipOnError: true,
				Fn: func(ctx context.Context, report func(int)) error {
					err := d2.StartRoutine(ctx, channel, ecuID, p.BootloaderCall)
					report(1)
					return err
				},
			})
		}
	}

	plan.Steps = append(plan.Steps, Step{
		Name: StepFlashErasing, State: StateEraseFlash, MaxProgress: 10, SkipOnError: true,
		Fn: func(ctx context.Context, report func(int)) error {
			err := d2.EraseFlash(ctx, channel, ecuID, p.Image.Header.Erase)
			report(10)
			return err
		},
	})

	plan.Steps = append(plan.Steps, d2TransferStep(channel, ecuID, StepFlashLoading, StateWriteFlash, dataChunks))

	plan.Steps = append(plan.Steps,
		Step{
			Name: StepWakeUp, State: StateWakeUp, MaxProgress: 2, SkipOnError: false,
			Fn: func(ctx context.Context, report func(int)) error {
				d2.WakeUp(p.Channels)
				if sleepOrDoneD2(ctx, 2*time.Second) {
					report(2)
					return ctx.Err()
				}
				now := time.Now()
				err := d2.SetDashboardClock(p.Channels, uint8(now.Hour()), uint8(now.Minute()))
				report(2)
				return err
			},
		},
		Step{
			Name: StepCloseChannels, State: StateCloseChannels, MaxProgress: 1, SkipOnError: false,
			Fn: func(ctx context.Context, report func(int)) error {
				report(1)
				return nil
			},
		},
	)

	return plan
}

// d2TransferStep wraps d2.WriteData as a Plan step, reporting progress in
// bytes the way transferChunksStep does for UDS/KWP.
func d2TransferStep(channel adapter.Channel, ecuID d2.EcuID, name StepName, state State, chunks []vbf.Chunk) Step {
	totalBytes := 0
	for _, c := range chunks {
		totalBytes += len(c.Data)
	}
	return Step{
		Name: name, State: state, MaxProgress: totalBytes, SkipOnError: true,
		Fn: func(ctx context.Context, report func(int)) error {
			return d2.WriteData(ctx, channel, ecuID, chunks, report)
		},
	}
}

// ReadParams bundles what a D2 memory-dump read needs: the channels to
// drive, the target ECU, the byte range to read, and the per-request
// timeout budget.
type ReadParams struct {
	Channels       []adapter.Channel
	EcuID          d2.EcuID
	Start, Size    uint32
	RequestTimeout time.Duration
}

// NewD2ReadPlan builds the D2 bootloader memory-dump sequence
// (D2Reader::readFunction): sleep the bus, start the primary bootloader,
// then read the target range one byte at a time via the bootloader's
// additive-checksum-of-a-single-byte trick, finally waking the bus back
// up. out accumulates the read bytes in order; a byte the ECU doesn't
// answer for within one read window is silently skipped, matching the
// original's unconditional continue on a missing 0xB1 ack.
func NewD2ReadPlan(p ReadParams, out *[]byte) *Plan {
	channel := p.Channels[0]

	plan := &Plan{}
	plan.Steps = append(plan.Steps,
		Step{
			Name: StepOpenChannels, State: StateOpenChannels, MaxProgress: 1, SkipOnError: false,
			Fn: func(ctx context.Context, report func(int)) error {
				report(1)
				return nil
			},
		},
		Step{
			Name: StepFallingAsleep, State: StateFallAsleep, MaxProgress: 1, SkipOnError: false,
			Fn: func(ctx context.Context, report func(int)) error {
				err := d2.FallAsleep(ctx, p.Channels)
				if sleepOrDoneD2(ctx, time.Second) {
					report(1)
					return ctx.Err()
				}
				report(1)
				return err
			},
		},
		Step{
			Name: StepBootloaderLoading, State: StateStartBootloader, MaxProgress: 1, SkipOnError: true,
			Fn: func(ctx context.Context, report func(int)) error {
				err := d2.StartPBL(channel, p.EcuID)
				if err == nil && sleepOrDoneD2(ctx, time.Second) {
					report(1)
					return ctx.Err()
				}
				report(1)
				return err
			},
		},
		Step{
			Name: StepReadFlash, State: StateReadFlash, MaxProgress: int(p.Size), SkipOnError: true,
			Fn: func(ctx context.Context, report func(int)) error {
				*out = make([]byte, 0, p.Size)
				for i := uint32(0); i < p.Size; i++ {
					pos := p.Start + i
					if err := d2.SetMemoryAddress(ctx, channel, p.EcuID, pos); err != nil {
						return err
					}
					value, ok, err := d2.ReadChecksumByte(channel, p.EcuID, pos+1)
					if err != nil {
						return err
					}
					if ok {
						*out = append(*out, value)
					}
					report(1)
				}
				return nil
			},
		},
		Step{
			Name: StepWakeUp, State: StateWakeUp, MaxProgress: 1, SkipOnError: false,
			Fn: func(ctx context.Context, report func(int)) error {
				d2.WakeUp(p.Channels)
				report(1)
				return nil
			},
		},
	)

	return plan
}

func sleepOrDoneD2(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return false
	case <-ctx.Done():
		return true
	}
}
