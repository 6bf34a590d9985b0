package flasher

import (
	"context"

	"github.com/volvotools/vagdiag/internal/steps"
	"github.com/volvotools/vagdiag/internal/vbf"
)

// NewKWPFlashPlan builds the KWP2000/TP2.0 flash sequence: open channels,
// authorize with the real pin, enter the reflash programming session
// (disconnect/reconnect then re-authorize with a zero pin), erase every
// region, write the SBL/data chunks, wake up, close channels
// (KWPFlasher.cpp's hfsm2 states). Its write-flash wire format
// (0x34/0x36/0x37) is identical to UDS's, so it reuses transferChunksStep
// unchanged rather than duplicating it — see DESIGN.md.
func NewKWPFlashPlan(proc steps.RequestProcessor, p Params) *Plan {
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
			Name: StepAuthorizing, State: StateAuthorize, MaxProgress: 5, SkipOnError: true,
			Fn: func(ctx context.Context, report func(int)) error {
				err := steps.AuthorizeKWP(ctx, proc, p.Pin, p.RequestTimeout)
				report(5)
				return err
			},
		},
		Step{
			Name: StepProgrammingSession, State: StateProgrammingSession, MaxProgress: 2, SkipOnError: true,
			Fn: func(ctx context.Context, report func(int)) error {
				err := steps.EnterProgrammingSession(ctx, proc, p.RequestTimeout)
				report(2)
				return err
			},
		},
	)

	if len(bootloaderChunks) > 0 {
		plan.Steps = append(plan.Steps, transferChunksStep(proc, StepBootloaderLoading, StateLoadBootloader, bootloaderChunks, p.RequestTimeout))
		if p.BootloaderCall != 0 {
			plan.Steps = append(plan.Steps, Step{
				Name: StepBootloaderLoading, State: StateStartBootloader, MaxProgress: 1, SkipOnError: true,
				Fn: func(ctx context.Context, report func(int)) error {
					err := steps.StartRoutine(ctx, proc, p.BootloaderCall, p.RequestTimeout)
					report(1)
					return err
				},
			})
		}
	}

	plan.Steps = append(plan.Steps, Step{
		Name: StepFlashErasing, State: StateEraseFlash, MaxProgress: 10, SkipOnError: true,
		Fn: func(ctx context.Context, report func(int)) error {
			var err error
			for _, region := range p.Image.Header.Erase {
				if e := steps.EraseFlashKWP(ctx, proc, region.Start, region.End-region.Start, p.RequestTimeout); e != nil {
					err = e
					break
				}
			}
			report(10)
			return err
		},
	})

	plan.Steps = append(plan.Steps, transferChunksStep(proc, StepFlashLoading, StateWriteFlash, dataChunks, p.RequestTimeout))

	plan.Steps = append(plan.Steps,
		Step{
			Name: StepWakeUp, State: StateWakeUp, MaxProgress: 2, SkipOnError: false,
			Fn: func(ctx context.Context, report func(int)) error {
				steps.WakeUp(ctx, p.Channels)
				report(2)
				return nil
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
