package flasher

import (
	"context"
	"fmt"
	"time"

	"github.com/volvotools/vagdiag/internal/adapter"
	"github.com/volvotools/vagdiag/internal/steps"
	"github.com/volvotools/vagdiag/internal/support/cipher"
	"github.com/volvotools/vagdiag/internal/support/compress"
	"github.com/volvotools/vagdiag/internal/vbf"
)

// StepName identifies one step in a Plan for progress reporting
// (FlasherStep.hpp).
type StepName int

const (
	StepOpenChannels StepName = iota
	StepFallingAsleep
	StepAuthorizing
	StepProgrammingSession
	StepBootloaderLoading
	StepFlashErasing
	StepFlashLoading
	StepReadFlash
	StepWakeUp
	StepCloseChannels
)

func (s StepName) String() string {
	switch s {
	case StepOpenChannels:
		return "OpenChannels"
	case StepFallingAsleep:
		return "FallingAsleep"
	case StepAuthorizing:
		return "Authorizing"
	case StepProgrammingSession:
		return "ProgrammingSession"
	case StepBootloaderLoading:
		return "BootloaderLoading"
	case StepFlashErasing:
		return "FlashErasing"
	case StepFlashLoading:
		return "FlashLoading"
	case StepReadFlash:
		return "ReadFlash"
	case StepWakeUp:
		return "WakeUp"
	case StepCloseChannels:
		return "CloseChannels"
	default:
		return "Unknown"
	}
}

// Step is one unit of work in a flash Plan. SkipOnError mirrors
// UDSStep::process(previousFailed): steps marked skippable are not run
// once an earlier step has failed, but WakeUp/CloseChannels (and any
// other step built with SkipOnError=false) always run, guaranteeing the
// bus is woken back up even after a failed flash (spec.md §8 scenario 5).
type Step struct {
	Name        StepName
	State       State
	MaxProgress int
	SkipOnError bool
	Fn          func(ctx context.Context, report func(delta int)) error
}

// Plan is an ordered sequence of Steps sharing one RequestProcessor.
type Plan struct {
	Steps []Step

	// OnState is called with the flasher's coarse state before each step
	// runs (and finally with StateDone or StateError).
	OnState func(State)
	// OnProgress is called with (current, max) after every progress delta,
	// current monotonically increasing across the whole plan.
	OnProgress func(current, max int)
}

// Run executes every step in order. A step failure sets the overall
// result to StateError but does not stop the loop: every remaining step
// still runs, with SkipOnError steps turned into no-ops so their
// progress is still accounted for (UDSFlasher::flash's failed-bool
// threading, spec.md §9).
func (p *Plan) Run(ctx context.Context) error {
	totalMax := 0
	for _, s := range p.Steps {
		totalMax += s.MaxProgress
	}

	current := 0
	previousFailed := false
	var firstErr error

	report := func(delta int) {
		current += delta
		if p.OnProgress != nil {
			p.OnProgress(current, totalMax)
		}
	}

	for _, s := range p.Steps {
		before := current
		if p.OnState != nil {
			p.OnState(s.State)
		}

		var err error
		if previousFailed && s.SkipOnError {
			err = nil
		} else {
			err = s.Fn(ctx, report)
			if err != nil {
				previousFailed = true
				if firstErr == nil {
					firstErr = fmt.Errorf("flasher: step %s: %w", s.Name, err)
				}
			}
		}

		// Progress always reaches this step's max, success or not
		// (FlasherStep.cpp's unconditional setProgress(maxProgress)).
		if current-before < s.MaxProgress {
			report(s.MaxProgress - (current - before))
		}
	}

	if firstErr != nil {
		if p.OnState != nil {
			p.OnState(StateError)
		}
		return firstErr
	}
	if p.OnState != nil {
		p.OnState(StateDone)
	}
	return nil
}

// Params bundles everything a plan constructor needs: the negotiated
// transport channels, the target ECU's security pin, and the VBF image
// being flashed.
type Params struct {
	Channels       []adapter.Channel
	Pin            [5]byte
	Image          vbf.VBF
	RequestTimeout time.Duration
	BootloaderCall uint32

	// Compressor and Cipher, when non-nil, are applied to every chunk's
	// data (decrypt, then decompress) before it is transferred,
	// mirroring VolvoFlasher.cpp's FlasherParameters accepting a
	// CompressorFactory/EncryptorFactory product ahead of the image it
	// flashes — used for binary images that were compressed/encrypted
	// at rest rather than carried as plain VBF chunks.
	Compressor compress.Compressor
	Cipher     cipher.Cipher
}

func (p Params) unwrapChunk(c vbf.Chunk) vbf.Chunk {
	data := c.Data
	if p.Cipher != nil {
		data = p.Cipher.Decrypt(data)
	}
	if p.Compressor != nil {
		data = p.Compressor.Decompress(data)
	}
	c.Data = data
	return c
}

// NewUDSFlashPlan builds the standard UDS flash sequence: open channels,
// sleep the bus, authorize, load the SBL/bootloader chunk(s), erase,
// write the remaining data chunks, wake up, close channels
// (UDSFlasher.cpp's step list). D2 and KWP flashing have their own step
// sequences (NewD2FlashPlan, NewKWPFlashPlan) because their wire formats
// and authorization handshakes are not drop-in replacements for UDS's —
// only KWP's write-flash step happens to share UDS's wire format closely
// enough to reuse transferChunksStep below.
func NewUDSFlashPlan(proc steps.RequestProcessor, p Params) *Plan {
	return newFlashPlan(proc, p)
}

func newFlashPlan(proc steps.RequestProcessor, p Params) *Plan {
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
				err := steps.FallAsleep(ctx, p.Channels)
				report(2)
				return err
			},
		},
		Step{
			Name: StepAuthorizing, State: StateAuthorize, MaxProgress: 5, SkipOnError: true,
			Fn: func(ctx context.Context, report func(int)) error {
				err := steps.Authorize(ctx, proc, p.Pin, p.RequestTimeout)
				report(5)
				return err
			},
		},
	)

	if len(bootloaderChunks) > 0 {
		plan.Steps = append(plan.Steps, transferChunksStep(proc, StepBootloaderLoading, StateWriteFlash, bootloaderChunks, p.RequestTimeout))
		if p.BootloaderCall != 0 {
			plan.Steps = append(plan.Steps, Step{
				Name: StepBootloaderLoading, State: StateWriteFlash, MaxProgress: 1, SkipOnError: true,
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
				if e := steps.Erase(ctx, proc, region.Start, region.End-region.Start, p.RequestTimeout); e != nil {
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

// transferChunksStep requests a download and streams every chunk's data,
// reporting progress in bytes (UDSProtocolCommonSteps::transferChunk).
func transferChunksStep(proc steps.RequestProcessor, name StepName, state State, chunks []vbf.Chunk, timeout time.Duration) Step {
	totalBytes := 0
	for _, c := range chunks {
		totalBytes += len(c.Data)
	}
	return Step{
		Name: name, State: state, MaxProgress: totalBytes, SkipOnError: true,
		Fn: func(ctx context.Context, report func(int)) error {
			for _, c := range chunks {
				maxBlock, err := steps.RequestDownload(ctx, proc, c.WriteOffset, uint32(len(c.Data)), timeout)
				if err != nil {
					return err
				}
				if err := steps.TransferData(ctx, proc, c.Data, maxBlock, uint16(c.CRC), report, timeout); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
