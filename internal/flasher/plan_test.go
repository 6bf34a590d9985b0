package flasher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volvotools/vagdiag/internal/vbf"
)

// scriptedProcessor fails every call whose serviceByte is in failOn,
// otherwise returns an empty positive response.
type scriptedProcessor struct {
	failOn map[byte]bool
}

func (s *scriptedProcessor) Process(_ context.Context, serviceByte byte, params []byte, _ time.Duration) ([]byte, error) {
	if s.failOn[serviceByte] {
		return nil, errors.New("simulated ecu failure")
	}
	switch serviceByte {
	case 0x27:
		if len(params) > 0 && params[0] == 0x02 {
			return []byte{0x02}, nil
		}
		return []byte{0x01, 0xE5, 0x1E, 0x8F}, nil
	case 0x34:
		return []byte{0x00, 0x42}, nil
	case 0x31:
		return []byte{0x01, 0xFF, 0x00}, nil
	default:
		return []byte{}, nil
	}
}

// TestPlanRun_WakeUpAlwaysRunsOnError is spec.md §8 scenario 5: a
// failure injected at FlashErasing must still leave the plan's final
// state as Error while the WakeUp step is observed to run.
func TestPlanRun_WakeUpAlwaysRunsOnError(t *testing.T) {
	proc := &scriptedProcessor{failOn: map[byte]bool{0x31: true}}

	image := vbf.VBF{
		Header: vbf.Header{
			Erase: []vbf.EraseRegion{{Start: 0x8000, End: 0x8100}},
		},
		Chunks: []vbf.Chunk{
			{WriteOffset: 0x8000, Data: []byte{0x01, 0x02, 0x03, 0x04}, CRC: 0},
		},
	}

	plan := NewUDSFlashPlan(proc, Params{
		Pin:            [5]byte{0x00, 0x00, 0xD3, 0x5D, 0x6F},
		Image:          image,
		RequestTimeout: time.Second,
	})

	var states []State
	plan.OnState = func(s State) { states = append(states, s) }

	err := plan.Run(context.Background())
	require.Error(t, err)

	require.NotEmpty(t, states)
	assert.Equal(t, StateError, states[len(states)-1])

	sawWakeUp := false
	for _, s := range states {
		if s == StateWakeUp {
			sawWakeUp = true
		}
	}
	assert.True(t, sawWakeUp, "WakeUp state must run even after an earlier step fails")
}

// TestPlanRun_AllStepsSucceed exercises the happy path end to end,
// asserting progress reaches its declared maximum.
func TestPlanRun_AllStepsSucceed(t *testing.T) {
	proc := &scriptedProcessor{}

	image := vbf.VBF{
		Header: vbf.Header{
			Erase: []vbf.EraseRegion{{Start: 0x8000, End: 0x8100}},
		},
		Chunks: []vbf.Chunk{
			{WriteOffset: 0x8000, Data: []byte{0x01, 0x02, 0x03, 0x04}, CRC: 0},
		},
	}

	plan := NewUDSFlashPlan(proc, Params{
		Pin:            [5]byte{0x00, 0x00, 0xD3, 0x5D, 0x6F},
		Image:          image,
		RequestTimeout: time.Second,
	})

	var lastCurrent, lastMax int
	plan.OnProgress = func(current, max int) { lastCurrent, lastMax = current, max }

	err := plan.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, lastMax, lastCurrent)
}
