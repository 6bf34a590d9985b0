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

// scriptedKWPProcessor answers KWP's session/security-access/erase/
// transfer services and implements steps.SessionResetter the way
// tp20.Processor does, so EnterProgrammingSession's disconnect/reconnect
// can be exercised without a real TP2.0 channel handshake.
type scriptedKWPProcessor struct {
	failOn      map[byte]bool
	resetCalled bool
}

func (s *scriptedKWPProcessor) Process(_ context.Context, serviceByte byte, params []byte, _ time.Duration) ([]byte, error) {
	if s.failOn[serviceByte] {
		return nil, errors.New("simulated ecu failure")
	}
	switch serviceByte {
	case 0x27:
		if len(params) > 0 && params[0] == 0x02 {
			return []byte{0x02, 0x34}, nil
		}
		return []byte{0x01, 0x00, 0x00, 0x00, 0x00}, nil
	case 0x10:
		return []byte{0x85}, nil
	case 0x34:
		return []byte{0x00, 0x42}, nil
	default:
		return []byte{}, nil
	}
}

func (s *scriptedKWPProcessor) ResetSession(_ context.Context) error {
	s.resetCalled = true
	return nil
}

func TestNewKWPFlashPlan_AllStepsSucceed(t *testing.T) {
	proc := &scriptedKWPProcessor{}

	image := vbf.VBF{
		Header: vbf.Header{
			Erase: []vbf.EraseRegion{{Start: 0x8000, End: 0x8100}},
		},
		Chunks: []vbf.Chunk{
			{WriteOffset: 0x8000, Data: []byte{0x01, 0x02, 0x03, 0x04}, CRC: 0},
		},
	}

	plan := NewKWPFlashPlan(proc, Params{
		Pin:            [5]byte{0x00, 0x00, 0xD3, 0x5D, 0x6F},
		Image:          image,
		RequestTimeout: time.Second,
	})

	var states []State
	plan.OnState = func(s State) { states = append(states, s) }

	err := plan.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, proc.resetCalled, "EnterProgrammingSession must reset the session")

	sawProgrammingSession := false
	for _, s := range states {
		if s == StateProgrammingSession {
			sawProgrammingSession = true
		}
	}
	assert.True(t, sawProgrammingSession)
}

func TestNewKWPFlashPlan_WakeUpAlwaysRunsOnError(t *testing.T) {
	proc := &scriptedKWPProcessor{failOn: map[byte]bool{0x34: true}}

	image := vbf.VBF{
		Header: vbf.Header{
			Erase: []vbf.EraseRegion{{Start: 0x8000, End: 0x8100}},
		},
		Chunks: []vbf.Chunk{
			{WriteOffset: 0x8000, Data: []byte{0x01, 0x02, 0x03, 0x04}, CRC: 0},
		},
	}

	plan := NewKWPFlashPlan(proc, Params{
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
	assert.True(t, sawWakeUp)
}
