package canframe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanFrame_BytesAndParseRoundTrip(t *testing.T) {
	f := CanFrame{ID: 0x000FFFFE, Data: [8]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}}
	wire := f.Bytes()
	require.Len(t, wire, 4+PayloadSize)

	got, err := ParseCanFrame(wire)
	require.NoError(t, err)
	assert.Equal(t, f, got)
}

func TestParseCanFrame_RejectsShortInput(t *testing.T) {
	_, err := ParseCanFrame([]byte{0x00, 0x0F, 0xFF})
	assert.Error(t, err)
}

func TestMessage_FramesExpandsEachPayload(t *testing.T) {
	m := Message{ID: 0x123, Payloads: [][PayloadSize]byte{
		{1, 2, 3, 4, 5, 6, 7, 8},
		{9, 9, 9, 9, 9, 9, 9, 9},
	}}
	frames := m.Frames()
	require.Len(t, frames, 2)
	assert.Equal(t, uint32(0x123), frames[0].ID)
	assert.Equal(t, uint32(0x123), frames[1].ID)
	assert.Equal(t, m.Payloads[1], frames[1].Data)
}
