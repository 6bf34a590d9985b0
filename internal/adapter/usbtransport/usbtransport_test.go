package usbtransport

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/volvotools/vagdiag/internal/adapter"
)

func TestSplitFrames_DropsShortTrailingRemainder(t *testing.T) {
	one := make([]byte, frameWireSize)
	for i := range one {
		one[i] = byte(i)
	}
	buf := append(append([]byte{}, one...), one...)
	buf = append(buf, 0x01, 0x02, 0x03) // short trailer, not a full frame

	frames := splitFrames(buf)
	require := assert.New(t)
	require.Len(frames, 2)
	require.Equal(one, frames[0])
	require.Equal(one, frames[1])
}

func TestSplitFrames_EmptyInput(t *testing.T) {
	assert.Nil(t, splitFrames(nil))
}

func TestJoinFrames_PrependsChannelID(t *testing.T) {
	f1 := make([]byte, frameWireSize)
	f1[0] = 0xAA
	f2 := make([]byte, frameWireSize)
	f2[0] = 0xBB

	out := joinFrames(0x07, [][]byte{f1, f2})
	assert.Equal(t, byte(0x07), out[0])
	assert.Equal(t, f1, out[1:1+frameWireSize])
	assert.Equal(t, f2, out[1+frameWireSize:1+2*frameWireSize])
}

func TestJoinFrames_NoFrames(t *testing.T) {
	out := joinFrames(0x01, nil)
	assert.Equal(t, []byte{0x01}, out)
}

func TestEncodeFilterPayload_RoundTripsLengths(t *testing.T) {
	mask := []byte{0xFF, 0xFF}
	pattern := []byte{0x00, 0x01}
	flow := []byte{0x12}

	payload := encodeFilterPayload(adapter.FilterFlowControl, mask, pattern, flow)

	assert.Equal(t, byte(adapter.FilterFlowControl), payload[0])
	assert.Equal(t, byte(len(mask)), payload[1])
	assert.Equal(t, mask, payload[2:2+len(mask)])
	off := 2 + len(mask)
	assert.Equal(t, byte(len(pattern)), payload[off])
	assert.Equal(t, pattern, payload[off+1:off+1+len(pattern)])
	off = off + 1 + len(pattern)
	assert.Equal(t, byte(len(flow)), payload[off])
	assert.Equal(t, flow, payload[off+1:off+1+len(flow)])
}

func TestEncodeConfigPairs_CountAndSelfDelimiting(t *testing.T) {
	payload := encodeConfigPairs(map[string]int{"loopback": 1})

	assert.Equal(t, byte(1), payload[0])
	keyLen := int(payload[1])
	assert.Equal(t, "loopback", string(payload[2:2+keyLen]))
	valueOff := 2 + keyLen
	v := int32(payload[valueOff])<<24 | int32(payload[valueOff+1])<<16 | int32(payload[valueOff+2])<<8 | int32(payload[valueOff+3])
	assert.Equal(t, int32(1), v)
	assert.Len(t, payload, valueOff+4)
}

func TestEncodeConfigPairs_Empty(t *testing.T) {
	assert.Equal(t, []byte{0}, encodeConfigPairs(nil))
}
