package tp20

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/volvotools/vagdiag/internal/adapter"
	"github.com/volvotools/vagdiag/internal/canframe"
)

// testChannel is a minimal adapter.Channel stub driven by a pre-seeded
// queue of Read responses, used to exercise the session without a real
// pass-through driver.
type testChannel struct {
	readQueue        [][][]byte
	writes           [][][]byte
	periodicStarted  bool
	periodicInterval time.Duration
}

func (c *testChannel) Read(time.Duration) ([][]byte, error) {
	if len(c.readQueue) == 0 {
		return nil, nil
	}
	next := c.readQueue[0]
	c.readQueue = c.readQueue[1:]
	return next, nil
}

func (c *testChannel) Write(frames [][]byte, _ time.Duration) (int, error) {
	c.writes = append(c.writes, frames)
	return len(frames), nil
}

func (c *testChannel) StartPeriodic(_ []byte, interval time.Duration) (adapter.PeriodicHandle, error) {
	c.periodicStarted = true
	c.periodicInterval = interval
	return 1, nil
}

func (c *testChannel) StopPeriodic(adapter.PeriodicHandle) error { return nil }

func (c *testChannel) SetFilter(adapter.FilterKind, []byte, []byte, []byte) (adapter.FilterHandle, error) {
	return 0, nil
}

func (c *testChannel) Ioctl(int, []byte, int) ([]byte, error) { return nil, nil }
func (c *testChannel) ClearRx() error                         { return nil }
func (c *testChannel) ClearTx() error                          { return nil }
func (c *testChannel) SetConfig(map[string]int) error          { return nil }
func (c *testChannel) Close() error                             { return nil }

func channelSetupResponse(txChanLo, txChanHi byte) []byte {
	resp := canframe.CanFrame{Data: [8]byte{
		0x00, serviceChannelSetupPositiveResponse,
		byte(requestedChannel & 0xFF), byte((requestedChannel >> 8) & 0xFF),
		txChanLo, txChanHi, 0, 0,
	}}
	return resp.Bytes()
}

// channelParamsResponse builds a params response whose byte 4 encodes
// minSendDelay = raw * scale, per spec.md §4.4.
func channelParamsResponse(maxPktsTillAck, raw byte, scale byte) []byte {
	resp := canframe.CanFrame{Data: [8]byte{
		serviceSetupChannelParameters, maxPktsTillAck, 0, 0,
		(scale << 6) | (raw & 0x3F), 0, 0, 0,
	}}
	return resp.Bytes()
}

func TestSessionStart_StoresNegotiatedParameters(t *testing.T) {
	ch := &testChannel{
		readQueue: [][][]byte{
			{channelSetupResponse(0x01, 0x04)},
			{channelParamsResponse(8, 50, 1)}, // scale=1 -> x1ms, raw=50 -> 50ms
		},
	}

	sess := NewSession(ch, 0x10)
	err := sess.Start(context.Background())
	require.NoError(t, err)

	assert.Equal(t, byte(8), sess.maxPktsTillAck)
	assert.Equal(t, 50*time.Millisecond, sess.minSendDelay)
	assert.True(t, ch.periodicStarted)
	assert.Equal(t, time.Duration(keepAliveMS)*time.Millisecond, ch.periodicInterval)
	assert.Equal(t, uint32(0x0401), sess.txID)
	assert.Equal(t, uint32(requestedChannel), sess.rxID)
}

func TestSetRequestData_FragmentsIntoHeaderedChunks(t *testing.T) {
	ch := &testChannel{}
	sess := NewSession(ch, 0x10)
	request := make([]byte, 12) // 5 bytes in first chunk + 7 in second
	for i := range request {
		request[i] = byte(i + 1)
	}
	sess.setRequestData(request)

	require.Len(t, sess.dataToSend, 2)
	assert.Equal(t, []byte{0, 0x00, 0x0C, 1, 2, 3, 4, 5}, sess.dataToSend[0])
	assert.Equal(t, []byte{0, 6, 7, 8, 9, 10, 11, 12}, sess.dataToSend[1])
}
