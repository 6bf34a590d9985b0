package d2

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
// queue of Read responses, following tp20's session_test.go testChannel.
type testChannel struct {
	readQueue [][][]byte
	writes    [][][]byte
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

func (c *testChannel) StartPeriodic(_ []byte, _ time.Duration) (adapter.PeriodicHandle, error) {
	return 1, nil
}
func (c *testChannel) StopPeriodic(adapter.PeriodicHandle) error { return nil }
func (c *testChannel) SetFilter(adapter.FilterKind, []byte, []byte, []byte) (adapter.FilterHandle, error) {
	return 0, nil
}
func (c *testChannel) Ioctl(int, []byte, int) ([]byte, error) { return nil, nil }
func (c *testChannel) ClearRx() error                         { return nil }
func (c *testChannel) ClearTx() error                         { return nil }
func (c *testChannel) SetConfig(map[string]int) error         { return nil }
func (c *testChannel) Close() error                            { return nil }

func responseFrame(ecuID EcuID, serviceByte byte, data ...byte) []byte {
	payload := append([]byte{byte(ecuID), serviceByte}, data...)
	f := [8]byte{byte(headerSingleBase + len(payload))}
	copy(f[1:], payload)
	return canframe.CanFrame{ID: CanID, Data: f}.Bytes()
}

func TestProcessor_Process_ReturnsPositiveResponsePayload(t *testing.T) {
	ch := &testChannel{readQueue: [][][]byte{
		{responseFrame(CEM, 0x10+0x40, 0xAA, 0xBB)},
	}}
	p := &Processor{Channel: ch, EcuID: CEM}

	got, err := p.Process(context.Background(), 0x10, nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0xBB}, got)
	require.Len(t, ch.writes, 1)
}

func TestProcessor_Process_ReturnsTypedErrorOnNegativeResponse(t *testing.T) {
	ch := &testChannel{readQueue: [][][]byte{
		{responseFrame(CEM, 0x7F, 0x10, 0x31)},
	}}
	p := &Processor{Channel: ch, EcuID: CEM}

	_, err := p.Process(context.Background(), 0x10, nil, time.Second)
	require.Error(t, err)
	var nrc *Error
	require.ErrorAs(t, err, &nrc)
	assert.Equal(t, byte(0x31), nrc.Code)
}

func TestProcessor_Process_AbsorbsBusyThenReturnsPositiveResponse(t *testing.T) {
	ch := &testChannel{readQueue: [][][]byte{
		{responseFrame(CEM, 0x7F, 0x10, 0x78)},
		{responseFrame(CEM, 0x10+0x40, 0x01)},
	}}
	p := &Processor{Channel: ch, EcuID: CEM}

	got, err := p.Process(context.Background(), 0x10, nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01}, got)
}

func TestProcessor_Process_IgnoresFramesForOtherECUs(t *testing.T) {
	ch := &testChannel{readQueue: [][][]byte{
		{responseFrame(TCM, 0x10+0x40, 0x99)},
		{responseFrame(CEM, 0x10+0x40, 0x01)},
	}}
	p := &Processor{Channel: ch, EcuID: CEM}

	got, err := p.Process(context.Background(), 0x10, nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01}, got)
}

func TestProcessor_Process_TimesOutWhenNoResponseArrives(t *testing.T) {
	ch := &testChannel{}
	p := &Processor{Channel: ch, EcuID: CEM}

	_, err := p.Process(context.Background(), 0x10, nil, 10*time.Millisecond)
	require.Error(t, err)
}
