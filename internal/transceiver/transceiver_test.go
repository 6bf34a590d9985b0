package transceiver

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/volvotools/vagdiag/internal/adapter"
	"github.com/volvotools/vagdiag/internal/d2"
)

// queueChannel is an adapter.Channel stub whose Read drains a pre-seeded
// queue of frame batches, one batch per call, returning (nil, nil) once
// drained so the background loop never blocks the test.
type queueChannel struct {
	mu     sync.Mutex
	frames [][][]byte
	writes [][][]byte
}

func (c *queueChannel) Read(time.Duration) ([][]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.frames) == 0 {
		return nil, nil
	}
	next := c.frames[0]
	c.frames = c.frames[1:]
	return next, nil
}

func (c *queueChannel) push(batch [][]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, batch)
}

func (c *queueChannel) Write(frames [][]byte, _ time.Duration) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, frames)
	return len(frames), nil
}

func (c *queueChannel) StartPeriodic([]byte, time.Duration) (adapter.PeriodicHandle, error) {
	return 1, nil
}
func (c *queueChannel) StopPeriodic(adapter.PeriodicHandle) error { return nil }
func (c *queueChannel) SetFilter(adapter.FilterKind, []byte, []byte, []byte) (adapter.FilterHandle, error) {
	return 0, nil
}
func (c *queueChannel) Ioctl(int, []byte, int) ([]byte, error) { return nil, nil }
func (c *queueChannel) ClearRx() error                         { return nil }
func (c *queueChannel) ClearTx() error                         { return nil }
func (c *queueChannel) SetConfig(map[string]int) error         { return nil }
func (c *queueChannel) Close() error                            { return nil }

// recordingReceiver collects every dispatched message on a channel so the
// test can wait for delivery without polling.
type recordingReceiver struct {
	got chan []byte
}

func (r *recordingReceiver) OnCanMessage(data []byte) bool {
	cp := append([]byte(nil), data...)
	r.got <- cp
	return true
}

func rawFrame(header byte, payload ...byte) []byte {
	// 4-byte CAN id prefix (unused by ECUTypeFromPrefix's default CEM
	// fallback) followed by the D2 header byte and its data.
	out := []byte{0x00, 0x00, 0xFF, 0xFE, header}
	return append(out, payload...)
}

func TestTransceiver_DispatchesToSubscribedReceiver(t *testing.T) {
	ch := &queueChannel{}
	tr := New(ch, time.Millisecond)
	defer tr.Close()

	recv := &recordingReceiver{got: make(chan []byte, 4)}
	tr.Subscribe(d2.CEM, recv)

	ch.push([][]byte{rawFrame(0xC8, 0x50, 0x21, 0x01)})
	tr.RunRead(true)

	select {
	case got := <-recv.got:
		require.NotEmpty(t, got)
		assert.Equal(t, byte(0xC8), got[0])
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatched message")
	}
}

func TestTransceiver_UnsubscribeAllStopsDelivery(t *testing.T) {
	ch := &queueChannel{}
	tr := New(ch, time.Millisecond)
	defer tr.Close()

	recv := &recordingReceiver{got: make(chan []byte, 4)}
	tr.Subscribe(d2.CEM, recv)
	tr.UnsubscribeAll(recv)

	tr.RunRead(true)
	ch.push([][]byte{rawFrame(0xC8, 0x50, 0x21, 0x01)})

	select {
	case <-recv.got:
		t.Fatal("receiver should not have been notified after UnsubscribeAll")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTransceiver_SendMessageWritesOnFixedCanID(t *testing.T) {
	ch := &queueChannel{}
	tr := New(ch, time.Millisecond)
	defer tr.Close()

	require.NoError(t, tr.SendMessage([]byte{0x50, 0x21, 0x01}))

	ch.mu.Lock()
	defer ch.mu.Unlock()
	require.Len(t, ch.writes, 1)
	frame := ch.writes[0][0]
	assert.Equal(t, uint32(0x000FFFFE), uint32(frame[0])<<24|uint32(frame[1])<<16|uint32(frame[2])<<8|uint32(frame[3]))
	assert.Equal(t, []byte{0x50, 0x21, 0x01}, frame[4:])
}

func TestTransceiver_OnCanMessageFalseStopsReadLoop(t *testing.T) {
	ch := &queueChannel{}
	tr := New(ch, time.Millisecond)
	defer tr.Close()

	stopAfterOne := &stoppingReceiver{got: make(chan []byte, 4)}
	tr.Subscribe(d2.CEM, stopAfterOne)

	tr.RunRead(true)
	ch.push([][]byte{rawFrame(0xC8, 0x01)})

	select {
	case <-stopAfterOne.got:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for first dispatch")
	}

	select {
	case <-tr.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("read loop did not stop after receiver returned false")
	}
}

type stoppingReceiver struct {
	got chan []byte
}

func (r *stoppingReceiver) OnCanMessage(data []byte) bool {
	r.got <- append([]byte(nil), data...)
	return false
}
