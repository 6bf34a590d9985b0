package remoteadapter

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/volvotools/vagdiag/internal/adapter"
)

// fakeChannel is an in-memory adapter.Channel double letting the tests
// assert on what crossed the wire without touching hardware, mirroring
// the stub-over-interface approach used for transceiver's queueChannel.
type fakeChannel struct {
	readFrames  [][]byte
	readErr     error
	wroteFrames [][]byte
	closed      bool
}

func (f *fakeChannel) Read(timeout time.Duration) ([][]byte, error) { return f.readFrames, f.readErr }
func (f *fakeChannel) Write(frames [][]byte, timeout time.Duration) (int, error) {
	f.wroteFrames = frames
	return len(frames), nil
}
func (f *fakeChannel) StartPeriodic(frame []byte, interval time.Duration) (adapter.PeriodicHandle, error) {
	return 42, nil
}
func (f *fakeChannel) StopPeriodic(h adapter.PeriodicHandle) error { return nil }
func (f *fakeChannel) SetFilter(kind adapter.FilterKind, mask, pattern, flow []byte) (adapter.FilterHandle, error) {
	return 7, nil
}
func (f *fakeChannel) Ioctl(id int, in []byte, outLen int) ([]byte, error) {
	return append([]byte{byte(id)}, in...), nil
}
func (f *fakeChannel) ClearRx() error                       { return nil }
func (f *fakeChannel) ClearTx() error                       { return nil }
func (f *fakeChannel) SetConfig(pairs map[string]int) error { return nil }
func (f *fakeChannel) Close() error                         { f.closed = true; return nil }

type fakeDevice struct {
	channel *fakeChannel
	closed  bool
}

func (d *fakeDevice) Connect(protocol adapter.Protocol, flags adapter.ConnectFlags, baud int) (adapter.Channel, error) {
	return d.channel, nil
}
func (d *fakeDevice) Close() error { d.closed = true; return nil }

func newTestServer(t *testing.T, ch *fakeChannel) (*Client, *httptest.Server) {
	t.Helper()
	srv := NewServer(&fakeDevice{channel: ch})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return Dial(ts.URL), ts
}

func TestClient_ConnectAndReadRoundTrips(t *testing.T) {
	ch := &fakeChannel{readFrames: [][]byte{{0x01, 0x02}, {0x03}}}
	client, _ := newTestServer(t, ch)

	channel, err := client.Connect(adapter.ProtocolISO15765, adapter.FlagCANIDBoth, 500000)
	require.NoError(t, err)

	frames, err := channel.Read(100 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, ch.readFrames, frames)
}

func TestClient_WriteSendsDecodableFrames(t *testing.T) {
	ch := &fakeChannel{}
	client, _ := newTestServer(t, ch)

	channel, err := client.Connect(adapter.ProtocolCAN, adapter.FlagNone, 0)
	require.NoError(t, err)

	n, err := channel.Write([][]byte{{0xAA, 0xBB}}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, [][]byte{{0xAA, 0xBB}}, ch.wroteFrames)
}

func TestClient_IoctlRoundTripsPayload(t *testing.T) {
	ch := &fakeChannel{}
	client, _ := newTestServer(t, ch)

	channel, err := client.Connect(adapter.ProtocolTP20, adapter.FlagNone, 0)
	require.NoError(t, err)

	out, err := channel.Ioctl(9, []byte{0x01, 0x02}, 16)
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 0x01, 0x02}, out)
}

func TestClient_StartPeriodicReturnsHandle(t *testing.T) {
	ch := &fakeChannel{}
	client, _ := newTestServer(t, ch)

	channel, err := client.Connect(adapter.ProtocolCAN, adapter.FlagNone, 0)
	require.NoError(t, err)

	h, err := channel.StartPeriodic([]byte{0x01}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, adapter.PeriodicHandle(42), h)
}

func TestClient_CloseChannelAndDevice(t *testing.T) {
	ch := &fakeChannel{}
	client, _ := newTestServer(t, ch)

	channel, err := client.Connect(adapter.ProtocolCAN, adapter.FlagNone, 0)
	require.NoError(t, err)

	require.NoError(t, channel.Close())
	assert.True(t, ch.closed)

	require.NoError(t, client.Close())
}

func TestClient_UnknownChannelReturnsError(t *testing.T) {
	client, _ := newTestServer(t, &fakeChannel{})

	bogus := &Channel{client: client, id: "does-not-exist"}
	_, err := bogus.Read(10 * time.Millisecond)
	assert.Error(t, err)
}
