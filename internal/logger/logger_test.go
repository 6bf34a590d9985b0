package logger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedProcessor struct {
	calls     []call
	responses map[byte][]byte
}

type call struct {
	service byte
	params  []byte
}

func (s *scriptedProcessor) Process(_ context.Context, serviceByte byte, params []byte, _ time.Duration) ([]byte, error) {
	s.calls = append(s.calls, call{service: serviceByte, params: append([]byte(nil), params...)})
	return s.responses[serviceByte], nil
}

func TestDecode_MaskSignExtendAndScale(t *testing.T) {
	p := LogParameter{Size: 1, Signed: true, Bitmask: 0xFF, Factor: 2, Offset: 1}
	assert.Equal(t, -1.0, Decode(p, 0xFF)) // 0xFF as int8 == -1; -1*2+1 == -1

	inv := LogParameter{Size: 1, Factor: 10, Offset: 5}
	inv.Inverse = true
	assert.Equal(t, 10.0/15.0, Decode(inv, 10))
}

func TestDecode_Float(t *testing.T) {
	p := LogParameter{Float: true}
	assert.InDelta(t, 1.5, Decode(p, 0x3FC00000), 0.0001)
}

// TestD2Variant_SampleSlicesResponseInOrder exercises spec.md §4.8's D2
// variant sample path: unregister_all, two register calls, then one
// request_memory response sliced per parameter.
func TestD2Variant_SampleSlicesResponseInOrder(t *testing.T) {
	params := []LogParameter{
		{Name: "rpm", Address: 0x1000, Size: 2},
		{Name: "temp", Address: 0x1002, Size: 1},
	}
	proc := &scriptedProcessor{
		responses: map[byte][]byte{
			0xAA: {0x50}, // register echo, reused for unregister too
			0xA6: {0xF0, 0x00, 0x12, 0x34, 0x56},
		},
	}
	v := &D2Variant{Proc: proc, Params: params}

	require.NoError(t, v.Register(context.Background(), time.Second))
	require.Len(t, proc.calls, 3) // unregister_all + 2 registers

	raw, err := v.Sample(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0x1234, 0x56}, raw)
}

func TestUDSVariant_PacksParametersIntoDIDs(t *testing.T) {
	params := make([]LogParameter, 4)
	for i := range params {
		params[i] = LogParameter{Name: "p", Address: uint32(0x2000 + i), Size: 2}
	}
	proc := &scriptedProcessor{
		responses: map[byte][]byte{
			0x10: {0x03},
			0x2C: {0x02},
		},
	}
	v := &UDSVariant{Proc: proc, Params: params}
	require.NoError(t, v.Register(context.Background(), time.Second))

	// 4 params * 2 bytes = 8 bytes > one 7-byte DID, so they must split
	// across two groups.
	require.Len(t, v.groups, 2)
	assert.Equal(t, uint16(0xF200), v.groups[0].did)
	assert.Equal(t, uint16(0xF201), v.groups[1].did)
}

func TestUDSSlowVariant_ReadsOneParameterPerRequest(t *testing.T) {
	params := []LogParameter{{Name: "x", Address: 0x3000, Size: 2}}
	proc := &scriptedProcessor{
		responses: map[byte][]byte{
			0x10: {0x03},
			0x23: {0xAB, 0xCD},
		},
	}
	v := &UDSSlowVariant{Proc: proc, Params: params}
	require.NoError(t, v.Register(context.Background(), time.Second))

	raw, err := v.Sample(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0xABCD}, raw)
}

// TestLogger_DispatchesSamplesToSubscribers checks the sampler and
// dispatcher goroutines actually deliver a decoded record end to end
// (spec.md §8 "for logger: record length = parameter count").
func TestLogger_DispatchesSamplesToSubscribers(t *testing.T) {
	params := []LogParameter{{Name: "x", Size: 1, Factor: 1}}
	proc := &scriptedProcessor{
		responses: map[byte][]byte{
			0x10: {0x03},
			0x23: {0x07},
		},
	}
	v := &UDSSlowVariant{Proc: proc, Params: params}
	l := &Logger{Variant: v, Params: params, Timeout: time.Second, Interval: 10 * time.Millisecond}

	got := make(chan LogRecord, 1)
	l.Subscribe(func(rec LogRecord) {
		select {
		case got <- rec:
		default:
		}
	})

	require.NoError(t, l.Start(context.Background()))
	defer l.Stop()

	select {
	case rec := <-got:
		assert.Len(t, rec.Raw, len(params))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a dispatched sample")
	}
}
