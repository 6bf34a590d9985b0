package steps

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestGenerateKeyCommonKWP_NoSignBitsIsPlainShift exercises the branch
// where every round's pre-rotation sign bit is clear, so the xor never
// fires and the result is just a 5-bit left rotation.
func TestGenerateKeyCommonKWP_NoSignBitsIsPlainShift(t *testing.T) {
	assert.Equal(t, uint32(0x20), generateKeyCommonKWP(1))
}

// scriptedKWPSessionProcessor answers KWP's session/security-access
// services and optionally implements steps.SessionResetter, so
// EnterProgrammingSession's reconnect branch can be exercised both with
// and without a resettable transport.
type scriptedKWPSessionProcessor struct {
	resettable  bool
	resetCalled bool
	resetErr    error
	sent        [][]byte
}

func (s *scriptedKWPSessionProcessor) Process(_ context.Context, serviceByte byte, params []byte, _ time.Duration) ([]byte, error) {
	s.sent = append(s.sent, append([]byte{serviceByte}, params...))
	switch serviceByte {
	case 0x10:
		return []byte{0x85}, nil
	case 0x27:
		if len(params) > 0 && params[0] == 0x02 {
			return []byte{0x02, 0x34}, nil
		}
		return []byte{0x01, 0x01, 0x00, 0x00, 0x00}, nil // reconstructs to seed=1
	default:
		return []byte{}, nil
	}
}

type resettableKWPProcessor struct {
	scriptedKWPSessionProcessor
}

func (r *resettableKWPProcessor) ResetSession(_ context.Context) error {
	r.resetCalled = true
	return r.resetErr
}

// TestAuthorizeKWP_SeedThenKeySucceeds is the handshake equivalent of
// authorize_test.go's UDS case: seed reconstructs to 1, so the key sent
// back must be generateKeyCommonKWP(1) == 0x20.
func TestAuthorizeKWP_SeedThenKeySucceeds(t *testing.T) {
	p := &scriptedKWPSessionProcessor{}
	err := AuthorizeKWP(context.Background(), p, [5]byte{}, time.Second)
	require.NoError(t, err)
	require.Len(t, p.sent, 2)
	assert.Equal(t, []byte{0x27, 0x02, 0x00, 0x00, 0x00, 0x20}, p.sent[1])
}

func TestEnterProgrammingSession_RequiresSessionResetter(t *testing.T) {
	p := &scriptedKWPSessionProcessor{}
	err := EnterProgrammingSession(context.Background(), p, time.Second)
	assert.Error(t, err)
}

func TestEnterProgrammingSession_ResetsThenReauthorizes(t *testing.T) {
	p := &resettableKWPProcessor{}
	err := EnterProgrammingSession(context.Background(), p, time.Second)
	require.NoError(t, err)
	assert.True(t, p.resetCalled)
	// 0x10 (session) + two 0x27 calls (seed, key) from the re-authorize.
	assert.Len(t, p.sent, 3)
}

func TestEraseFlashKWP_EncodesLow3BytesOfEachAddress(t *testing.T) {
	p := &scriptedKWPSessionProcessor{}
	err := EraseFlashKWP(context.Background(), p, 0x00108000, 0x100, time.Second)
	require.NoError(t, err)
	require.Len(t, p.sent, 1)
	assert.Equal(t, []byte{
		0x31, 0xC4,
		0x10, 0x80, 0x00, // start 0x00108000, low 3 bytes
		0x10, 0x81, 0x00, // end 0x00108100, low 3 bytes
		0, 1, 2, 3, 4, 5,
	}, p.sent[0])
}
