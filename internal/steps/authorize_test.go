package steps

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestGenerateKey_MatchesReferenceFixture is spec.md §8's concrete
// authorization-algorithm case: pin/seed fixed, key must match exactly.
func TestGenerateKey_MatchesReferenceFixture(t *testing.T) {
	pin := [5]byte{0x00, 0x00, 0xD3, 0x5D, 0x6F}
	seed := [3]byte{0xE5, 0x1E, 0x8F}

	key := GenerateKey(pin, seed)

	assert.Equal(t, byte(0x8b), byte(key>>16))
	assert.Equal(t, byte(0x62), byte(key>>8))
	assert.Equal(t, byte(0xcd), byte(key))
}

type scriptedProcessor struct {
	calls     int
	responses [][]byte
	errs      []error
}

func (s *scriptedProcessor) Process(_ context.Context, _ byte, _ []byte, _ time.Duration) ([]byte, error) {
	i := s.calls
	s.calls++
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	var resp []byte
	if i < len(s.responses) {
		resp = s.responses[i]
	}
	return resp, err
}

// TestAuthorize_SeedThenKeySucceeds is spec.md §8 scenario 1: stub
// returns seed E5 1E 8F, flasher sends the computed key, gets 67 02 back.
func TestAuthorize_SeedThenKeySucceeds(t *testing.T) {
	p := &scriptedProcessor{
		responses: [][]byte{
			{0x01, 0xE5, 0x1E, 0x8F}, // positive response to 27 01: sub-function echo + seed
			{0x02},                   // positive response to 27 02: sub-function echo
		},
	}
	pin := [5]byte{0x00, 0x00, 0xD3, 0x5D, 0x6F}
	err := Authorize(context.Background(), p, pin, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2, p.calls)
}
