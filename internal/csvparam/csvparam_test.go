package csvparam

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_SkipsHeaderAndParsesRows(t *testing.T) {
	csv := "Name,Address,Size,Bitmask,Unit,Signed,I,Factor,Offset,Comment\n" +
		"EngineSpeed,0x1000,2,0xFFFF,rpm,0,0,1,0,crankshaft speed\n" +
		"OilTempInv,0x1004,1,0xFF,C,1,1,10,5,inverse example\n"

	params, err := Load(strings.NewReader(csv))
	require.NoError(t, err)
	require.Len(t, params, 2)

	assert.Equal(t, "EngineSpeed", params[0].Name)
	assert.Equal(t, uint32(0x1000), params[0].Address)
	assert.Equal(t, 2, params[0].Size)
	assert.Equal(t, uint32(0xFFFF), params[0].Bitmask)
	assert.False(t, params[0].Signed)
	assert.False(t, params[0].Inverse)

	assert.True(t, params[1].Signed)
	assert.True(t, params[1].Inverse)
	assert.Equal(t, 10.0, params[1].Factor)
	assert.Equal(t, 5.0, params[1].Offset)
}

func TestLoad_NoHeaderStillParses(t *testing.T) {
	csv := "Foo,0x10,1,0xFF,unit,0,0,1,0,desc\n"
	params, err := Load(strings.NewReader(csv))
	require.NoError(t, err)
	require.Len(t, params, 1)
	assert.Equal(t, "Foo", params[0].Name)
}

func TestLoad_RejectsZeroFactorWithInverse(t *testing.T) {
	csv := "Name,Address,Size,Bitmask,Unit,Signed,I,Factor,Offset,Comment\n" +
		"Bad,0x10,1,0xFF,unit,0,1,0,0,desc\n"
	_, err := Load(strings.NewReader(csv))
	assert.Error(t, err)
}

func TestLoad_RejectsOutOfRangeSize(t *testing.T) {
	csv := "Name,Address,Size,Bitmask,Unit,Signed,I,Factor,Offset,Comment\n" +
		"Bad,0x10,5,0xFF,unit,0,0,1,0,desc\n"
	_, err := Load(strings.NewReader(csv))
	assert.Error(t, err)
}
