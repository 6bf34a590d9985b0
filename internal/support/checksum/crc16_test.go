package checksum

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCRC16_EmptyInput(t *testing.T) {
	assert.Equal(t, uint16(0xFFFF), CRC16(nil))
}

func TestCRC16_IsDeterministic(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0x04, 0x05}
	assert.Equal(t, CRC16(data), CRC16(append([]byte(nil), data...)))
	assert.NotEqual(t, CRC16(data), CRC16([]byte{0x01, 0x02, 0x03, 0x04, 0x06}))
}

func TestROMChecksumSupported(t *testing.T) {
	assert.True(t, ROMChecksumSupported(make([]byte, 512*1024)))
	assert.False(t, ROMChecksumSupported(make([]byte, 123)))
}

func TestUpdateThenCheckROMChecksum(t *testing.T) {
	data := make([]byte, 512*1024)
	setValue(data, 0x1F810, 0x100)
	setValue(data, 0x1F814, 0x200)

	assert.False(t, CheckROMChecksum(data))
	UpdateROMChecksum(data)
	assert.True(t, CheckROMChecksum(data))
}
