package cmd

import (
	"io"
	"testing"

	"github.com/google/gousb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/volvotools/vagdiag/internal/support/platformcfg"
)

func TestApp_EcuID_PrefersBareHex(t *testing.T) {
	app := NewApp()
	app.EcuHex = "7E0"
	id, err := app.ecuID(platformcfg.PlatformProfile{})
	require.NoError(t, err)
	assert.Equal(t, uint32(0x7E0), id)
}

func TestApp_EcuID_FallsBackToProfileTable(t *testing.T) {
	app := NewApp()
	app.EcuHex = "cem"
	profile := platformcfg.PlatformProfile{
		ECUs: map[string]platformcfg.EcuEntry{
			"cem": {Name: "cem", ID: 0x50},
		},
	}
	id, err := app.ecuID(profile)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x50), id)
}

func TestApp_EcuID_RequiresFlag(t *testing.T) {
	app := NewApp()
	_, err := app.ecuID(platformcfg.PlatformProfile{})
	assert.Error(t, err)
}

func TestApp_Pin_EmptyIsZeroValue(t *testing.T) {
	app := NewApp()
	pin, err := app.pin()
	require.NoError(t, err)
	assert.Equal(t, [5]byte{}, pin)
}

func TestApp_Pin_DecodesTenHexChars(t *testing.T) {
	app := NewApp()
	app.PinHex = "0102030405"
	pin, err := app.pin()
	require.NoError(t, err)
	assert.Equal(t, [5]byte{0x01, 0x02, 0x03, 0x04, 0x05}, pin)
}

func TestApp_Pin_RejectsWrongLength(t *testing.T) {
	app := NewApp()
	app.PinHex = "0102"
	_, err := app.pin()
	assert.Error(t, err)
}

func TestApp_VendorProductID_ParsesHex(t *testing.T) {
	app := NewApp()
	app.VendorID = "1234"
	app.ProductID = "abcd"
	vid, pid, err := app.vendorProductID()
	require.NoError(t, err)
	assert.Equal(t, gousb.ID(0x1234), vid)
	assert.Equal(t, gousb.ID(0xabcd), pid)
}

func TestApp_VendorProductID_RejectsNonHex(t *testing.T) {
	app := NewApp()
	app.VendorID = "nope"
	app.ProductID = "0000"
	_, _, err := app.vendorProductID()
	assert.Error(t, err)
}

func TestApp_ConfigureLogging_DiscardsWhenNotVerbose(t *testing.T) {
	app := NewApp()
	app.Verbose = false
	app.configureLogging()
	assert.Equal(t, io.Discard, app.Log.Writer())
}

func TestApp_LoadPlatform_RequiresPlatformFlag(t *testing.T) {
	app := NewApp()
	app.ConfigPath = "/nonexistent/platforms.yaml"
	_, err := app.loadPlatform()
	assert.Error(t, err)
}

func TestApp_ConnectProcessor_RejectsUnknownProtocol(t *testing.T) {
	app := NewApp()
	app.Protocol = "klingon"
	_, _, err := app.connectProcessor(nil, nil, 0)
	assert.Error(t, err)
}
