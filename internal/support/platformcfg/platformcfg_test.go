package platformcfg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_ParsesRegistryAndLooksUpECU(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "platforms.yaml")
	yaml := `
p2:
  bus_speed: can-hs
  baud: 500000
  default_vbf_path: /tmp/p2.vbf
  ecus:
    cem:
      name: cem
      id: 80
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	reg, err := Load(path)
	require.NoError(t, err)

	profile, err := reg.Lookup("p2")
	require.NoError(t, err)
	assert.Equal(t, BusHighSpeedCAN, profile.BusSpeed)
	assert.Equal(t, 500000, profile.Baud)

	id, err := profile.ECU("cem")
	require.NoError(t, err)
	assert.Equal(t, uint32(80), id)
}

func TestLoad_MissingFileReturnsEmptyRegistry(t *testing.T) {
	reg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Empty(t, reg)
}

func TestLookup_UnknownPlatformErrors(t *testing.T) {
	reg := Registry{}
	_, err := reg.Lookup("nope")
	assert.Error(t, err)
}
