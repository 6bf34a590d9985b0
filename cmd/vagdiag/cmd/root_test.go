package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRootCommand_RegistersAllSubcommands(t *testing.T) {
	root := NewRootCommand()

	names := make(map[string]bool)
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}

	for _, want := range []string{"flash", "read", "wakeup", "pin", "test"} {
		assert.True(t, names[want], "missing subcommand %q", want)
	}
}

func TestNewRootCommand_DefaultFlagValues(t *testing.T) {
	root := NewRootCommand()

	device, err := root.PersistentFlags().GetString("device")
	assert.NoError(t, err)
	assert.Equal(t, "local", device)

	baud, err := root.PersistentFlags().GetInt("baud")
	assert.NoError(t, err)
	assert.Equal(t, 500000, baud)

	protocol, err := root.PersistentFlags().GetString("protocol")
	assert.NoError(t, err)
	assert.Equal(t, "uds", protocol)
}
