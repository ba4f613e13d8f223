package band

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loranode/lorawan-device-agent/internal/config"
)

func TestSetup(t *testing.T) {
	assert := require.New(t)

	var c config.Config
	c.Device.Band.Name = "EU868"
	assert.NoError(Setup(c))
	assert.Equal(EU868, Band())
	assert.True(DutyCycleEnforced())
	assert.Equal(1, ChannelMaskWords())

	c.Device.Band.Name = "US915"
	assert.NoError(Setup(c))
	assert.False(DutyCycleEnforced())
	assert.Equal(5, ChannelMaskWords())

	c.Device.Band.Name = "XX123"
	assert.Error(Setup(c))
}
