// Package band resolves the configured region. The original firmware
// selects the region and its duty-cycle behavior at compile time; here it is
// a runtime setting resolved once at startup.
package band

import (
	"github.com/pkg/errors"

	"github.com/loranode/lorawan-device-agent/internal/config"
)

// Name defines the region name type.
type Name string

// Supported regions.
const (
	AS923 Name = "AS923"
	AU915 Name = "AU915"
	CN470 Name = "CN470"
	CN779 Name = "CN779"
	EU433 Name = "EU433"
	EU868 Name = "EU868"
	IN865 Name = "IN865"
	KR920 Name = "KR920"
	RU864 Name = "RU864"
	US915 Name = "US915"
)

var name Name

// dutyCycleRegions are the regions where the regulator mandates duty-cycled
// transmissions.
var dutyCycleRegions = map[Name]bool{
	EU868: true,
	RU864: true,
	CN779: true,
	EU433: true,
}

var channelMaskWords = map[Name]int{
	AU915: 5,
	US915: 5,
}

// Setup sets up the band with the given configuration.
func Setup(c config.Config) error {
	n := Name(c.Device.Band.Name)
	switch n {
	case AS923, AU915, CN470, CN779, EU433, EU868, IN865, KR920, RU864, US915:
		name = n
	default:
		return errors.Errorf("band %s is undefined", c.Device.Band.Name)
	}
	return nil
}

// Band returns the configured band name.
func Band() Name {
	return name
}

// DutyCycleEnforced returns true when the configured region mandates
// duty-cycle enforcement.
func DutyCycleEnforced() bool {
	return dutyCycleRegions[name]
}

// ChannelMaskWords returns the width of the region's channel mask in 16-bit
// words.
func ChannelMaskWords() int {
	if w, ok := channelMaskWords[name]; ok {
		return w
	}
	return 1
}
