package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultValues(t *testing.T) {
	c := Default()

	assert.Equal(t, 16, c.MaxPathSegments)
	assert.Equal(t, 8, c.MaxAgentMTPs)
	assert.Equal(t, 64*1024, c.MaxUSPMsgLen)
	assert.Equal(t, 30*time.Second, c.ValueChangePollPeriod)
	assert.Equal(t, 10*time.Second, c.STOMPConnectTimeout)
	assert.Equal(t, "USPAgent", c.ProductClass)
	assert.False(t, c.AllowAutodiscovery)
}

func TestFromMapOverlaysOntoDefaults(t *testing.T) {
	c := FromMap(map[string]any{
		"max_agent_mtps":           float64(4),
		"value_change_poll_period": "5s",
		"vendor_oui":               "001122",
		"allow_autodiscovery":      true,
	})

	assert.Equal(t, 4, c.MaxAgentMTPs)
	assert.Equal(t, 5*time.Second, c.ValueChangePollPeriod)
	assert.Equal(t, "001122", c.VendorOUI)
	assert.True(t, c.AllowAutodiscovery)
	// Untouched fields keep their defaults.
	assert.Equal(t, 16, c.MaxPathSegments)
}

func TestFromMapIgnoresUnknownAndMistypedKeys(t *testing.T) {
	c := FromMap(map[string]any{
		"max_agent_mtps": "not-a-number",
		"bogus_field":    true,
	})
	assert.Equal(t, Default().MaxAgentMTPs, c.MaxAgentMTPs)
}

func TestToMapRoundTrips(t *testing.T) {
	c := Default()
	c.VendorOUI = "AABBCC"
	c.MaxAgentMTPs = 3

	m := c.ToMap()
	assert.Equal(t, "AABBCC", m["vendor_oui"])
	assert.Equal(t, 3, m["max_agent_mtps"])

	round := FromMap(m)
	assert.Equal(t, c.VendorOUI, round.VendorOUI)
	assert.Equal(t, c.MaxAgentMTPs, round.MaxAgentMTPs)
	assert.Equal(t, c.ValueChangePollPeriod, round.ValueChangePollPeriod)
}
