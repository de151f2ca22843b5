package admin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONCodecRoundTrips(t *testing.T) {
	c := jsonCodec{}
	in := &TriggerReconnectRequest{MTPInstanceID: 3, Reason: "admin_triggered"}

	data, err := c.Marshal(in)
	require.NoError(t, err)

	var out TriggerReconnectRequest
	require.NoError(t, c.Unmarshal(data, &out))
	assert.Equal(t, *in, out)
}

func TestJSONCodecName(t *testing.T) {
	assert.Equal(t, "json", jsonCodec{}.Name())
}

func TestJSONCodecUnmarshalRejectsMalformedData(t *testing.T) {
	c := jsonCodec{}
	var out TriggerReconnectRequest
	err := c.Unmarshal([]byte("not json"), &out)
	assert.Error(t, err)
}
