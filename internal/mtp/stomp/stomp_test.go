package stomp

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jeeves-cluster-organization/uspagent/internal/mtp"
	"github.com/jeeves-cluster-organization/uspagent/internal/retry"
)

func TestNewBindingStartsIdle(t *testing.T) {
	b := New(mtp.Config{InstanceID: 1}, retry.New(nil, nil), nil, nil)
	assert.Equal(t, mtp.StatusDown, b.Status())
}

func TestStateStringCoversAllStates(t *testing.T) {
	for s := stateIdle; s <= stateRetryWait; s++ {
		assert.NotEqual(t, "UNKNOWN", s.String())
	}
}

func TestSendWithoutConnectionErrors(t *testing.T) {
	b := New(mtp.Config{InstanceID: 7}, retry.New(nil, nil), nil, nil)
	err := b.Send(nil, "/queue/acs", []byte("payload"))
	assert.Error(t, err)
}

func TestStopOnIdleBindingIsNoop(t *testing.T) {
	b := New(mtp.Config{InstanceID: 1}, retry.New(nil, nil), nil, nil)
	assert.NoError(t, b.Stop(nil))
}
