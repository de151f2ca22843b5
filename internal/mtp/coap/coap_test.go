package coap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jeeves-cluster-organization/uspagent/internal/mtp"
)

func TestNewBindingStartsDown(t *testing.T) {
	b := New(mtp.Config{InstanceID: 1, CoAPListenPort: 15683}, nil, nil)
	assert.Equal(t, mtp.StatusDown, b.Status())
}

func TestSendToUnreachableHostErrors(t *testing.T) {
	b := New(mtp.Config{InstanceID: 1}, nil, nil)
	err := b.Send(context.Background(), "127.0.0.1:1", []byte("payload"))
	assert.Error(t, err)
}

func TestStopWithoutStartIsNoop(t *testing.T) {
	b := New(mtp.Config{InstanceID: 1}, nil, nil)
	assert.NoError(t, b.Stop(context.Background()))
}

func TestStartWithInvalidPortReportsErrorStatus(t *testing.T) {
	b := New(mtp.Config{InstanceID: 1, CoAPListenPort: -1}, nil, nil)
	err := b.Start(context.Background())
	assert.Error(t, err)
	assert.Equal(t, mtp.StatusError, b.Status())
}
