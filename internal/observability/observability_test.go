package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordRequest(t *testing.T) {
	tests := []struct {
		name    string
		msgType string
		status  string
	}{
		{"get success", "GetRequest", "success"},
		{"set error", "SetRequest", "error"},
		{"operate success", "OperateRequest", "success"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			RecordRequest(tt.msgType, tt.status, 0.01)
			count := testutil.ToFloat64(requestsTotal.WithLabelValues(tt.msgType, tt.status))
			assert.Greater(t, count, 0.0)
		})
	}
}

func TestRecordMTPConnectAttempt(t *testing.T) {
	RecordMTPConnectAttempt("STOMP", "success")
	count := testutil.ToFloat64(mtpConnectAttemptsTotal.WithLabelValues("STOMP", "success"))
	assert.Greater(t, count, 0.0)
}

func TestSetMTPStatus(t *testing.T) {
	SetMTPStatus("1", 2)
	assert.Equal(t, 2.0, testutil.ToFloat64(mtpStatus.WithLabelValues("1")))
}

func TestRecordNotify(t *testing.T) {
	RecordNotify("value_change", "sent")
	count := testutil.ToFloat64(notifiesTotal.WithLabelValues("value_change", "sent"))
	assert.Greater(t, count, 0.0)
}

func TestSetPendingNotifies(t *testing.T) {
	SetPendingNotifies("os::acs-1", 3)
	assert.Equal(t, 3.0, testutil.ToFloat64(pendingNotifies.WithLabelValues("os::acs-1")))
}

func TestRecordAdminRequest(t *testing.T) {
	RecordAdminRequest("/Admin/GetSystemStatus", "OK")
	count := testutil.ToFloat64(adminRequestsTotal.WithLabelValues("/Admin/GetSystemStatus", "OK"))
	assert.Greater(t, count, 0.0)
}

func TestMetrics_Concurrent(t *testing.T) {
	const goroutines = 10
	const iterations = 100
	done := make(chan bool, goroutines)

	for i := 0; i < goroutines; i++ {
		go func() {
			for j := 0; j < iterations; j++ {
				RecordRequest("GetRequest", "success", 0.001)
			}
			done <- true
		}()
	}
	for i := 0; i < goroutines; i++ {
		<-done
	}

	count := testutil.ToFloat64(requestsTotal.WithLabelValues("GetRequest", "success"))
	assert.GreaterOrEqual(t, count, float64(goroutines*iterations))
}

func TestInitTracer_InvalidEndpoint(t *testing.T) {
	shutdown, err := InitTracer("uspagentd", "")
	require.Error(t, err)
	assert.Nil(t, shutdown)
}
