package admin

// GetSystemStatusRequest has no arguments.
type GetSystemStatusRequest struct{}

// GetSystemStatusResponse summarizes the agent's live state for local
// diagnostics.
type GetSystemStatusResponse struct {
	UptimeSeconds   float64           `json:"uptime_seconds"`
	PendingTimers   int               `json:"pending_timers"`
	ControllerCount int               `json:"controller_count"`
	MTPStatuses     map[string]string `json:"mtp_statuses"`
	PendingNotifies map[string]int    `json:"pending_notifies"`
	Config          map[string]any    `json:"config"`
}

// ListControllersRequest has no arguments.
type ListControllersRequest struct{}

// ControllerInfo is one Controller Table row.
type ControllerInfo struct {
	EndpointID string `json:"endpoint_id"`
	Role       string `json:"role"`
	MTPCount   int    `json:"mtp_count"`
}

type ListControllersResponse struct {
	Controllers []ControllerInfo `json:"controllers"`
}

// ListMTPsRequest has no arguments.
type ListMTPsRequest struct{}

// MTPInfo is one running Agent MTP Table entry.
type MTPInfo struct {
	InstanceID int    `json:"instance_id"`
	Status     string `json:"status"`
}

type ListMTPsResponse struct {
	MTPs []MTPInfo `json:"mtps"`
}

// ListSubscriptionsRequest has no arguments.
type ListSubscriptionsRequest struct{}

// SubscriptionInfo is one Device.LocalAgent.Subscription.{i}. row.
type SubscriptionInfo struct {
	ID           string `json:"id"`
	ControllerID string `json:"controller_id"`
	Kind         string `json:"kind"`
	Enable       bool   `json:"enable"`
	Pending      int    `json:"pending"`
}

type ListSubscriptionsResponse struct {
	Subscriptions []SubscriptionInfo `json:"subscriptions"`
}

// TriggerReconnectRequest asks the MTP thread to (re)connect one MTP
// instance, the admin-surface equivalent of bus.ScheduleReconnect.
type TriggerReconnectRequest struct {
	MTPInstanceID int    `json:"mtp_instance_id"`
	Reason        string `json:"reason"`
}

type TriggerReconnectResponse struct {
	Accepted bool `json:"accepted"`
}

// DBDumpRequest optionally scopes the dump to a key prefix.
type DBDumpRequest struct {
	KeyPrefix string `json:"key_prefix"`
}

type DBDumpResponse struct {
	Entries map[string]string `json:"entries"`
}
