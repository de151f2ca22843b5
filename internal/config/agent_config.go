// Package config holds the agent's runtime configuration: the spec's
// MAX_* bounds, poll periods, and timeouts as struct fields instead of
// hardcoded literals (spec §3 "Schema Path", §4.6, §4.7, §6).
//
// Design Notes §9 flags the source's global configuration arrays for
// re-architecture; this package deliberately has no package-level
// singleton (contrast the teacher's GetCoreConfig/SetCoreConfig) — an
// *AgentConfig is constructed once in cmd/uspagentd and threaded
// explicitly into internal/agent.New, the same "hung off a root Agent
// context" redesign the spec calls for.
package config

import "time"

// AgentConfig is the agent's full runtime configuration.
type AgentConfig struct {
	// Path/schema bounds (spec §3).
	MaxPathSegments    int `json:"max_path_segments"`
	MaxDMInstanceOrder int `json:"max_dm_instance_order"`
	MaxDMPath          int `json:"max_dm_path"`

	// Transport bounds (spec §3, §6).
	MaxAgentMTPs int `json:"max_agent_mtps"`
	MaxUSPMsgLen int `json:"max_usp_msg_len"`

	// Timing (spec §4.6, §4.9, §4.10).
	ValueChangePollPeriod time.Duration `json:"value_change_poll_period"`
	STOMPConnectTimeout   time.Duration `json:"stomp_connect_timeout"`
	PendingNotifySweep    time.Duration `json:"pending_notify_sweep"`

	// Local agent identity (spec §6).
	VendorOUI    string `json:"vendor_oui"`
	ProductClass string `json:"product_class"`
	WANInterface string `json:"wan_interface"`

	// Persistence (spec §6 "Database").
	DBPath       string `json:"db_path"`
	DBSecureKey  string `json:"db_secure_key"`
	FactoryResetSeedPath string `json:"factory_reset_seed_path"`

	// Local admin surface (spec §6 "Command-line surface").
	AdminSocketPath string `json:"admin_socket_path"`

	// Observability.
	OTLPEndpoint string `json:"otlp_endpoint"`
	LogLevel     string `json:"log_level"`

	// Autodiscovery (spec §4.4 step 1 — MTP-level policy, carried as one
	// agent-wide flag; see DESIGN.md Open Question decisions).
	AllowAutodiscovery bool `json:"allow_autodiscovery"`
}

// Default returns an AgentConfig populated with the spec's suggested
// bounds and conservative timing defaults.
func Default() *AgentConfig {
	return &AgentConfig{
		MaxPathSegments:    16,
		MaxDMInstanceOrder: 8,
		MaxDMPath:          256,

		MaxAgentMTPs: 8,
		MaxUSPMsgLen: 64 * 1024,

		ValueChangePollPeriod: 30 * time.Second,
		STOMPConnectTimeout:   10 * time.Second,
		PendingNotifySweep:    60 * time.Second,

		ProductClass: "USPAgent",
		WANInterface: "eth0",

		DBPath:      "/var/lib/uspagentd/state.db",
		DBSecureKey: "",

		AdminSocketPath: "/var/run/uspagentd/admin.sock",

		OTLPEndpoint: "localhost:4317",
		LogLevel:     "info",

		AllowAutodiscovery: false,
	}
}

// FromMap overlays values present in m onto a Default() config, tolerant
// of both native types and the float64/string shapes a YAML/JSON decode
// produces (mirroring the teacher's CoreConfigFromMap's dual-type
// tolerance for the same reason: config sources don't agree on numeric
// representation).
func FromMap(m map[string]any) *AgentConfig {
	c := Default()

	if v, ok := intVal(m["max_path_segments"]); ok {
		c.MaxPathSegments = v
	}
	if v, ok := intVal(m["max_dm_instance_order"]); ok {
		c.MaxDMInstanceOrder = v
	}
	if v, ok := intVal(m["max_dm_path"]); ok {
		c.MaxDMPath = v
	}
	if v, ok := intVal(m["max_agent_mtps"]); ok {
		c.MaxAgentMTPs = v
	}
	if v, ok := intVal(m["max_usp_msg_len"]); ok {
		c.MaxUSPMsgLen = v
	}
	if v, ok := durationVal(m["value_change_poll_period"]); ok {
		c.ValueChangePollPeriod = v
	}
	if v, ok := durationVal(m["stomp_connect_timeout"]); ok {
		c.STOMPConnectTimeout = v
	}
	if v, ok := durationVal(m["pending_notify_sweep"]); ok {
		c.PendingNotifySweep = v
	}
	if v, ok := m["vendor_oui"].(string); ok {
		c.VendorOUI = v
	}
	if v, ok := m["product_class"].(string); ok {
		c.ProductClass = v
	}
	if v, ok := m["wan_interface"].(string); ok {
		c.WANInterface = v
	}
	if v, ok := m["db_path"].(string); ok {
		c.DBPath = v
	}
	if v, ok := m["db_secure_key"].(string); ok {
		c.DBSecureKey = v
	}
	if v, ok := m["factory_reset_seed_path"].(string); ok {
		c.FactoryResetSeedPath = v
	}
	if v, ok := m["admin_socket_path"].(string); ok {
		c.AdminSocketPath = v
	}
	if v, ok := m["otlp_endpoint"].(string); ok {
		c.OTLPEndpoint = v
	}
	if v, ok := m["log_level"].(string); ok {
		c.LogLevel = v
	}
	if v, ok := m["allow_autodiscovery"].(bool); ok {
		c.AllowAutodiscovery = v
	}

	return c
}

// ToMap converts c to a map, the inverse of FromMap, for the admin
// surface's GetSystemStatus and for re-serializing to YAML.
func (c *AgentConfig) ToMap() map[string]any {
	return map[string]any{
		"max_path_segments":       c.MaxPathSegments,
		"max_dm_instance_order":   c.MaxDMInstanceOrder,
		"max_dm_path":             c.MaxDMPath,
		"max_agent_mtps":          c.MaxAgentMTPs,
		"max_usp_msg_len":         c.MaxUSPMsgLen,
		"value_change_poll_period": c.ValueChangePollPeriod.String(),
		"stomp_connect_timeout":   c.STOMPConnectTimeout.String(),
		"pending_notify_sweep":    c.PendingNotifySweep.String(),
		"vendor_oui":              c.VendorOUI,
		"product_class":           c.ProductClass,
		"wan_interface":           c.WANInterface,
		"db_path":                 c.DBPath,
		"factory_reset_seed_path": c.FactoryResetSeedPath,
		"admin_socket_path":       c.AdminSocketPath,
		"otlp_endpoint":           c.OTLPEndpoint,
		"log_level":               c.LogLevel,
		"allow_autodiscovery":     c.AllowAutodiscovery,
	}
}

func intVal(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case float64:
		return int(t), true
	default:
		return 0, false
	}
}

func durationVal(v any) (time.Duration, bool) {
	switch t := v.(type) {
	case time.Duration:
		return t, true
	case string:
		d, err := time.ParseDuration(t)
		if err != nil {
			return 0, false
		}
		return d, true
	case float64:
		return time.Duration(t) * time.Second, true
	default:
		return 0, false
	}
}
