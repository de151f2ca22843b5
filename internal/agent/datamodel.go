package agent

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jeeves-cluster-organization/uspagent/bus"
	"github.com/jeeves-cluster-organization/uspagent/internal/controller"
	"github.com/jeeves-cluster-organization/uspagent/internal/dm"
	"github.com/jeeves-cluster-organization/uspagent/internal/mtp"
	"github.com/jeeves-cluster-organization/uspagent/internal/subscription"
	"github.com/jeeves-cluster-organization/uspagent/internal/typeutil"
	"github.com/jeeves-cluster-organization/uspagent/internal/usppb"
)

// registerDataModel registers the concrete TR-181 surface this agent
// ships (spec §4.1 Register Parameter/Object): the LocalAgent identity,
// the MTP/Controller/Subscription tables, the STOMP connection table,
// and the DeviceInfo ValueChange demo path. Must run before reg.Freeze.
func (a *Agent) registerDataModel() error {
	for _, step := range []func() error{
		a.registerLocalAgent,
		a.registerMTPTable,
		a.registerControllerTable,
		a.registerSTOMPConnectionTable,
		a.registerSubscriptionTable,
		a.registerDeviceInfo,
	} {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

func (a *Agent) registerLocalAgent() error {
	params := []*dm.ParameterDef{
		{PathTemplate: "Device.LocalAgent.EndpointID", Type: typeutil.TypeString, Access: dm.ReadOnly, Storage: dm.Constant, Default: a.endpointID},
		{PathTemplate: "Device.LocalAgent.Manufacturer", Type: typeutil.TypeString, Access: dm.ReadOnly, Storage: dm.Constant, Default: "Jeeves Cluster Organization"},
		{PathTemplate: "Device.LocalAgent.ModelName", Type: typeutil.TypeString, Access: dm.ReadOnly, Storage: dm.Constant, Default: a.cfg.ProductClass},
		{PathTemplate: "Device.LocalAgent.SoftwareVersion", Type: typeutil.TypeString, Access: dm.ReadOnly, Storage: dm.Constant, Default: agentVersion},
	}
	for _, p := range params {
		if err := a.reg.RegisterParameter(p); err != nil {
			return err
		}
	}
	return nil
}

const agentVersion = "1.0.0"

// registerMTPTable registers Device.LocalAgent.MTP.{i}. (spec §3 "Agent
// MTP", §4.8). Every settable row parameter shares one ChangeNotify that
// rebuilds the full mtp.Config set and hands it to the Agent MTP Table's
// Reconcile, the same way a config-file reload would.
func (a *Agent) registerMTPTable() error {
	const tmpl = "Device.LocalAgent.MTP.{i}."

	if err := a.reg.RegisterObject(&dm.ObjectDef{
		PathTemplate:     tmpl,
		MultiInstance:    true,
		AddNotify:        a.onMTPAdd,
		DeleteNotify:      a.onMTPDelete,
		RefreshInstances: a.mtpInstances.ids,
	}); err != nil {
		return err
	}

	onChange := func(string, string, string) { a.reconcileMTPs() }

	defs := []*dm.ParameterDef{
		{PathTemplate: tmpl + "Enable", Type: typeutil.TypeBool, Access: dm.ReadWrite, Storage: dm.InDB, Default: "false", ChangeNotify: onChange},
		{PathTemplate: tmpl + "Protocol", Type: typeutil.TypeString, Access: dm.ReadWrite, Storage: dm.InDB, Default: "STOMP", ChangeNotify: onChange},
		{PathTemplate: tmpl + "Status", Type: typeutil.TypeString, Access: dm.ReadOnly, Storage: dm.Computed, Getter: a.getMTPStatus},
		{PathTemplate: tmpl + "STOMP.Reference", Type: typeutil.TypeString, Access: dm.ReadWrite, Storage: dm.InDB, Default: "", ChangeNotify: onChange},
		{PathTemplate: tmpl + "STOMP.Destination", Type: typeutil.TypeString, Access: dm.ReadWrite, Storage: dm.InDB, Default: "", ChangeNotify: onChange},
		{PathTemplate: tmpl + "CoAP.Port", Type: typeutil.TypeUnsigned, Access: dm.ReadWrite, Storage: dm.InDB, Default: "5684", ChangeNotify: onChange},
		{PathTemplate: tmpl + "CoAP.Path", Type: typeutil.TypeString, Access: dm.ReadWrite, Storage: dm.InDB, Default: "/usp", ChangeNotify: onChange},
	}
	for _, p := range defs {
		if err := a.reg.RegisterParameter(p); err != nil {
			return err
		}
	}
	return nil
}

func (a *Agent) getMTPStatus(path string) (string, error) {
	id, err := instanceIDFromPath(path, "Device.LocalAgent.MTP.")
	if err != nil {
		return "", err
	}
	statuses := a.agentMTPs.Status()
	st, ok := statuses[int(id)]
	if !ok {
		return mtp.StatusDown.String(), nil
	}
	return st.String(), nil
}

func (a *Agent) onMTPAdd(instancePath string) {
	id, err := instanceIDFromPath(instancePath, "Device.LocalAgent.MTP.")
	if err != nil {
		a.logger.Warn("agent: malformed MTP instance path on add", "path", instancePath, "err", err)
		return
	}
	a.mtpInstances.set(id, strconv.FormatUint(uint64(id), 10))
	a.reconcileMTPs()
}

func (a *Agent) onMTPDelete(instancePath string) {
	id, err := instanceIDFromPath(instancePath, "Device.LocalAgent.MTP.")
	if err != nil {
		a.logger.Warn("agent: malformed MTP instance path on delete", "path", instancePath, "err", err)
		return
	}
	a.mtpInstances.remove(id)
	a.reconcileMTPs()
}

// reconcileMTPs rebuilds every Device.LocalAgent.MTP.{i}. row from the
// store and reconciles the Agent MTP Table's running instance set
// against it (spec §3 "Agent MTP table reconciles on every config
// change"). Failures are logged, never fatal: a malformed row simply
// doesn't get a running binding until corrected.
func (a *Agent) reconcileMTPs() {
	ids, err := a.mtpInstances.ids()
	if err != nil {
		a.logger.Warn("agent: list MTP instances", "err", err)
		return
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	rows := make([]mtp.Config, 0, len(ids))
	for _, id := range ids {
		base := fmt.Sprintf("Device.LocalAgent.MTP.%d.", id)
		enableStr, _ := a.reg.Get(base + "Enable")
		enable, _ := typeutil.ParseBool(enableStr)
		protocol, _ := a.reg.Get(base + "Protocol")
		ref, _ := a.reg.Get(base + "STOMP.Reference")
		dest, _ := a.reg.Get(base + "STOMP.Destination")
		coapPortStr, _ := a.reg.Get(base + "CoAP.Port")
		coapPort, _ := strconv.Atoi(coapPortStr)
		coapPath, _ := a.reg.Get(base + "CoAP.Path")

		row := mtp.Config{
			InstanceID:       int(id),
			Protocol:         protocol,
			Enable:           enable,
			STOMPDestination: dest,
			CoAPListenPort:   coapPort,
			CoAPPath:         coapPath,
		}
		if ref != "" {
			conn, ok := a.resolveSTOMPConnection(ref)
			if ok {
				row.STOMPHost = conn.host
				row.STOMPPort = conn.port
				row.STOMPUseTLS = conn.useTLS
				row.STOMPUsername = conn.username
				row.STOMPPassword = conn.password
				row.STOMPVirtualHost = conn.vhost
			}
		}
		rows = append(rows, row)
	}

	if err := a.agentMTPs.Reconcile(context.Background(), rows); err != nil {
		a.logger.Warn("agent: reconcile MTP table", "err", err)
	}
	if a.busInst != nil && a.busInst.Events != nil {
		instanceIDs := make([]int, 0, len(ids))
		for _, id := range ids {
			instanceIDs = append(instanceIDs, int(id))
		}
		_ = a.busInst.Events.Publish(context.Background(), &bus.MtpConfigChanged{InstanceIDs: instanceIDs})
	}
}

type stompConnection struct {
	host     string
	port     int
	useTLS   bool
	username string
	password string
	vhost    string
}

// resolveSTOMPConnection reads a Device.STOMP.Connection.{i}. row named
// by ref (an MTP row's STOMP.Reference value).
func (a *Agent) resolveSTOMPConnection(ref string) (stompConnection, bool) {
	base := strings.TrimSuffix(ref, ".") + "."
	host, err := a.reg.Get(base + "Host")
	if err != nil {
		return stompConnection{}, false
	}
	portStr, _ := a.reg.Get(base + "Port")
	port, _ := strconv.Atoi(portStr)
	username, _ := a.reg.Get(base + "Username")
	password, _ := a.reg.Get(base + "Password")
	vhost, _ := a.reg.Get(base + "VirtualHost")
	return stompConnection{host: host, port: port, username: username, password: password, vhost: vhost}, true
}

// registerSTOMPConnectionTable registers Device.STOMP.Connection.{i}.
func (a *Agent) registerSTOMPConnectionTable() error {
	const tmpl = "Device.STOMP.Connection.{i}."

	if err := a.reg.RegisterObject(&dm.ObjectDef{
		PathTemplate:     tmpl,
		MultiInstance:    true,
		AddNotify:        a.onSTOMPConnAdd,
		DeleteNotify:      a.onSTOMPConnDelete,
		RefreshInstances: a.stompConnInstances.ids,
	}); err != nil {
		return err
	}

	defs := []*dm.ParameterDef{
		{PathTemplate: tmpl + "Host", Type: typeutil.TypeString, Access: dm.ReadWrite, Storage: dm.InDB, Default: ""},
		{PathTemplate: tmpl + "Port", Type: typeutil.TypeUnsigned, Access: dm.ReadWrite, Storage: dm.InDB, Default: "61613"},
		{PathTemplate: tmpl + "Username", Type: typeutil.TypeString, Access: dm.ReadWrite, Storage: dm.InDB, Default: ""},
		{PathTemplate: tmpl + "VirtualHost", Type: typeutil.TypeString, Access: dm.ReadWrite, Storage: dm.InDB, Default: "/"},
		{PathTemplate: tmpl + "EnableHeartbeats", Type: typeutil.TypeBool, Access: dm.ReadWrite, Storage: dm.InDB, Default: "true"},
		{PathTemplate: tmpl + "Status", Type: typeutil.TypeString, Access: dm.ReadOnly, Storage: dm.Computed, Getter: a.getSTOMPConnectionStatus},
	}
	for _, p := range defs {
		if err := a.reg.RegisterParameter(p); err != nil {
			return err
		}
	}
	return a.reg.RegisterParameter(&dm.ParameterDef{
		PathTemplate: tmpl + "Password",
		Type:         typeutil.TypeString,
		Access:       dm.ReadWrite,
		Storage:      dm.InDB,
		Default:      "",
	})
}

// getSTOMPConnectionStatus reports "Enabled" if any running STOMP MTP
// instance is Up, since the connection row itself has no standalone
// transport — its liveness is whatever MTP row references it.
func (a *Agent) getSTOMPConnectionStatus(string) (string, error) {
	for id, st := range a.agentMTPs.Status() {
		if st != mtp.StatusUp {
			continue
		}
		proto, err := a.reg.Get("Device.LocalAgent.MTP." + strconv.Itoa(id) + ".Protocol")
		if err == nil && proto == "STOMP" {
			return "Enabled", nil
		}
	}
	return "Disabled", nil
}

func (a *Agent) onSTOMPConnAdd(instancePath string) {
	id, err := instanceIDFromPath(instancePath, "Device.STOMP.Connection.")
	if err != nil {
		return
	}
	a.stompConnInstances.set(id, strconv.FormatUint(uint64(id), 10))
}

func (a *Agent) onSTOMPConnDelete(instancePath string) {
	id, err := instanceIDFromPath(instancePath, "Device.STOMP.Connection.")
	if err != nil {
		return
	}
	a.stompConnInstances.remove(id)
}

// registerControllerTable registers Device.LocalAgent.Controller.{i}.
// (spec §3 Controller). Each controller carries at most one MTP row in
// the data model, exposed under a literal ".MTP.1." segment rather than
// a second-level "{i}" wildcard: the registry's template matcher treats
// "{i}" as a flat per-segment marker with no notion of which outer
// instance it belongs to, so a genuinely nested "{i}.MTP.{i}." table
// would let Get/Set resolve correctly but Add would never find a
// matching LookupTable (it compares the object template's parent path
// literally, "{i}" included, against the caller's concrete table path).
// One MTP row per controller keeps Add well-defined. Several MTP rows
// per controller arise only from a direct controller.Table.Upsert call;
// neither a USP Add nor the admin surface creates them.
func (a *Agent) registerControllerTable() error {
	const tmpl = "Device.LocalAgent.Controller.{i}."

	if err := a.reg.RegisterObject(&dm.ObjectDef{
		PathTemplate:     tmpl,
		MultiInstance:    true,
		AddNotify:        a.onControllerAdd,
		DeleteNotify:      a.onControllerDelete,
		RefreshInstances: a.ctrlInstances.ids,
	}); err != nil {
		return err
	}

	onChange := func(string, string, string) { a.reconcileController() }
	defs := []*dm.ParameterDef{
		{PathTemplate: tmpl + "EndpointID", Type: typeutil.TypeString, Access: dm.ReadWrite, Storage: dm.InDB, Default: "", ChangeNotify: onChange},
		{PathTemplate: tmpl + "MTP.1.Protocol", Type: typeutil.TypeString, Access: dm.ReadWrite, Storage: dm.InDB, Default: "STOMP", ChangeNotify: onChange},
		{PathTemplate: tmpl + "MTP.1.STOMPDestination", Type: typeutil.TypeString, Access: dm.ReadWrite, Storage: dm.InDB, Default: "", ChangeNotify: onChange},
		{PathTemplate: tmpl + "MTP.1.CoAPURI", Type: typeutil.TypeString, Access: dm.ReadWrite, Storage: dm.InDB, Default: "", ChangeNotify: onChange},
		{PathTemplate: tmpl + "MTP.1.Preferred", Type: typeutil.TypeBool, Access: dm.ReadWrite, Storage: dm.InDB, Default: "true", ChangeNotify: onChange},
	}
	for _, p := range defs {
		if err := a.reg.RegisterParameter(p); err != nil {
			return err
		}
	}
	return nil
}

func (a *Agent) onControllerAdd(instancePath string) {
	id, err := instanceIDFromPath(instancePath, "Device.LocalAgent.Controller.")
	if err != nil {
		a.logger.Warn("agent: malformed controller instance path on add", "path", instancePath, "err", err)
		return
	}
	endpointID, _ := a.reg.Get(instancePath + "EndpointID")
	a.ctrlInstances.set(id, endpointID)
	a.upsertControllerRow(endpointID, instancePath)
}

func (a *Agent) reconcileController() {
	ids, err := a.ctrlInstances.ids()
	if err != nil {
		return
	}
	for _, id := range ids {
		base := fmt.Sprintf("Device.LocalAgent.Controller.%d.", id)
		endpointID, _ := a.reg.Get(base + "EndpointID")
		a.upsertControllerRow(endpointID, base)
	}
}

func (a *Agent) upsertControllerRow(endpointID, base string) {
	if endpointID == "" {
		return
	}
	protocol, _ := a.reg.Get(base + "MTP.1.Protocol")
	dest, _ := a.reg.Get(base + "MTP.1.STOMPDestination")
	coapURI, _ := a.reg.Get(base + "MTP.1.CoAPURI")
	preferredStr, _ := a.reg.Get(base + "MTP.1.Preferred")
	preferred, _ := typeutil.ParseBool(preferredStr)

	existing, ok := a.controllers.Get(endpointID)
	role := controller.RoleFullAccess
	if ok {
		role = existing.Role // Set never downgrades a previously assigned role
	}
	a.controllers.Upsert(&controller.Controller{
		EndpointID: endpointID,
		Role:       role,
		MTPs: []controller.MTPRow{{
			Protocol:         protocol,
			STOMPDestination: dest,
			CoAPURI:          coapURI,
			Preferred:        preferred,
		}},
	})
}

func (a *Agent) onControllerDelete(instancePath string) {
	id, err := instanceIDFromPath(instancePath, "Device.LocalAgent.Controller.")
	if err != nil {
		return
	}
	if endpointID, ok := a.ctrlInstances.keyFor(id); ok {
		a.controllers.Remove(endpointID)
	}
	a.ctrlInstances.remove(id)
}

// registerSubscriptionTable registers Device.LocalAgent.Subscription.{i}.
// (spec §4.6). Persistent maps to the Subscription Engine's NotifRetry:
// both describe a notification this agent must not silently drop.
func (a *Agent) registerSubscriptionTable() error {
	const tmpl = "Device.LocalAgent.Subscription.{i}."

	if err := a.reg.RegisterObject(&dm.ObjectDef{
		PathTemplate:     tmpl,
		MultiInstance:    true,
		AddNotify:        a.onSubscriptionAdd,
		DeleteNotify:      a.onSubscriptionDelete,
		RefreshInstances: a.subInstances.ids,
	}); err != nil {
		return err
	}

	defs := []*dm.ParameterDef{
		{PathTemplate: tmpl + "Recipient.ID", Type: typeutil.TypeString, Access: dm.ReadWrite, Storage: dm.InDB, Default: ""},
		{PathTemplate: tmpl + "ID", Type: typeutil.TypeString, Access: dm.ReadWrite, Storage: dm.InDB, Default: ""},
		{PathTemplate: tmpl + "NotifType", Type: typeutil.TypeString, Access: dm.ReadWrite, Storage: dm.InDB, Default: string(usppb.NotifyValueChange)},
		{PathTemplate: tmpl + "ReferenceList", Type: typeutil.TypeString, Access: dm.ReadWrite, Storage: dm.InDB, Default: ""},
		{PathTemplate: tmpl + "Persistent", Type: typeutil.TypeBool, Access: dm.ReadWrite, Storage: dm.InDB, Default: "false"},
	}
	for _, p := range defs {
		if err := a.reg.RegisterParameter(p); err != nil {
			return err
		}
	}
	return nil
}

func (a *Agent) onSubscriptionAdd(instancePath string) {
	id, err := instanceIDFromPath(instancePath, "Device.LocalAgent.Subscription.")
	if err != nil {
		a.logger.Warn("agent: malformed subscription instance path on add", "path", instancePath, "err", err)
		return
	}
	s := a.loadSubscriptionRow(instancePath)
	if s == nil {
		return
	}
	a.subInstances.set(id, s.ID)
	a.subscriptions.AddSubscription(s)
}

func (a *Agent) onSubscriptionDelete(instancePath string) {
	id, err := instanceIDFromPath(instancePath, "Device.LocalAgent.Subscription.")
	if err != nil {
		return
	}
	if subID, ok := a.subInstances.keyFor(id); ok {
		a.subscriptions.RemoveSubscription(subID)
	}
	a.subInstances.remove(id)
}

func (a *Agent) loadSubscriptionRow(instancePath string) *subscription.Subscription {
	recipientID, _ := a.reg.Get(instancePath + "Recipient.ID")
	subID, _ := a.reg.Get(instancePath + "ID")
	notifType, _ := a.reg.Get(instancePath + "NotifType")
	refListStr, _ := a.reg.Get(instancePath + "ReferenceList")
	persistentStr, _ := a.reg.Get(instancePath + "Persistent")
	persistent, _ := typeutil.ParseBool(persistentStr)

	if subID == "" || recipientID == "" {
		a.logger.Warn("agent: subscription row missing ID/Recipient.ID, skipping", "path", instancePath)
		return nil
	}
	var refs []string
	for _, r := range strings.Split(refListStr, ",") {
		if r = strings.TrimSpace(r); r != "" {
			refs = append(refs, r)
		}
	}
	return &subscription.Subscription{
		ID:               subID,
		ControllerID:     recipientID,
		Kind:             usppb.NotifyKind(notifType),
		ReferenceList:    refs,
		Enable:           true,
		NotifRetry:       persistent,
		PeriodicInterval: a.cfg.ValueChangePollPeriod,
	}
}

// registerDeviceInfo registers Device.DeviceInfo.{UpTime, SerialNumber,
// SoftwareVersion} (spec §8 scenario 5's canonical ValueChange demo path).
func (a *Agent) registerDeviceInfo() error {
	defs := []*dm.ParameterDef{
		{PathTemplate: "Device.DeviceInfo.UpTime", Type: typeutil.TypeUnsigned, Access: dm.ReadOnly, Storage: dm.Computed, Getter: a.getUpTime},
		{PathTemplate: "Device.DeviceInfo.SerialNumber", Type: typeutil.TypeString, Access: dm.ReadOnly, Storage: dm.InDB, Default: ""},
		{PathTemplate: "Device.DeviceInfo.SoftwareVersion", Type: typeutil.TypeString, Access: dm.ReadOnly, Storage: dm.Constant, Default: agentVersion},
	}
	for _, p := range defs {
		if err := a.reg.RegisterParameter(p); err != nil {
			return err
		}
	}
	return nil
}

func (a *Agent) getUpTime(string) (string, error) {
	return strconv.FormatInt(int64(time.Since(a.startedAt).Seconds()), 10), nil
}

// instanceIDFromPath parses the instance segment immediately following
// prefix in an instance path (e.g. "Device.LocalAgent.MTP.3." with
// prefix "Device.LocalAgent.MTP." yields 3).
func instanceIDFromPath(path, prefix string) (uint32, error) {
	rest := strings.TrimPrefix(path, prefix)
	if rest == path {
		return 0, fmt.Errorf("agent: path %q does not have prefix %q", path, prefix)
	}
	rest = strings.TrimSuffix(rest, ".")
	seg := rest
	if idx := strings.IndexByte(rest, '.'); idx >= 0 {
		seg = rest[:idx]
	}
	n, err := strconv.ParseUint(seg, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("agent: malformed instance segment in %q: %w", path, err)
	}
	return uint32(n), nil
}
