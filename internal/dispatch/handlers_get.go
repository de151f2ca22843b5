package dispatch

import (
	"fmt"
	"strings"

	"github.com/jeeves-cluster-organization/uspagent/internal/usppb"
)

// handleGet implements spec §4.1/§4.4 Get: each requested path expression
// is resolved against the live instance set, then every descendant
// parameter under each resolved path is returned.
func (d *Dispatcher) handleGet(req *usppb.GetRequest) *usppb.GetResponse {
	resp := &usppb.GetResponse{}
	for _, reqPath := range req.Paths {
		resolved, err := d.resolver.Resolve(reqPath, false)
		if err != nil {
			code, msg := errCodeFor(err)
			resp.Results = append(resp.Results, usppb.GetResult{ReqPath: reqPath, ErrCode: code, ErrMsg: msg})
			continue
		}
		if len(resolved) == 0 {
			code, msg := errCodeFor(notFoundErr(reqPath))
			resp.Results = append(resp.Results, usppb.GetResult{ReqPath: reqPath, ErrCode: code, ErrMsg: msg})
			continue
		}
		for _, rp := range resolved {
			params, err := d.paramsUnder(rp)
			if err != nil {
				code, msg := errCodeFor(err)
				resp.Results = append(resp.Results, usppb.GetResult{ReqPath: reqPath, ResolvedPath: rp, ErrCode: code, ErrMsg: msg})
				continue
			}
			resp.Results = append(resp.Results, usppb.GetResult{ReqPath: reqPath, ResolvedPath: rp, Params: params})
		}
	}
	return resp
}

// handleGetInstances implements spec §4.5: the currently cached/refreshed
// instance numbers of every requested multi-instance table.
func (d *Dispatcher) handleGetInstances(req *usppb.GetInstancesRequest) *usppb.GetInstancesResponse {
	resp := &usppb.GetInstancesResponse{}
	for _, objPath := range req.ObjPaths {
		ids, err := d.cache.Instances(objPath)
		if err != nil {
			resp.ReqPathResults = append(resp.ReqPathResults, usppb.InstancesResult{ReqPath: objPath})
			continue
		}
		paths := make([]string, 0, len(ids))
		for _, id := range ids {
			paths = append(paths, fmt.Sprintf("%s.%d.", strings.TrimSuffix(objPath, "."), id))
		}
		resp.ReqPathResults = append(resp.ReqPathResults, usppb.InstancesResult{ReqPath: objPath, CurrInstances: paths})
	}
	return resp
}

// handleGetSupportedDM implements spec §4.4: schema introspection over
// the frozen registry, scoped to each requested subtree.
func (d *Dispatcher) handleGetSupportedDM(req *usppb.GetSupportedDMRequest) *usppb.GetSupportedDMResponse {
	resp := &usppb.GetSupportedDMResponse{}
	objs := d.reg.Objects()
	params := d.reg.Parameters()
	ops := d.reg.Operations()
	events := d.reg.Events()

	for _, reqPath := range req.ObjPaths {
		prefix := strings.TrimSuffix(reqPath, ".")
		result := usppb.SupportedDMResult{ReqObjPath: reqPath, DataModelInstURI: DataModelURI}

		for tmpl, o := range objs {
			norm := strings.TrimSuffix(tmpl, ".")
			if prefix != "" && !strings.HasPrefix(norm, prefix) {
				continue
			}
			so := usppb.SupportedObjResult{SupportedObjPath: tmpl, IsMultiInstance: o.MultiInstance}
			if req.ReturnParams {
				for ptmpl := range params {
					if parentTemplate(ptmpl) == norm {
						so.ParamNames = append(so.ParamNames, ptmpl)
					}
				}
			}
			if req.ReturnCommands {
				for otmpl := range ops {
					if parentTemplate(otmpl) == norm {
						so.CommandNames = append(so.CommandNames, otmpl)
					}
				}
			}
			if req.ReturnEvents {
				for etmpl := range events {
					if parentTemplate(etmpl) == norm {
						so.EventNames = append(so.EventNames, etmpl)
					}
				}
			}
			result.SupportedObjs = append(result.SupportedObjs, so)
		}
		resp.ReqObjResults = append(resp.ReqObjResults, result)
	}
	return resp
}

// DataModelURI is the data-model URI advertised in GetSupportedDM and
// GetSupportedProtocol responses (spec §6: "urn:broadband-forum-org:tr-181-2-12-0").
const DataModelURI = "urn:broadband-forum-org:tr-181-2-12-0"

// AgentSupportedProtocolVersions is the USP protocol version list this
// agent advertises (spec §6 External Interfaces).
const AgentSupportedProtocolVersions = "1.3"

// handleGetSupportedProtocol implements spec §4.4: protocol-version
// handshake, independent of the data model registry.
func (d *Dispatcher) handleGetSupportedProtocol(req *usppb.GetSupportedProtocolRequest) *usppb.GetSupportedProtocolResponse {
	return &usppb.GetSupportedProtocolResponse{AgentSupportedProtocolVersions: AgentSupportedProtocolVersions}
}
