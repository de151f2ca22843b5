package dispatch

import (
	"fmt"

	"github.com/jeeves-cluster-organization/uspagent/internal/dm"
	"github.com/jeeves-cluster-organization/uspagent/internal/usppb"
)

// handleSet implements spec §4.1/§4.3/§4.4 Set: every update is buffered
// into one transaction; if any param fails and AllowPartial is false the
// whole transaction aborts and every update is reported failed, otherwise
// only the failing params are reported and the rest commit.
func (d *Dispatcher) handleSet(req *usppb.SetRequest) *usppb.SetResponse {
	t, err := d.txns.Begin()
	if err != nil {
		return allSetsFailed(req, err)
	}

	results := make([]usppb.SetResult, len(req.Updates))
	anyFail := false
	for i, u := range req.Updates {
		var paramErrs []usppb.ParamError
		for _, pv := range u.Params {
			if err := t.BufferSet(pv.Path, pv.Value); err != nil {
				code, msg := errCodeFor(err)
				paramErrs = append(paramErrs, usppb.ParamError{Path: pv.Path, ErrCode: code, ErrMsg: msg})
			}
		}
		ok := len(paramErrs) == 0
		anyFail = anyFail || !ok
		results[i] = usppb.SetResult{Path: u.ObjPath, OperationSuccess: ok, ParamErrs: paramErrs}
	}

	if anyFail && !req.AllowPartial {
		t.Abort()
		for i := range results {
			results[i].OperationSuccess = false
			if len(results[i].ParamErrs) == 0 {
				code, msg := errCodeFor(&dm.Error{Kind: dm.KindCRUDFailure, Path: results[i].Path, Msg: "aborted: another update in this request failed and allow_partial is false"})
				results[i].ErrCode = code
				results[i].ErrMsg = msg
			}
		}
		return &usppb.SetResponse{Results: results}
	}

	if err := t.Commit(); err != nil {
		return allSetsFailed(req, err)
	}

	for i, u := range req.Updates {
		if !results[i].OperationSuccess {
			continue
		}
		var committed []usppb.ParamValue
		for _, pv := range u.Params {
			if v, err := d.reg.Get(pv.Path); err == nil {
				committed = append(committed, usppb.ParamValue{Path: pv.Path, Value: v})
			}
		}
		results[i].Params = committed
	}
	return &usppb.SetResponse{Results: results}
}

func allSetsFailed(req *usppb.SetRequest, err error) *usppb.SetResponse {
	code, msg := errCodeFor(err)
	results := make([]usppb.SetResult, len(req.Updates))
	for i, u := range req.Updates {
		results[i] = usppb.SetResult{Path: u.ObjPath, OperationSuccess: false, ErrCode: code, ErrMsg: msg}
	}
	return &usppb.SetResponse{Results: results}
}

// handleAdd implements spec §4.1/§4.3/§4.4 Add: buffers each creation,
// honoring AllowPartial the same way handleSet does.
func (d *Dispatcher) handleAdd(req *usppb.AddRequest) *usppb.AddResponse {
	t, err := d.txns.Begin()
	if err != nil {
		return allAddsFailed(req, err)
	}

	type committed struct {
		idx      int
		objPath  string
		instance uint32
	}

	results := make([]usppb.AddResult, len(req.CreateObjs))
	var ok []committed
	anyFail := false
	for i, c := range req.CreateObjs {
		id, err := t.BufferAdd(c.ObjPath, toParamMap(c.Params))
		if err != nil {
			anyFail = true
			code, msg := errCodeFor(err)
			results[i] = usppb.AddResult{ObjPath: c.ObjPath, OperationSuccess: false, ErrCode: code, ErrMsg: msg}
			continue
		}
		results[i] = usppb.AddResult{ObjPath: c.ObjPath, InstanceNumber: id, OperationSuccess: true}
		ok = append(ok, committed{idx: i, objPath: c.ObjPath, instance: id})
	}

	if anyFail && !req.AllowPartial {
		t.Abort()
		for i := range results {
			results[i].OperationSuccess = false
			results[i].InstanceNumber = 0
			if results[i].ErrCode == 0 {
				code, msg := errCodeFor(&dm.Error{Kind: dm.KindCRUDFailure, Path: results[i].ObjPath, Msg: "aborted: another create in this request failed and allow_partial is false"})
				results[i].ErrCode = code
				results[i].ErrMsg = msg
			}
		}
		return &usppb.AddResponse{Results: results}
	}

	if err := t.Commit(); err != nil {
		return allAddsFailed(req, err)
	}

	for _, c := range ok {
		instPath := fmt.Sprintf("%s.%d.", c.objPath, c.instance)
		if params, err := d.paramsUnder(instPath); err == nil {
			results[c.idx].Params = params
		}
	}
	return &usppb.AddResponse{Results: results}
}

func allAddsFailed(req *usppb.AddRequest, err error) *usppb.AddResponse {
	code, msg := errCodeFor(err)
	results := make([]usppb.AddResult, len(req.CreateObjs))
	for i, c := range req.CreateObjs {
		results[i] = usppb.AddResult{ObjPath: c.ObjPath, OperationSuccess: false, ErrCode: code, ErrMsg: msg}
	}
	return &usppb.AddResponse{Results: results}
}

// handleDelete implements spec §4.1/§4.3/§4.4 Delete, honoring
// AllowPartial the same way handleSet and handleAdd do.
func (d *Dispatcher) handleDelete(req *usppb.DeleteRequest) *usppb.DeleteResponse {
	t, err := d.txns.Begin()
	if err != nil {
		return allDeletesFailed(req, err)
	}

	results := make([]usppb.DeleteResult, len(req.ObjPaths))
	anyFail := false
	for i, p := range req.ObjPaths {
		if err := t.BufferDelete(p); err != nil {
			anyFail = true
			code, msg := errCodeFor(err)
			results[i] = usppb.DeleteResult{Path: p, OperationSuccess: false, ErrCode: code, ErrMsg: msg}
			continue
		}
		results[i] = usppb.DeleteResult{Path: p, OperationSuccess: true, AffectedPaths: []string{p}}
	}

	if anyFail && !req.AllowPartial {
		t.Abort()
		for i := range results {
			results[i].OperationSuccess = false
			results[i].AffectedPaths = nil
			if results[i].ErrCode == 0 {
				code, msg := errCodeFor(&dm.Error{Kind: dm.KindCRUDFailure, Path: results[i].Path, Msg: "aborted: another delete in this request failed and allow_partial is false"})
				results[i].ErrCode = code
				results[i].ErrMsg = msg
			}
		}
		return &usppb.DeleteResponse{Results: results}
	}

	if err := t.Commit(); err != nil {
		return allDeletesFailed(req, err)
	}
	return &usppb.DeleteResponse{Results: results}
}

func allDeletesFailed(req *usppb.DeleteRequest, err error) *usppb.DeleteResponse {
	code, msg := errCodeFor(err)
	results := make([]usppb.DeleteResult, len(req.ObjPaths))
	for i, p := range req.ObjPaths {
		results[i] = usppb.DeleteResult{Path: p, OperationSuccess: false, ErrCode: code, ErrMsg: msg}
	}
	return &usppb.DeleteResponse{Results: results}
}
