package usppb

import "google.golang.org/protobuf/encoding/protowire"

// This file defines the per-operation USP Message bodies the dispatcher
// and data model registry exchange (spec §1: Get, Set, Add, Delete,
// Operate, Notify, GetSupportedDM, GetSupportedProtocol, GetInstances).
// Each body type implements Marshal/Unmarshal using the same field-number
// convention as Record and Message. Body bytes are carried opaquely in
// Message.Body and decoded by the caller once Header.MsgType is known.

// ParamValue is a single path/value pair (spec §3 Parameter).
type ParamValue struct {
	Path  string
	Value string
}

const (
	fParamValuePath  = 1
	fParamValueValue = 2
)

func (p ParamValue) marshal() []byte {
	var b []byte
	b = appendString(b, fParamValuePath, p.Path)
	b = appendString(b, fParamValueValue, p.Value)
	return b
}

func unmarshalParamValue(data []byte) (ParamValue, error) {
	fields, err := parseFields(data)
	if err != nil {
		return ParamValue{}, err
	}
	var p ParamValue
	for _, f := range fields {
		switch f.num {
		case fParamValuePath:
			p.Path = string(f.bytes)
		case fParamValueValue:
			p.Value = string(f.bytes)
		}
	}
	return p, nil
}

func appendParamValues(b []byte, num protowire.Number, vs []ParamValue) []byte {
	for _, v := range vs {
		b = appendMessage(b, num, v.marshal())
	}
	return b
}

// ParamError reports a per-parameter failure within a partial-success
// response (spec §4.7 Message Dispatcher: "assemble per-path
// partial-success responses").
type ParamError struct {
	Path    string
	ErrCode uint32
	ErrMsg  string
}

const (
	fParamErrorPath    = 1
	fParamErrorErrCode = 2
	fParamErrorErrMsg  = 3
)

func (p ParamError) marshal() []byte {
	var b []byte
	b = appendString(b, fParamErrorPath, p.Path)
	b = appendVarint(b, fParamErrorErrCode, uint64(p.ErrCode))
	b = appendString(b, fParamErrorErrMsg, p.ErrMsg)
	return b
}

func unmarshalParamError(data []byte) (ParamError, error) {
	fields, err := parseFields(data)
	if err != nil {
		return ParamError{}, err
	}
	var p ParamError
	for _, f := range fields {
		switch f.num {
		case fParamErrorPath:
			p.Path = string(f.bytes)
		case fParamErrorErrCode:
			p.ErrCode = uint32(f.vint)
		case fParamErrorErrMsg:
			p.ErrMsg = string(f.bytes)
		}
	}
	return p, nil
}

// Error is the body for MsgError: a global failure, optionally carrying
// per-parameter errors so a controller can tell which operands of a
// partial-success request failed.
type Error struct {
	ErrCode   uint32
	ErrMsg    string
	ParamErrs []ParamError
}

const (
	fErrorErrCode   = 1
	fErrorErrMsg    = 2
	fErrorParamErrs = 3
)

func (e *Error) Marshal() []byte {
	var b []byte
	b = appendVarint(b, fErrorErrCode, uint64(e.ErrCode))
	b = appendString(b, fErrorErrMsg, e.ErrMsg)
	for _, pe := range e.ParamErrs {
		b = appendMessage(b, fErrorParamErrs, pe.marshal())
	}
	return b
}

func UnmarshalError(data []byte) (*Error, error) {
	fields, err := parseFields(data)
	if err != nil {
		return nil, err
	}
	e := &Error{}
	for _, f := range fields {
		switch f.num {
		case fErrorErrCode:
			e.ErrCode = uint32(f.vint)
		case fErrorErrMsg:
			e.ErrMsg = string(f.bytes)
		case fErrorParamErrs:
			pe, err := unmarshalParamError(f.bytes)
			if err != nil {
				return nil, err
			}
			e.ParamErrs = append(e.ParamErrs, pe)
		}
	}
	return e, nil
}

// --- Get ---

type GetRequest struct {
	Paths    []string
	MaxDepth uint32
}

const (
	fGetReqPaths    = 1
	fGetReqMaxDepth = 2
)

func (r *GetRequest) Marshal() []byte {
	var b []byte
	for _, p := range r.Paths {
		b = appendString(b, fGetReqPaths, p)
	}
	b = appendVarint(b, fGetReqMaxDepth, uint64(r.MaxDepth))
	return b
}

func UnmarshalGetRequest(data []byte) (*GetRequest, error) {
	fields, err := parseFields(data)
	if err != nil {
		return nil, err
	}
	r := &GetRequest{}
	for _, f := range fields {
		switch f.num {
		case fGetReqPaths:
			r.Paths = append(r.Paths, string(f.bytes))
		case fGetReqMaxDepth:
			r.MaxDepth = uint32(f.vint)
		}
	}
	return r, nil
}

type GetResult struct {
	ReqPath      string
	ResolvedPath string
	Params       []ParamValue
	ErrCode      uint32
	ErrMsg       string
}

const (
	fGetResultReqPath      = 1
	fGetResultResolvedPath = 2
	fGetResultParams       = 3
	fGetResultErrCode      = 4
	fGetResultErrMsg       = 5
)

func (r GetResult) marshal() []byte {
	var b []byte
	b = appendString(b, fGetResultReqPath, r.ReqPath)
	b = appendString(b, fGetResultResolvedPath, r.ResolvedPath)
	b = appendParamValues(b, fGetResultParams, r.Params)
	b = appendVarint(b, fGetResultErrCode, uint64(r.ErrCode))
	b = appendString(b, fGetResultErrMsg, r.ErrMsg)
	return b
}

func unmarshalGetResult(data []byte) (GetResult, error) {
	fields, err := parseFields(data)
	if err != nil {
		return GetResult{}, err
	}
	var r GetResult
	for _, f := range fields {
		switch f.num {
		case fGetResultReqPath:
			r.ReqPath = string(f.bytes)
		case fGetResultResolvedPath:
			r.ResolvedPath = string(f.bytes)
		case fGetResultParams:
			pv, err := unmarshalParamValue(f.bytes)
			if err != nil {
				return GetResult{}, err
			}
			r.Params = append(r.Params, pv)
		case fGetResultErrCode:
			r.ErrCode = uint32(f.vint)
		case fGetResultErrMsg:
			r.ErrMsg = string(f.bytes)
		}
	}
	return r, nil
}

type GetResponse struct {
	Results []GetResult
}

const fGetRespResults = 1

func (r *GetResponse) Marshal() []byte {
	var b []byte
	for _, res := range r.Results {
		b = appendMessage(b, fGetRespResults, res.marshal())
	}
	return b
}

func UnmarshalGetResponse(data []byte) (*GetResponse, error) {
	fields, err := parseFields(data)
	if err != nil {
		return nil, err
	}
	r := &GetResponse{}
	for _, f := range fields {
		if f.num == fGetRespResults {
			res, err := unmarshalGetResult(f.bytes)
			if err != nil {
				return nil, err
			}
			r.Results = append(r.Results, res)
		}
	}
	return r, nil
}

// --- Set ---

type SetUpdate struct {
	ObjPath string
	Params  []ParamValue
}

const (
	fSetUpdateObjPath = 1
	fSetUpdateParams  = 2
)

func (u SetUpdate) marshal() []byte {
	var b []byte
	b = appendString(b, fSetUpdateObjPath, u.ObjPath)
	b = appendParamValues(b, fSetUpdateParams, u.Params)
	return b
}

func unmarshalSetUpdate(data []byte) (SetUpdate, error) {
	fields, err := parseFields(data)
	if err != nil {
		return SetUpdate{}, err
	}
	var u SetUpdate
	for _, f := range fields {
		switch f.num {
		case fSetUpdateObjPath:
			u.ObjPath = string(f.bytes)
		case fSetUpdateParams:
			pv, err := unmarshalParamValue(f.bytes)
			if err != nil {
				return SetUpdate{}, err
			}
			u.Params = append(u.Params, pv)
		}
	}
	return u, nil
}

type SetRequest struct {
	AllowPartial bool
	Updates      []SetUpdate
}

const (
	fSetReqAllowPartial = 1
	fSetReqUpdates      = 2
)

func (r *SetRequest) Marshal() []byte {
	var b []byte
	b = appendBool(b, fSetReqAllowPartial, r.AllowPartial)
	for _, u := range r.Updates {
		b = appendMessage(b, fSetReqUpdates, u.marshal())
	}
	return b
}

func UnmarshalSetRequest(data []byte) (*SetRequest, error) {
	fields, err := parseFields(data)
	if err != nil {
		return nil, err
	}
	r := &SetRequest{}
	for _, f := range fields {
		switch f.num {
		case fSetReqAllowPartial:
			r.AllowPartial = f.vint == 1
		case fSetReqUpdates:
			u, err := unmarshalSetUpdate(f.bytes)
			if err != nil {
				return nil, err
			}
			r.Updates = append(r.Updates, u)
		}
	}
	return r, nil
}

type SetResult struct {
	Path             string
	Params           []ParamValue
	OperationSuccess bool
	ErrCode          uint32
	ErrMsg           string
	ParamErrs        []ParamError
}

const (
	fSetResultPath             = 1
	fSetResultParams           = 2
	fSetResultOperationSuccess = 3
	fSetResultErrCode          = 4
	fSetResultErrMsg           = 5
	fSetResultParamErrs        = 6
)

func (r SetResult) marshal() []byte {
	var b []byte
	b = appendString(b, fSetResultPath, r.Path)
	b = appendParamValues(b, fSetResultParams, r.Params)
	b = appendBool(b, fSetResultOperationSuccess, r.OperationSuccess)
	b = appendVarint(b, fSetResultErrCode, uint64(r.ErrCode))
	b = appendString(b, fSetResultErrMsg, r.ErrMsg)
	for _, pe := range r.ParamErrs {
		b = appendMessage(b, fSetResultParamErrs, pe.marshal())
	}
	return b
}

func unmarshalSetResult(data []byte) (SetResult, error) {
	fields, err := parseFields(data)
	if err != nil {
		return SetResult{}, err
	}
	var r SetResult
	for _, f := range fields {
		switch f.num {
		case fSetResultPath:
			r.Path = string(f.bytes)
		case fSetResultParams:
			pv, err := unmarshalParamValue(f.bytes)
			if err != nil {
				return SetResult{}, err
			}
			r.Params = append(r.Params, pv)
		case fSetResultOperationSuccess:
			r.OperationSuccess = f.vint == 1
		case fSetResultErrCode:
			r.ErrCode = uint32(f.vint)
		case fSetResultErrMsg:
			r.ErrMsg = string(f.bytes)
		case fSetResultParamErrs:
			pe, err := unmarshalParamError(f.bytes)
			if err != nil {
				return SetResult{}, err
			}
			r.ParamErrs = append(r.ParamErrs, pe)
		}
	}
	return r, nil
}

type SetResponse struct {
	Results []SetResult
}

const fSetRespResults = 1

func (r *SetResponse) Marshal() []byte {
	var b []byte
	for _, res := range r.Results {
		b = appendMessage(b, fSetRespResults, res.marshal())
	}
	return b
}

func UnmarshalSetResponse(data []byte) (*SetResponse, error) {
	fields, err := parseFields(data)
	if err != nil {
		return nil, err
	}
	r := &SetResponse{}
	for _, f := range fields {
		if f.num == fSetRespResults {
			res, err := unmarshalSetResult(f.bytes)
			if err != nil {
				return nil, err
			}
			r.Results = append(r.Results, res)
		}
	}
	return r, nil
}

// --- Add ---

type AddCreateObject struct {
	ObjPath string
	Params  []ParamValue
}

const (
	fAddCreateObjPath = 1
	fAddCreateParams  = 2
)

func (c AddCreateObject) marshal() []byte {
	var b []byte
	b = appendString(b, fAddCreateObjPath, c.ObjPath)
	b = appendParamValues(b, fAddCreateParams, c.Params)
	return b
}

func unmarshalAddCreateObject(data []byte) (AddCreateObject, error) {
	fields, err := parseFields(data)
	if err != nil {
		return AddCreateObject{}, err
	}
	var c AddCreateObject
	for _, f := range fields {
		switch f.num {
		case fAddCreateObjPath:
			c.ObjPath = string(f.bytes)
		case fAddCreateParams:
			pv, err := unmarshalParamValue(f.bytes)
			if err != nil {
				return AddCreateObject{}, err
			}
			c.Params = append(c.Params, pv)
		}
	}
	return c, nil
}

type AddRequest struct {
	AllowPartial bool
	CreateObjs   []AddCreateObject
}

const (
	fAddReqAllowPartial = 1
	fAddReqCreateObjs   = 2
)

func (r *AddRequest) Marshal() []byte {
	var b []byte
	b = appendBool(b, fAddReqAllowPartial, r.AllowPartial)
	for _, c := range r.CreateObjs {
		b = appendMessage(b, fAddReqCreateObjs, c.marshal())
	}
	return b
}

func UnmarshalAddRequest(data []byte) (*AddRequest, error) {
	fields, err := parseFields(data)
	if err != nil {
		return nil, err
	}
	r := &AddRequest{}
	for _, f := range fields {
		switch f.num {
		case fAddReqAllowPartial:
			r.AllowPartial = f.vint == 1
		case fAddReqCreateObjs:
			c, err := unmarshalAddCreateObject(f.bytes)
			if err != nil {
				return nil, err
			}
			r.CreateObjs = append(r.CreateObjs, c)
		}
	}
	return r, nil
}

type AddResult struct {
	ObjPath          string
	InstanceNumber   uint32
	Params           []ParamValue
	OperationSuccess bool
	ErrCode          uint32
	ErrMsg           string
	ParamErrs        []ParamError
}

const (
	fAddResultObjPath          = 1
	fAddResultInstanceNumber   = 2
	fAddResultParams           = 3
	fAddResultOperationSuccess = 4
	fAddResultErrCode          = 5
	fAddResultErrMsg           = 6
	fAddResultParamErrs        = 7
)

func (r AddResult) marshal() []byte {
	var b []byte
	b = appendString(b, fAddResultObjPath, r.ObjPath)
	b = appendVarint(b, fAddResultInstanceNumber, uint64(r.InstanceNumber))
	b = appendParamValues(b, fAddResultParams, r.Params)
	b = appendBool(b, fAddResultOperationSuccess, r.OperationSuccess)
	b = appendVarint(b, fAddResultErrCode, uint64(r.ErrCode))
	b = appendString(b, fAddResultErrMsg, r.ErrMsg)
	for _, pe := range r.ParamErrs {
		b = appendMessage(b, fAddResultParamErrs, pe.marshal())
	}
	return b
}

func unmarshalAddResult(data []byte) (AddResult, error) {
	fields, err := parseFields(data)
	if err != nil {
		return AddResult{}, err
	}
	var r AddResult
	for _, f := range fields {
		switch f.num {
		case fAddResultObjPath:
			r.ObjPath = string(f.bytes)
		case fAddResultInstanceNumber:
			r.InstanceNumber = uint32(f.vint)
		case fAddResultParams:
			pv, err := unmarshalParamValue(f.bytes)
			if err != nil {
				return AddResult{}, err
			}
			r.Params = append(r.Params, pv)
		case fAddResultOperationSuccess:
			r.OperationSuccess = f.vint == 1
		case fAddResultErrCode:
			r.ErrCode = uint32(f.vint)
		case fAddResultErrMsg:
			r.ErrMsg = string(f.bytes)
		case fAddResultParamErrs:
			pe, err := unmarshalParamError(f.bytes)
			if err != nil {
				return AddResult{}, err
			}
			r.ParamErrs = append(r.ParamErrs, pe)
		}
	}
	return r, nil
}

type AddResponse struct {
	Results []AddResult
}

const fAddRespResults = 1

func (r *AddResponse) Marshal() []byte {
	var b []byte
	for _, res := range r.Results {
		b = appendMessage(b, fAddRespResults, res.marshal())
	}
	return b
}

func UnmarshalAddResponse(data []byte) (*AddResponse, error) {
	fields, err := parseFields(data)
	if err != nil {
		return nil, err
	}
	r := &AddResponse{}
	for _, f := range fields {
		if f.num == fAddRespResults {
			res, err := unmarshalAddResult(f.bytes)
			if err != nil {
				return nil, err
			}
			r.Results = append(r.Results, res)
		}
	}
	return r, nil
}

// --- Delete ---

type DeleteRequest struct {
	AllowPartial bool
	ObjPaths     []string
}

const (
	fDeleteReqAllowPartial = 1
	fDeleteReqObjPaths     = 2
)

func (r *DeleteRequest) Marshal() []byte {
	var b []byte
	b = appendBool(b, fDeleteReqAllowPartial, r.AllowPartial)
	for _, p := range r.ObjPaths {
		b = appendString(b, fDeleteReqObjPaths, p)
	}
	return b
}

func UnmarshalDeleteRequest(data []byte) (*DeleteRequest, error) {
	fields, err := parseFields(data)
	if err != nil {
		return nil, err
	}
	r := &DeleteRequest{}
	for _, f := range fields {
		switch f.num {
		case fDeleteReqAllowPartial:
			r.AllowPartial = f.vint == 1
		case fDeleteReqObjPaths:
			r.ObjPaths = append(r.ObjPaths, string(f.bytes))
		}
	}
	return r, nil
}

type DeleteResult struct {
	Path             string
	OperationSuccess bool
	AffectedPaths    []string
	ErrCode          uint32
	ErrMsg           string
}

const (
	fDeleteResultPath             = 1
	fDeleteResultOperationSuccess = 2
	fDeleteResultAffectedPaths    = 3
	fDeleteResultErrCode          = 4
	fDeleteResultErrMsg           = 5
)

func (r DeleteResult) marshal() []byte {
	var b []byte
	b = appendString(b, fDeleteResultPath, r.Path)
	b = appendBool(b, fDeleteResultOperationSuccess, r.OperationSuccess)
	for _, p := range r.AffectedPaths {
		b = appendString(b, fDeleteResultAffectedPaths, p)
	}
	b = appendVarint(b, fDeleteResultErrCode, uint64(r.ErrCode))
	b = appendString(b, fDeleteResultErrMsg, r.ErrMsg)
	return b
}

func unmarshalDeleteResult(data []byte) (DeleteResult, error) {
	fields, err := parseFields(data)
	if err != nil {
		return DeleteResult{}, err
	}
	var r DeleteResult
	for _, f := range fields {
		switch f.num {
		case fDeleteResultPath:
			r.Path = string(f.bytes)
		case fDeleteResultOperationSuccess:
			r.OperationSuccess = f.vint == 1
		case fDeleteResultAffectedPaths:
			r.AffectedPaths = append(r.AffectedPaths, string(f.bytes))
		case fDeleteResultErrCode:
			r.ErrCode = uint32(f.vint)
		case fDeleteResultErrMsg:
			r.ErrMsg = string(f.bytes)
		}
	}
	return r, nil
}

type DeleteResponse struct {
	Results []DeleteResult
}

const fDeleteRespResults = 1

func (r *DeleteResponse) Marshal() []byte {
	var b []byte
	for _, res := range r.Results {
		b = appendMessage(b, fDeleteRespResults, res.marshal())
	}
	return b
}

func UnmarshalDeleteResponse(data []byte) (*DeleteResponse, error) {
	fields, err := parseFields(data)
	if err != nil {
		return nil, err
	}
	r := &DeleteResponse{}
	for _, f := range fields {
		if f.num == fDeleteRespResults {
			res, err := unmarshalDeleteResult(f.bytes)
			if err != nil {
				return nil, err
			}
			r.Results = append(r.Results, res)
		}
	}
	return r, nil
}

// --- Operate ---

type OperateRequest struct {
	Command    string
	CommandKey string
	SendResp   bool
	InputArgs  []ParamValue
}

const (
	fOperateReqCommand    = 1
	fOperateReqCommandKey = 2
	fOperateReqSendResp   = 3
	fOperateReqInputArgs  = 4
)

func (r *OperateRequest) Marshal() []byte {
	var b []byte
	b = appendString(b, fOperateReqCommand, r.Command)
	b = appendString(b, fOperateReqCommandKey, r.CommandKey)
	b = appendBool(b, fOperateReqSendResp, r.SendResp)
	b = appendParamValues(b, fOperateReqInputArgs, r.InputArgs)
	return b
}

func UnmarshalOperateRequest(data []byte) (*OperateRequest, error) {
	fields, err := parseFields(data)
	if err != nil {
		return nil, err
	}
	r := &OperateRequest{}
	for _, f := range fields {
		switch f.num {
		case fOperateReqCommand:
			r.Command = string(f.bytes)
		case fOperateReqCommandKey:
			r.CommandKey = string(f.bytes)
		case fOperateReqSendResp:
			r.SendResp = f.vint == 1
		case fOperateReqInputArgs:
			pv, err := unmarshalParamValue(f.bytes)
			if err != nil {
				return nil, err
			}
			r.InputArgs = append(r.InputArgs, pv)
		}
	}
	return r, nil
}

type OperateResult struct {
	ExecutedCommand string
	CommandKey      string
	Success         bool
	OutputArgs      []ParamValue
	ErrCode         uint32
	ErrMsg          string
}

const (
	fOperateResultExecutedCommand = 1
	fOperateResultCommandKey      = 2
	fOperateResultSuccess         = 3
	fOperateResultOutputArgs      = 4
	fOperateResultErrCode         = 5
	fOperateResultErrMsg          = 6
)

func (r OperateResult) marshal() []byte {
	var b []byte
	b = appendString(b, fOperateResultExecutedCommand, r.ExecutedCommand)
	b = appendString(b, fOperateResultCommandKey, r.CommandKey)
	b = appendBool(b, fOperateResultSuccess, r.Success)
	b = appendParamValues(b, fOperateResultOutputArgs, r.OutputArgs)
	b = appendVarint(b, fOperateResultErrCode, uint64(r.ErrCode))
	b = appendString(b, fOperateResultErrMsg, r.ErrMsg)
	return b
}

func unmarshalOperateResult(data []byte) (OperateResult, error) {
	fields, err := parseFields(data)
	if err != nil {
		return OperateResult{}, err
	}
	var r OperateResult
	for _, f := range fields {
		switch f.num {
		case fOperateResultExecutedCommand:
			r.ExecutedCommand = string(f.bytes)
		case fOperateResultCommandKey:
			r.CommandKey = string(f.bytes)
		case fOperateResultSuccess:
			r.Success = f.vint == 1
		case fOperateResultOutputArgs:
			pv, err := unmarshalParamValue(f.bytes)
			if err != nil {
				return OperateResult{}, err
			}
			r.OutputArgs = append(r.OutputArgs, pv)
		case fOperateResultErrCode:
			r.ErrCode = uint32(f.vint)
		case fOperateResultErrMsg:
			r.ErrMsg = string(f.bytes)
		}
	}
	return r, nil
}

type OperateResponse struct {
	Results []OperateResult
}

const fOperateRespResults = 1

func (r *OperateResponse) Marshal() []byte {
	var b []byte
	for _, res := range r.Results {
		b = appendMessage(b, fOperateRespResults, res.marshal())
	}
	return b
}

func UnmarshalOperateResponse(data []byte) (*OperateResponse, error) {
	fields, err := parseFields(data)
	if err != nil {
		return nil, err
	}
	r := &OperateResponse{}
	for _, f := range fields {
		if f.num == fOperateRespResults {
			res, err := unmarshalOperateResult(f.bytes)
			if err != nil {
				return nil, err
			}
			r.Results = append(r.Results, res)
		}
	}
	return r, nil
}

// --- Notify ---

// NotifyKind enumerates the subscription notification types (spec §4.6
// Subscription Engine).
type NotifyKind string

const (
	NotifyValueChange      NotifyKind = "ValueChange"
	NotifyObjectCreation   NotifyKind = "ObjectCreation"
	NotifyObjectDeletion   NotifyKind = "ObjectDeletion"
	NotifyOperationComplete NotifyKind = "OperationComplete"
	NotifyEvent            NotifyKind = "Event"
	NotifyPeriodic          NotifyKind = "Periodic"
)

type NotifyRequest struct {
	SubscriptionID string
	SendResp       bool
	Kind           NotifyKind
	Params         []ParamValue
	ObjPath        string
	Command        string
	CommandKey     string
	EventName      string
}

const (
	fNotifyReqSubscriptionID = 1
	fNotifyReqSendResp       = 2
	fNotifyReqKind           = 3
	fNotifyReqParams         = 4
	fNotifyReqObjPath        = 5
	fNotifyReqCommand        = 6
	fNotifyReqCommandKey     = 7
	fNotifyReqEventName      = 8
)

func (r *NotifyRequest) Marshal() []byte {
	var b []byte
	b = appendString(b, fNotifyReqSubscriptionID, r.SubscriptionID)
	b = appendBool(b, fNotifyReqSendResp, r.SendResp)
	b = appendString(b, fNotifyReqKind, string(r.Kind))
	b = appendParamValues(b, fNotifyReqParams, r.Params)
	b = appendString(b, fNotifyReqObjPath, r.ObjPath)
	b = appendString(b, fNotifyReqCommand, r.Command)
	b = appendString(b, fNotifyReqCommandKey, r.CommandKey)
	b = appendString(b, fNotifyReqEventName, r.EventName)
	return b
}

func UnmarshalNotifyRequest(data []byte) (*NotifyRequest, error) {
	fields, err := parseFields(data)
	if err != nil {
		return nil, err
	}
	r := &NotifyRequest{}
	for _, f := range fields {
		switch f.num {
		case fNotifyReqSubscriptionID:
			r.SubscriptionID = string(f.bytes)
		case fNotifyReqSendResp:
			r.SendResp = f.vint == 1
		case fNotifyReqKind:
			r.Kind = NotifyKind(f.bytes)
		case fNotifyReqParams:
			pv, err := unmarshalParamValue(f.bytes)
			if err != nil {
				return nil, err
			}
			r.Params = append(r.Params, pv)
		case fNotifyReqObjPath:
			r.ObjPath = string(f.bytes)
		case fNotifyReqCommand:
			r.Command = string(f.bytes)
		case fNotifyReqCommandKey:
			r.CommandKey = string(f.bytes)
		case fNotifyReqEventName:
			r.EventName = string(f.bytes)
		}
	}
	return r, nil
}

type NotifyResponse struct {
	SubscriptionID string
}

const fNotifyRespSubscriptionID = 1

func (r *NotifyResponse) Marshal() []byte {
	var b []byte
	b = appendString(b, fNotifyRespSubscriptionID, r.SubscriptionID)
	return b
}

func UnmarshalNotifyResponse(data []byte) (*NotifyResponse, error) {
	fields, err := parseFields(data)
	if err != nil {
		return nil, err
	}
	r := &NotifyResponse{}
	for _, f := range fields {
		if f.num == fNotifyRespSubscriptionID {
			r.SubscriptionID = string(f.bytes)
		}
	}
	return r, nil
}

// --- GetSupportedDM ---

type GetSupportedDMRequest struct {
	ObjPaths       []string
	FirstLevelOnly bool
	ReturnCommands bool
	ReturnEvents   bool
	ReturnParams   bool
}

const (
	fGetSupportedDMReqObjPaths       = 1
	fGetSupportedDMReqFirstLevelOnly = 2
	fGetSupportedDMReqReturnCommands = 3
	fGetSupportedDMReqReturnEvents   = 4
	fGetSupportedDMReqReturnParams   = 5
)

func (r *GetSupportedDMRequest) Marshal() []byte {
	var b []byte
	for _, p := range r.ObjPaths {
		b = appendString(b, fGetSupportedDMReqObjPaths, p)
	}
	b = appendBool(b, fGetSupportedDMReqFirstLevelOnly, r.FirstLevelOnly)
	b = appendBool(b, fGetSupportedDMReqReturnCommands, r.ReturnCommands)
	b = appendBool(b, fGetSupportedDMReqReturnEvents, r.ReturnEvents)
	b = appendBool(b, fGetSupportedDMReqReturnParams, r.ReturnParams)
	return b
}

func UnmarshalGetSupportedDMRequest(data []byte) (*GetSupportedDMRequest, error) {
	fields, err := parseFields(data)
	if err != nil {
		return nil, err
	}
	r := &GetSupportedDMRequest{}
	for _, f := range fields {
		switch f.num {
		case fGetSupportedDMReqObjPaths:
			r.ObjPaths = append(r.ObjPaths, string(f.bytes))
		case fGetSupportedDMReqFirstLevelOnly:
			r.FirstLevelOnly = f.vint == 1
		case fGetSupportedDMReqReturnCommands:
			r.ReturnCommands = f.vint == 1
		case fGetSupportedDMReqReturnEvents:
			r.ReturnEvents = f.vint == 1
		case fGetSupportedDMReqReturnParams:
			r.ReturnParams = f.vint == 1
		}
	}
	return r, nil
}

type SupportedObjResult struct {
	SupportedObjPath string
	IsMultiInstance  bool
	ParamNames       []string
	CommandNames     []string
	EventNames       []string
}

const (
	fSupportedObjPath            = 1
	fSupportedObjIsMultiInstance = 2
	fSupportedObjParamNames      = 3
	fSupportedObjCommandNames    = 4
	fSupportedObjEventNames      = 5
)

func (o SupportedObjResult) marshal() []byte {
	var b []byte
	b = appendString(b, fSupportedObjPath, o.SupportedObjPath)
	b = appendBool(b, fSupportedObjIsMultiInstance, o.IsMultiInstance)
	for _, n := range o.ParamNames {
		b = appendString(b, fSupportedObjParamNames, n)
	}
	for _, n := range o.CommandNames {
		b = appendString(b, fSupportedObjCommandNames, n)
	}
	for _, n := range o.EventNames {
		b = appendString(b, fSupportedObjEventNames, n)
	}
	return b
}

func unmarshalSupportedObjResult(data []byte) (SupportedObjResult, error) {
	fields, err := parseFields(data)
	if err != nil {
		return SupportedObjResult{}, err
	}
	var o SupportedObjResult
	for _, f := range fields {
		switch f.num {
		case fSupportedObjPath:
			o.SupportedObjPath = string(f.bytes)
		case fSupportedObjIsMultiInstance:
			o.IsMultiInstance = f.vint == 1
		case fSupportedObjParamNames:
			o.ParamNames = append(o.ParamNames, string(f.bytes))
		case fSupportedObjCommandNames:
			o.CommandNames = append(o.CommandNames, string(f.bytes))
		case fSupportedObjEventNames:
			o.EventNames = append(o.EventNames, string(f.bytes))
		}
	}
	return o, nil
}

type SupportedDMResult struct {
	ReqObjPath       string
	DataModelInstURI string
	SupportedObjs    []SupportedObjResult
}

const (
	fSupportedDMReqObjPath       = 1
	fSupportedDMDataModelInstURI = 2
	fSupportedDMSupportedObjs    = 3
)

func (r SupportedDMResult) marshal() []byte {
	var b []byte
	b = appendString(b, fSupportedDMReqObjPath, r.ReqObjPath)
	b = appendString(b, fSupportedDMDataModelInstURI, r.DataModelInstURI)
	for _, o := range r.SupportedObjs {
		b = appendMessage(b, fSupportedDMSupportedObjs, o.marshal())
	}
	return b
}

func unmarshalSupportedDMResult(data []byte) (SupportedDMResult, error) {
	fields, err := parseFields(data)
	if err != nil {
		return SupportedDMResult{}, err
	}
	var r SupportedDMResult
	for _, f := range fields {
		switch f.num {
		case fSupportedDMReqObjPath:
			r.ReqObjPath = string(f.bytes)
		case fSupportedDMDataModelInstURI:
			r.DataModelInstURI = string(f.bytes)
		case fSupportedDMSupportedObjs:
			o, err := unmarshalSupportedObjResult(f.bytes)
			if err != nil {
				return SupportedDMResult{}, err
			}
			r.SupportedObjs = append(r.SupportedObjs, o)
		}
	}
	return r, nil
}

type GetSupportedDMResponse struct {
	ReqObjResults []SupportedDMResult
}

const fGetSupportedDMRespResults = 1

func (r *GetSupportedDMResponse) Marshal() []byte {
	var b []byte
	for _, res := range r.ReqObjResults {
		b = appendMessage(b, fGetSupportedDMRespResults, res.marshal())
	}
	return b
}

func UnmarshalGetSupportedDMResponse(data []byte) (*GetSupportedDMResponse, error) {
	fields, err := parseFields(data)
	if err != nil {
		return nil, err
	}
	r := &GetSupportedDMResponse{}
	for _, f := range fields {
		if f.num == fGetSupportedDMRespResults {
			res, err := unmarshalSupportedDMResult(f.bytes)
			if err != nil {
				return nil, err
			}
			r.ReqObjResults = append(r.ReqObjResults, res)
		}
	}
	return r, nil
}

// --- GetSupportedProtocol ---

type GetSupportedProtocolRequest struct {
	ControllerSupportedProtocolVersions string
}

const fGetSupportedProtoReqVersions = 1

func (r *GetSupportedProtocolRequest) Marshal() []byte {
	var b []byte
	b = appendString(b, fGetSupportedProtoReqVersions, r.ControllerSupportedProtocolVersions)
	return b
}

func UnmarshalGetSupportedProtocolRequest(data []byte) (*GetSupportedProtocolRequest, error) {
	fields, err := parseFields(data)
	if err != nil {
		return nil, err
	}
	r := &GetSupportedProtocolRequest{}
	for _, f := range fields {
		if f.num == fGetSupportedProtoReqVersions {
			r.ControllerSupportedProtocolVersions = string(f.bytes)
		}
	}
	return r, nil
}

type GetSupportedProtocolResponse struct {
	AgentSupportedProtocolVersions string
}

const fGetSupportedProtoRespVersions = 1

func (r *GetSupportedProtocolResponse) Marshal() []byte {
	var b []byte
	b = appendString(b, fGetSupportedProtoRespVersions, r.AgentSupportedProtocolVersions)
	return b
}

func UnmarshalGetSupportedProtocolResponse(data []byte) (*GetSupportedProtocolResponse, error) {
	fields, err := parseFields(data)
	if err != nil {
		return nil, err
	}
	r := &GetSupportedProtocolResponse{}
	for _, f := range fields {
		if f.num == fGetSupportedProtoRespVersions {
			r.AgentSupportedProtocolVersions = string(f.bytes)
		}
	}
	return r, nil
}

// --- GetInstances ---

type GetInstancesRequest struct {
	ObjPaths       []string
	FirstLevelOnly bool
}

const (
	fGetInstancesReqObjPaths       = 1
	fGetInstancesReqFirstLevelOnly = 2
)

func (r *GetInstancesRequest) Marshal() []byte {
	var b []byte
	for _, p := range r.ObjPaths {
		b = appendString(b, fGetInstancesReqObjPaths, p)
	}
	b = appendBool(b, fGetInstancesReqFirstLevelOnly, r.FirstLevelOnly)
	return b
}

func UnmarshalGetInstancesRequest(data []byte) (*GetInstancesRequest, error) {
	fields, err := parseFields(data)
	if err != nil {
		return nil, err
	}
	r := &GetInstancesRequest{}
	for _, f := range fields {
		switch f.num {
		case fGetInstancesReqObjPaths:
			r.ObjPaths = append(r.ObjPaths, string(f.bytes))
		case fGetInstancesReqFirstLevelOnly:
			r.FirstLevelOnly = f.vint == 1
		}
	}
	return r, nil
}

type InstancesResult struct {
	ReqPath       string
	CurrInstances []string
}

const (
	fInstancesResultReqPath       = 1
	fInstancesResultCurrInstances = 2
)

func (r InstancesResult) marshal() []byte {
	var b []byte
	b = appendString(b, fInstancesResultReqPath, r.ReqPath)
	for _, p := range r.CurrInstances {
		b = appendString(b, fInstancesResultCurrInstances, p)
	}
	return b
}

func unmarshalInstancesResult(data []byte) (InstancesResult, error) {
	fields, err := parseFields(data)
	if err != nil {
		return InstancesResult{}, err
	}
	var r InstancesResult
	for _, f := range fields {
		switch f.num {
		case fInstancesResultReqPath:
			r.ReqPath = string(f.bytes)
		case fInstancesResultCurrInstances:
			r.CurrInstances = append(r.CurrInstances, string(f.bytes))
		}
	}
	return r, nil
}

type GetInstancesResponse struct {
	ReqPathResults []InstancesResult
}

const fGetInstancesRespResults = 1

func (r *GetInstancesResponse) Marshal() []byte {
	var b []byte
	for _, res := range r.ReqPathResults {
		b = appendMessage(b, fGetInstancesRespResults, res.marshal())
	}
	return b
}

func UnmarshalGetInstancesResponse(data []byte) (*GetInstancesResponse, error) {
	fields, err := parseFields(data)
	if err != nil {
		return nil, err
	}
	r := &GetInstancesResponse{}
	for _, f := range fields {
		if f.num == fGetInstancesRespResults {
			res, err := unmarshalInstancesResult(f.bytes)
			if err != nil {
				return nil, err
			}
			r.ReqPathResults = append(r.ReqPathResults, res)
		}
	}
	return r, nil
}
