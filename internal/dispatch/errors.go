package dispatch

import (
	"errors"
	"fmt"

	"github.com/jeeves-cluster-organization/uspagent/internal/dm"
)

// USP numeric error codes (spec §7 taxonomy, mapped to the wire-level
// codes the USP/TR-369 error table assigns each design kind). Kinds that
// have no direct taxonomy entry fall back to a generic failure code.
const (
	codeRequestDenied         = 7000
	codeInternalError         = 7001
	codeInvalidPath           = 7004
	codeInvalidValue          = 7006
	codePermissionDenied      = 7007
	codeResourcesExceeded     = 7008
	codeParamReadOnly         = 7009
	codeObjectNotCreatable    = 7010
	codeObjectNotDeletable    = 7011
	codeResolveTargetNotFound = 7012
	codeCommandFailure        = 7020
	codeCRUDFailure           = 7021
)

// errCodeFor maps an error returned from internal/dm, internal/txn, or
// internal/pathresolver to the numeric USP error code and message carried
// in a per-path result (spec §4.4 step 4: "assemble a typed response
// message carrying per-path results").
func errCodeFor(err error) (uint32, string) {
	var derr *dm.Error
	if errors.As(err, &derr) {
		return uint32(kindToCode(derr.Kind)), derr.Error()
	}
	return codeInternalError, err.Error()
}

func kindToCode(k dm.Kind) int {
	switch k {
	case dm.KindInvalidPath:
		return codeInvalidPath
	case dm.KindInvalidValue:
		return codeInvalidValue
	case dm.KindParamReadOnly:
		return codeParamReadOnly
	case dm.KindPermissionDenied:
		return codePermissionDenied
	case dm.KindObjectNotCreatable:
		return codeObjectNotCreatable
	case dm.KindObjectNotDeletable:
		return codeObjectNotDeletable
	case dm.KindResourcesExceeded:
		return codeResourcesExceeded
	case dm.KindResolveTargetNotFound:
		return codeResolveTargetNotFound
	case dm.KindRequestDenied:
		return codeRequestDenied
	case dm.KindCommandFailure:
		return codeCommandFailure
	case dm.KindCRUDFailure:
		return codeCRUDFailure
	default:
		return codeInternalError
	}
}

// deniedErr builds a dm.Error of KindPermissionDenied or KindRequestDenied
// for the Trust Role check (spec §4.4 step 2), so it flows through the
// same errCodeFor mapping as every other handler failure.
func deniedErr(kind dm.Kind, path, format string, args ...any) error {
	return &dm.Error{Kind: kind, Path: path, Msg: fmt.Sprintf(format, args...)}
}
