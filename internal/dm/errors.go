package dm

import "fmt"

// Kind is the USP error taxonomy (spec §7). These are design kinds, not
// protocol-level numeric error codes; internal/dispatch maps a Kind to
// the numeric USP error code carried in the wire Error/per-path result.
type Kind string

const (
	KindInvalidPath             Kind = "INVALID_PATH"
	KindInvalidValue             Kind = "INVALID_VALUE"
	KindParamReadOnly            Kind = "PARAM_READ_ONLY"
	KindPermissionDenied         Kind = "PERMISSION_DENIED"
	KindObjectNotCreatable       Kind = "OBJECT_NOT_CREATABLE"
	KindObjectNotDeletable       Kind = "OBJECT_NOT_DELETABLE"
	KindResourcesExceeded        Kind = "RESOURCES_EXCEEDED"
	KindResolveTargetNotFound    Kind = "RESOLVE_TARGET_NOT_FOUND"
	KindRequestDenied            Kind = "REQUEST_DENIED"
	KindInternalError            Kind = "INTERNAL_ERROR"
	KindCommandFailure           Kind = "COMMAND_FAILURE"
	KindCRUDFailure              Kind = "CRUD_FAILURE"
)

// Error pairs a taxonomy Kind with a human-readable message. Every
// registry/resolver/transaction failure that can reach a controller is
// one of these so the dispatcher can embed it per-path in the response.
type Error struct {
	Kind Kind
	Path string
	Msg  string
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Path, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func newErr(kind Kind, path, format string, args ...any) *Error {
	return &Error{Kind: kind, Path: path, Msg: fmt.Sprintf(format, args...)}
}
