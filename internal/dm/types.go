package dm

import "github.com/jeeves-cluster-organization/uspagent/internal/typeutil"

// Access controls whether a controller may Set a parameter.
type Access int

const (
	ReadOnly Access = iota
	ReadWrite
)

// StorageClass determines where a parameter's live value comes from
// (spec §3 Parameter: "storage class (in-DB / vendor-computed / constant)").
type StorageClass int

const (
	// InDB parameters are persisted in the Database KV and read/written there.
	InDB StorageClass = iota
	// Computed parameters are backed by a vendor Getter/Setter, never
	// touching the DB directly.
	Computed
	// Constant parameters always return Default and reject Set.
	Constant
)

// Validator checks a candidate textual value before it is buffered into a
// transaction. It receives the already-coerced value (see typeutil.Coerce).
type Validator func(path, value string) error

// ChangeNotify is invoked after a committed Set, with both the old and new
// values.
type ChangeNotify func(path, oldValue, newValue string)

// Getter/Setter back Computed parameters.
type Getter func(path string) (string, error)
type Setter func(path, value string) error

// ParameterDef describes one registered parameter (spec §4.1 Register
// Parameter).
type ParameterDef struct {
	PathTemplate string
	Type         typeutil.ValueType
	Access       Access
	Storage      StorageClass
	Default      string
	Validator    Validator
	ChangeNotify ChangeNotify
	Getter       Getter
	Setter       Setter
}

// AddValidator checks the full set of creation parameters before an Add
// is buffered.
type AddValidator func(objPath string, params map[string]string) error

// ObjectNotify fires after a committed Add or Delete.
type ObjectNotify func(objPath string)

// RefreshInstances enumerates the currently-live instance numbers of a
// multi-instance table, used by the Instance Cache (spec §4.5).
type RefreshInstances func() ([]uint32, error)

// ObjectDef describes one registered object (spec §4.1 Register Object).
type ObjectDef struct {
	PathTemplate     string
	MultiInstance    bool
	AddValidator     AddValidator
	AddNotify        ObjectNotify
	DeleteNotify     ObjectNotify
	RefreshInstances RefreshInstances
}

// OperationHandler executes an Operate command. Synchronous handlers
// return their output args directly; asynchronous handlers return
// immediately (possibly empty) and the caller is responsible for
// delivering completion via an OperationComplete notification.
type OperationHandler func(path string, inputArgs map[string]string) (map[string]string, error)

// OperationDef describes one registered command (spec §4.1 Register
// Operation).
type OperationDef struct {
	PathTemplate string
	Async        bool
	InputArgs    []string
	OutputArgs   []string
	Handler      OperationHandler
}

// EventDef describes one registered event (spec §4.1 Register Event).
type EventDef struct {
	PathTemplate string
	Args         []string
}
