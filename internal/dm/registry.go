// Package dm implements the Data Model Registry (spec §4.1): the
// in-memory schema tree of parameter and object definitions, their
// validators, getters/setters, and change-notify callbacks, backed by
// the Database KV for persisted values.
package dm

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/jeeves-cluster-organization/uspagent/internal/logging"
	"github.com/jeeves-cluster-organization/uspagent/internal/store"
	"github.com/jeeves-cluster-organization/uspagent/internal/typeutil"
)

// Registry is the schema tree. Registration is single-threaded startup
// work; Freeze must be called before the event loop starts, after which
// further Register* calls return an error instead of mutating state
// (spec §4.1 invariant: "all registrations occur during a single-threaded
// startup phase that must complete before the event loop runs").
type Registry struct {
	db     *store.DB
	logger logging.Logger

	mu       sync.RWMutex
	params   map[string]*ParameterDef // keyed by path template
	objects  map[string]*ObjectDef
	ops      map[string]*OperationDef
	events   map[string]*EventDef
	frozen   bool
}

// New creates an empty registry over db.
func New(db *store.DB, logger logging.Logger) *Registry {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Registry{
		db:      db,
		logger:  logger,
		params:  make(map[string]*ParameterDef),
		objects: make(map[string]*ObjectDef),
		ops:     make(map[string]*OperationDef),
		events:  make(map[string]*EventDef),
	}
}

// Freeze closes registration. Subsequent Register* calls fail.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// RegisterParameter adds a parameter definition. Duplicate paths are
// fatal per spec — the caller (agent startup) is expected to abort the
// process on a non-nil error.
func (r *Registry) RegisterParameter(p *ParameterDef) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("dm: registry frozen, cannot register parameter %s", p.PathTemplate)
	}
	if _, exists := r.params[p.PathTemplate]; exists {
		return fmt.Errorf("dm: duplicate parameter registration: %s", p.PathTemplate)
	}
	r.params[p.PathTemplate] = p
	return nil
}

// RegisterObject adds an object definition. For a multi-instance
// template it also registers the implicit "<Parent>NumberOfEntries"
// sibling parameter (spec §4.1).
func (r *Registry) RegisterObject(o *ObjectDef) error {
	r.mu.Lock()
	if r.frozen {
		r.mu.Unlock()
		return fmt.Errorf("dm: registry frozen, cannot register object %s", o.PathTemplate)
	}
	if _, exists := r.objects[o.PathTemplate]; exists {
		r.mu.Unlock()
		return fmt.Errorf("dm: duplicate object registration: %s", o.PathTemplate)
	}
	r.objects[o.PathTemplate] = o
	r.mu.Unlock()

	if o.MultiInstance {
		numEntriesPath := numberOfEntriesPath(o.PathTemplate)
		return r.RegisterParameter(&ParameterDef{
			PathTemplate: numEntriesPath,
			Type:         typeutil.TypeUnsigned,
			Access:       ReadOnly,
			Storage:      Computed,
			Getter: func(string) (string, error) {
				if o.RefreshInstances == nil {
					return "0", nil
				}
				ids, err := o.RefreshInstances()
				if err != nil {
					return "", err
				}
				return strconv.Itoa(len(ids)), nil
			},
		})
	}
	return nil
}

// RegisterOperation adds a command definition.
func (r *Registry) RegisterOperation(o *OperationDef) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("dm: registry frozen, cannot register operation %s", o.PathTemplate)
	}
	if _, exists := r.ops[o.PathTemplate]; exists {
		return fmt.Errorf("dm: duplicate operation registration: %s", o.PathTemplate)
	}
	r.ops[o.PathTemplate] = o
	return nil
}

// RegisterEvent adds an event definition.
func (r *Registry) RegisterEvent(e *EventDef) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("dm: registry frozen, cannot register event %s", e.PathTemplate)
	}
	if _, exists := r.events[e.PathTemplate]; exists {
		return fmt.Errorf("dm: duplicate event registration: %s", e.PathTemplate)
	}
	r.events[e.PathTemplate] = e
	return nil
}

// numberOfEntriesPath derives "Device.X.{i}." -> "Device.XNumberOfEntries".
func numberOfEntriesPath(objTemplate string) string {
	t := strings.TrimSuffix(objTemplate, ".")
	segs := strings.Split(t, ".")
	parent := strings.Join(segs[:len(segs)-1], ".")
	return parent + "NumberOfEntries"
}

// LookupParameter resolves a concrete path (e.g.
// "Device.LocalAgent.MTP.1.Enable") to its registered template.
func (r *Registry) LookupParameter(path string) (*ParameterDef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for tmpl, p := range r.params {
		if templateMatches(tmpl, path) {
			return p, nil
		}
	}
	return nil, newErr(KindInvalidPath, path, "no registered parameter matches path")
}

// LookupObject resolves a concrete object path to its registered template.
func (r *Registry) LookupObject(path string) (*ObjectDef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	norm := strings.TrimSuffix(path, ".")
	for tmpl, o := range r.objects {
		if templateMatches(strings.TrimSuffix(tmpl, "."), norm) {
			return o, nil
		}
	}
	return nil, newErr(KindInvalidPath, path, "no registered object matches path")
}

// LookupTable resolves a table path (the object's parent, with no
// instance segment — e.g. "Device.LocalAgent.MTP") to its registered
// ObjectDef. Used by Add and by the Instance Cache, which operate before
// an instance number exists.
func (r *Registry) LookupTable(tablePath string) (*ObjectDef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	norm := strings.TrimSuffix(tablePath, ".")
	for tmpl, o := range r.objects {
		if tableOf(tmpl) == norm {
			return o, nil
		}
	}
	return nil, newErr(KindInvalidPath, tablePath, "no registered table matches path")
}

// tableOf derives a table's parent path from its instance template, e.g.
// "Device.LocalAgent.MTP.{i}." -> "Device.LocalAgent.MTP".
func tableOf(template string) string {
	t := strings.TrimSuffix(template, ".")
	segs := strings.Split(t, ".")
	return strings.Join(segs[:len(segs)-1], ".")
}

// LookupOperation resolves a concrete command path.
func (r *Registry) LookupOperation(path string) (*OperationDef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for tmpl, o := range r.ops {
		if templateMatches(tmpl, path) {
			return o, nil
		}
	}
	return nil, newErr(KindInvalidPath, path, "no registered operation matches path")
}

// templateMatches reports whether concrete path matches template, where
// template segments equal to "{i}" match any run of decimal digits.
func templateMatches(template, path string) bool {
	tSegs := strings.Split(template, ".")
	pSegs := strings.Split(path, ".")
	if len(tSegs) != len(pSegs) {
		return false
	}
	for i, ts := range tSegs {
		if ts == "{i}" {
			if _, err := strconv.ParseUint(pSegs[i], 10, 32); err != nil {
				return false
			}
			continue
		}
		if ts != pSegs[i] {
			return false
		}
	}
	return true
}

// Get returns the current textual value at path (spec §4.1 Get):
// an in-DB lookup, a getter invocation, or the registered constant.
func (r *Registry) Get(path string) (string, error) {
	p, err := r.LookupParameter(path)
	if err != nil {
		return "", err
	}
	switch p.Storage {
	case Constant:
		return p.Default, nil
	case Computed:
		if p.Getter == nil {
			return "", newErr(KindInternalError, path, "computed parameter has no getter")
		}
		return p.Getter(path)
	default: // InDB
		v, err := r.db.Get(path)
		if err != nil {
			return p.Default, nil //nolint:nilerr // unset DB row reads back as the registered default
		}
		return v, nil
	}
}

// ValidateSet checks that value is a legal write to path without
// persisting anything (spec §4.1 Set: "runs the validator"). It is used
// both by direct validation and by the Transaction Manager's re-validate
// step at commit time.
func (r *Registry) ValidateSet(path, value string) (*ParameterDef, string, error) {
	p, err := r.LookupParameter(path)
	if err != nil {
		return nil, "", err
	}
	if p.Access != ReadWrite {
		return nil, "", newErr(KindParamReadOnly, path, "parameter is read-only")
	}
	if p.Storage == Constant {
		return nil, "", newErr(KindParamReadOnly, path, "constant parameter cannot be set")
	}
	coerced, err := typeutil.Coerce(p.Type, value)
	if err != nil {
		return nil, "", newErr(KindInvalidValue, path, "%v", err)
	}
	if p.Validator != nil {
		if err := p.Validator(path, coerced); err != nil {
			return nil, "", newErr(KindInvalidValue, path, "%v", err)
		}
	}
	return p, coerced, nil
}

// PersistSetTx stages the write for path within a BatchTxn, without
// firing change-notify (the Transaction Manager fires notifies only
// after the whole batch commits, spec §4.3 step 5).
func (r *Registry) PersistSetTx(btx *store.BatchTxn, p *ParameterDef, path, value string) error {
	if p.Storage == Computed {
		if p.Setter == nil {
			return newErr(KindInternalError, path, "computed parameter has no setter")
		}
		if err := p.Setter(path, value); err != nil {
			return newErr(KindCRUDFailure, path, "%v", err)
		}
		return nil
	}
	if err := btx.Set(path, value, false); err != nil {
		return newErr(KindCRUDFailure, path, "%v", err)
	}
	return nil
}

// FireSetNotify invokes p's change-notify callback, if registered.
func (r *Registry) FireSetNotify(p *ParameterDef, path, oldValue, newValue string) {
	if p.ChangeNotify != nil {
		p.ChangeNotify(path, oldValue, newValue)
	}
}

// CommitSet is a single-edit convenience that persists value inside its
// own batch and fires change-notify immediately (used outside of the
// Transaction Manager, e.g. by internal seeding code).
func (r *Registry) CommitSet(p *ParameterDef, path, value string) error {
	old, _ := r.Get(path)
	if p.Storage == Computed {
		if err := r.PersistSetTx(nil, p, path, value); err != nil {
			return err
		}
	} else if err := r.db.Batch(func(btx *store.BatchTxn) error {
		return r.PersistSetTx(btx, p, path, value)
	}); err != nil {
		return err
	}
	r.FireSetNotify(p, path, old, value)
	return nil
}

// ValidateAdd checks creation parameters for a new instance of the
// multi-instance table at objPath without persisting anything.
func (r *Registry) ValidateAdd(objPath string, params map[string]string) (*ObjectDef, error) {
	o, err := r.LookupTable(objPath)
	if err != nil {
		return nil, err
	}
	if !o.MultiInstance {
		return nil, newErr(KindObjectNotCreatable, objPath, "object is not multi-instance")
	}
	if o.AddValidator != nil {
		if err := o.AddValidator(objPath, params); err != nil {
			return nil, newErr(KindInvalidValue, objPath, "%v", err)
		}
	}
	return o, nil
}

// PersistAddTx stages the new instance's parameters within a BatchTxn.
// instancePath is the fully-qualified "Device.X.{n}." path allocated by
// the Instance Cache. AddNotify is not fired here; see FireAddNotify.
func (r *Registry) PersistAddTx(btx *store.BatchTxn, instancePath string, params map[string]string) error {
	for name, value := range params {
		path := instancePath + name
		p, err := r.LookupParameter(path)
		if err != nil {
			continue // unknown param names were already rejected by AddValidator if it cared
		}
		if p.Storage == InDB {
			if err := btx.Set(path, value, false); err != nil {
				return newErr(KindCRUDFailure, path, "%v", err)
			}
		}
	}
	return nil
}

// FireAddNotify invokes o's add-notify callback, if registered.
func (r *Registry) FireAddNotify(o *ObjectDef, instancePath string) {
	if o.AddNotify != nil {
		o.AddNotify(instancePath)
	}
}

// CommitAdd is a single-edit convenience combining PersistAddTx and
// FireAddNotify in their own batch.
func (r *Registry) CommitAdd(o *ObjectDef, instancePath string, params map[string]string) error {
	if err := r.db.Batch(func(btx *store.BatchTxn) error {
		return r.PersistAddTx(btx, instancePath, params)
	}); err != nil {
		return err
	}
	r.FireAddNotify(o, instancePath)
	return nil
}

// ValidateDelete checks that the instance at instancePath may be
// deleted.
func (r *Registry) ValidateDelete(instancePath string) (*ObjectDef, error) {
	o, err := r.LookupObject(instancePath)
	if err != nil {
		return nil, err
	}
	if !o.MultiInstance {
		return nil, newErr(KindObjectNotDeletable, instancePath, "object is not multi-instance")
	}
	return o, nil
}

// PersistDeleteTx stages removal of the instance's parameter subtree
// within a BatchTxn. DeleteNotify is not fired here; see FireDeleteNotify.
func (r *Registry) PersistDeleteTx(btx *store.BatchTxn, instancePath string) error {
	if err := btx.DeletePrefix(instancePath); err != nil {
		return newErr(KindCRUDFailure, instancePath, "%v", err)
	}
	return nil
}

// FireDeleteNotify invokes o's delete-notify callback, if registered.
func (r *Registry) FireDeleteNotify(o *ObjectDef, instancePath string) {
	if o.DeleteNotify != nil {
		o.DeleteNotify(instancePath)
	}
}

// CommitDelete is a single-edit convenience combining PersistDeleteTx and
// FireDeleteNotify in their own batch.
func (r *Registry) CommitDelete(o *ObjectDef, instancePath string) error {
	if err := r.db.Batch(func(btx *store.BatchTxn) error {
		return r.PersistDeleteTx(btx, instancePath)
	}); err != nil {
		return err
	}
	r.FireDeleteNotify(o, instancePath)
	return nil
}

// Objects returns every registered object template, for GetSupportedDM.
func (r *Registry) Objects() map[string]*ObjectDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*ObjectDef, len(r.objects))
	for k, v := range r.objects {
		out[k] = v
	}
	return out
}

// Parameters returns every registered parameter template, for
// GetSupportedDM.
func (r *Registry) Parameters() map[string]*ParameterDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*ParameterDef, len(r.params))
	for k, v := range r.params {
		out[k] = v
	}
	return out
}

// Operations returns every registered operation template, for
// GetSupportedDM.
func (r *Registry) Operations() map[string]*OperationDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*OperationDef, len(r.ops))
	for k, v := range r.ops {
		out[k] = v
	}
	return out
}

// Events returns every registered event template, for GetSupportedDM.
func (r *Registry) Events() map[string]*EventDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*EventDef, len(r.events))
	for k, v := range r.events {
		out[k] = v
	}
	return out
}
