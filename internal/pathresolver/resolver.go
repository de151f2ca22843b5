// Package pathresolver expands and validates TR-181 path expressions
// against the live data model (spec §4.2): wildcard instance expansion,
// boolean filters, ordered filters, and reference-following.
package pathresolver

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/jeeves-cluster-organization/uspagent/internal/dm"
	"github.com/jeeves-cluster-organization/uspagent/internal/typeutil"
)

// InstanceLister enumerates the currently-live instance numbers of a
// multi-instance table, refreshing via its registered callback if the
// Instance Cache considers its view stale (spec §4.5).
type InstanceLister interface {
	Instances(objPath string) ([]uint32, error)
}

// Resolver expands path expressions against a Registry and an
// InstanceLister.
type Resolver struct {
	reg       *dm.Registry
	instances InstanceLister
}

// New creates a Resolver.
func New(reg *dm.Registry, instances InstanceLister) *Resolver {
	return &Resolver{reg: reg, instances: instances}
}

// Resolve expands expr into the flat, ordered list of concrete paths it
// denotes against the current instance set. disableSort suppresses the
// default natural-numeric sort (spec §4.2: "a configurable flag may
// disable sorting").
func (r *Resolver) Resolve(expr string, disableSort bool) ([]string, error) {
	tokens, err := tokenize(expr)
	if err != nil {
		return nil, err
	}

	bases := []string{""}
	ordered := false

	for _, tok := range tokens {
		switch {
		case tok == "*":
			bases, err = r.expandWildcard(bases)
		case strings.HasPrefix(tok, "[") && strings.HasSuffix(tok, "]"):
			var isOrdered bool
			bases, isOrdered, err = r.applyFilter(bases, tok[1:len(tok)-1])
			ordered = ordered || isOrdered
		case strings.HasSuffix(tok, "#"):
			bases, err = r.followReference(bases, strings.TrimSuffix(tok, "#"))
		default:
			next := make([]string, len(bases))
			for i, b := range bases {
				next[i] = join(b, tok)
			}
			bases = next
		}
		if err != nil {
			return nil, err
		}
	}

	out := append([]string(nil), bases...)
	if !disableSort || ordered {
		sort.Slice(out, func(i, j int) bool { return lessPath(out[i], out[j]) })
	}
	return out, nil
}

func join(base, tok string) string {
	if base == "" {
		return tok
	}
	return base + "." + tok
}

// expandWildcard enumerates every live instance under each base table.
func (r *Resolver) expandWildcard(bases []string) ([]string, error) {
	var out []string
	for _, b := range bases {
		ids, err := r.instances.Instances(b)
		if err != nil {
			return nil, &dm.Error{Kind: dm.KindResolveTargetNotFound, Path: b, Msg: err.Error()}
		}
		for _, id := range ids {
			out = append(out, join(b, strconv.FormatUint(uint64(id), 10)))
		}
	}
	return out, nil
}

// applyFilter enumerates each base table's instances, evaluates the
// bracket expression against each candidate's sibling parameters, and
// keeps the ones that pass. A leading "+" marks the filter as requesting
// an ordered result (spec §4.2: "`+` inside `[]` indicates an ordered
// result").
func (r *Resolver) applyFilter(bases []string, expr string) ([]string, bool, error) {
	ordered := false
	expr = strings.TrimSpace(expr)
	if strings.HasPrefix(expr, "+") {
		ordered = true
		expr = strings.TrimSpace(expr[1:])
	}
	conds, err := parseConditions(expr)
	if err != nil {
		return nil, false, err
	}

	var out []string
	for _, b := range bases {
		ids, err := r.instances.Instances(b)
		if err != nil {
			return nil, false, &dm.Error{Kind: dm.KindResolveTargetNotFound, Path: b, Msg: err.Error()}
		}
		for _, id := range ids {
			candidate := join(b, strconv.FormatUint(uint64(id), 10))
			ok, err := r.evalConditions(candidate, conds)
			if err != nil {
				return nil, false, err
			}
			if ok {
				out = append(out, candidate)
			}
		}
	}
	return out, ordered, nil
}

// followReference reads paramName at each base, treating its value as a
// path to continue resolution from (spec §4.2: "Reference parameters may
// be followed using `#`").
func (r *Resolver) followReference(bases []string, paramName string) ([]string, error) {
	var out []string
	for _, b := range bases {
		refPath := join(b, paramName)
		target, err := r.reg.Get(refPath)
		if err != nil || strings.TrimSpace(target) == "" {
			return nil, &dm.Error{Kind: dm.KindResolveTargetNotFound, Path: refPath, Msg: "reference parameter is empty or unset"}
		}
		out = append(out, strings.TrimSuffix(target, "."))
	}
	return out, nil
}

// condition is one comparison term of a bracket filter, e.g. "Port>1000".
type condition struct {
	param string
	op    string
	value string
}

var filterOps = []string{">=", "<=", "!=", "==", ">", "<"}

func parseConditions(expr string) ([]condition, error) {
	if expr == "" {
		return nil, nil
	}
	var out []condition
	for _, term := range strings.Split(expr, "&&") {
		term = strings.TrimSpace(term)
		var matched bool
		for _, op := range filterOps {
			if idx := strings.Index(term, op); idx >= 0 {
				out = append(out, condition{
					param: strings.TrimSpace(term[:idx]),
					op:    op,
					value: strings.TrimSpace(term[idx+len(op):]),
				})
				matched = true
				break
			}
		}
		if !matched {
			return nil, fmt.Errorf("pathresolver: malformed filter term %q", term)
		}
	}
	return out, nil
}

// evalConditions evaluates conds against candidate's sibling parameters
// in left-to-right short-circuit order (spec §4.2).
func (r *Resolver) evalConditions(candidate string, conds []condition) (bool, error) {
	for _, c := range conds {
		actual, err := r.reg.Get(join(candidate, c.param))
		if err != nil {
			return false, nil // missing sibling parameter: filter term is simply false
		}
		ok, err := compare(actual, c.op, c.value)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil // short-circuit
		}
	}
	return true, nil
}

func compare(actual, op, want string) (bool, error) {
	if n1, ok1 := typeutil.ParseInt(actual); ok1 {
		if n2, ok2 := typeutil.ParseInt(want); ok2 {
			return compareOrdered(n1, n2, op), nil
		}
	}
	if b1, ok1 := typeutil.ParseBool(actual); ok1 {
		if b2, ok2 := typeutil.ParseBool(want); ok2 {
			switch op {
			case "==":
				return b1 == b2, nil
			case "!=":
				return b1 != b2, nil
			default:
				return false, fmt.Errorf("pathresolver: operator %s not valid for bool", op)
			}
		}
	}
	switch op {
	case "==":
		return actual == want, nil
	case "!=":
		return actual != want, nil
	default:
		return false, fmt.Errorf("pathresolver: operator %s not valid for string comparison of %q", op, actual)
	}
}

func compareOrdered[T int64 | float64](a, b T, op string) bool {
	switch op {
	case "==":
		return a == b
	case "!=":
		return a != b
	case ">":
		return a > b
	case "<":
		return a < b
	case ">=":
		return a >= b
	case "<=":
		return a <= b
	}
	return false
}

// tokenize splits a path expression on "." while keeping bracket filter
// contents (which never contain literal dots in practice) intact.
func tokenize(expr string) ([]string, error) {
	var tokens []string
	var cur strings.Builder
	depth := 0
	for _, ch := range expr {
		switch ch {
		case '[':
			depth++
			cur.WriteRune(ch)
		case ']':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("pathresolver: unbalanced ']' in %q", expr)
			}
			cur.WriteRune(ch)
		case '.':
			if depth == 0 {
				tokens = append(tokens, cur.String())
				cur.Reset()
				continue
			}
			cur.WriteRune(ch)
		default:
			cur.WriteRune(ch)
		}
	}
	if depth != 0 {
		return nil, fmt.Errorf("pathresolver: unbalanced '[' in %q", expr)
	}
	if cur.Len() > 0 {
		tokens = append(tokens, cur.String())
	}
	return tokens, nil
}

// IsWithinSubtree reports whether concretePath falls within the subtree
// rooted at ref, where ref may itself be a path expression (the Object
// Creation/Deletion/Event notify-matching rule of spec §4.6: a
// subscription's ReferenceList entry matches any path it is a literal
// prefix of, ignoring any trailing wildcard/filter tokens it carries).
func IsWithinSubtree(ref, concretePath string) bool {
	prefix := ref
	if idx := strings.IndexAny(ref, "*["); idx >= 0 {
		prefix = ref[:idx]
	}
	prefix = strings.TrimSuffix(prefix, ".")
	return prefix == concretePath || strings.HasPrefix(concretePath, prefix+".")
}

// lessPath orders two fully-qualified paths by the natural numeric order
// of their instance-number segments (spec §4.2: "Sort order of emitted
// paths is the natural numeric order of instance numbers").
func lessPath(a, b string) bool {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) && i < len(bs); i++ {
		if as[i] == bs[i] {
			continue
		}
		an, aok := typeutil.ParseUint(as[i])
		bn, bok := typeutil.ParseUint(bs[i])
		if aok && bok {
			return an < bn
		}
		return as[i] < bs[i]
	}
	return len(as) < len(bs)
}
