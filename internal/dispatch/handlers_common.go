package dispatch

import (
	"strings"

	"github.com/jeeves-cluster-organization/uspagent/internal/dm"
	"github.com/jeeves-cluster-organization/uspagent/internal/pathresolver"
	"github.com/jeeves-cluster-organization/uspagent/internal/usppb"
)

// templateToWildcardExpr turns a registered "{i}"-templated path into the
// path-resolver wildcard expression that enumerates its live instances,
// e.g. "Device.WiFi.Radio.{i}.Channel" -> "Device.WiFi.Radio.*.Channel".
func templateToWildcardExpr(tmpl string) string {
	segs := strings.Split(strings.TrimSuffix(tmpl, "."), ".")
	for i, s := range segs {
		if s == "{i}" {
			segs[i] = "*"
		}
	}
	return strings.Join(segs, ".")
}

// parentTemplate returns the owning object's path template for a
// parameter, operation, or event template, by dropping its last segment —
// e.g. "Device.WiFi.Radio.{i}.Channel" -> "Device.WiFi.Radio.{i}".
func parentTemplate(tmpl string) string {
	segs := strings.Split(strings.TrimSuffix(tmpl, "."), ".")
	if len(segs) == 0 {
		return ""
	}
	return strings.Join(segs[:len(segs)-1], ".")
}

// paramsUnder resolves path to either a single registered parameter or,
// for an object path, every registered parameter whose live instantiation
// falls within its subtree (spec §4.1 Get: "an object path returns every
// descendant parameter").
func (d *Dispatcher) paramsUnder(path string) ([]usppb.ParamValue, error) {
	if _, err := d.reg.LookupParameter(path); err == nil {
		v, err := d.reg.Get(path)
		if err != nil {
			return nil, err
		}
		return []usppb.ParamValue{{Path: path, Value: v}}, nil
	}

	var out []usppb.ParamValue
	for tmpl := range d.reg.Parameters() {
		concretes, err := d.resolver.Resolve(templateToWildcardExpr(tmpl), false)
		if err != nil {
			continue
		}
		for _, cp := range concretes {
			if !pathresolver.IsWithinSubtree(path, cp) {
				continue
			}
			v, err := d.reg.Get(cp)
			if err != nil {
				continue
			}
			out = append(out, usppb.ParamValue{Path: cp, Value: v})
		}
	}
	return out, nil
}

func toParamMap(vs []usppb.ParamValue) map[string]string {
	m := make(map[string]string, len(vs))
	for _, v := range vs {
		m[v.Path] = v.Value
	}
	return m
}

func fromParamMap(m map[string]string) []usppb.ParamValue {
	out := make([]usppb.ParamValue, 0, len(m))
	for k, v := range m {
		out = append(out, usppb.ParamValue{Path: k, Value: v})
	}
	return out
}

// notFoundErr reports that a request path resolved to nothing (spec §7
// RESOLVE_TARGET_NOT_FOUND).
func notFoundErr(path string) error {
	return &dm.Error{Kind: dm.KindResolveTargetNotFound, Path: path, Msg: "path expression matched no instances"}
}
