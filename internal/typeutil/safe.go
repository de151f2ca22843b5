// Package typeutil provides safe conversions between the textual values
// persisted in the database and the typed USP parameter values the data
// model registry validates and serializes.
package typeutil

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ValueType enumerates the USP parameter value types (spec §3, "Parameter").
type ValueType string

const (
	TypeString    ValueType = "string"
	TypeInt       ValueType = "int"
	TypeUnsigned  ValueType = "unsignedInt"
	TypeBool      ValueType = "bool"
	TypeDateTime  ValueType = "dateTime"
	TypeBase64    ValueType = "base64"
)

// DateTimeLayout is the canonical textual representation for dateTime values.
const DateTimeLayout = time.RFC3339

// Coerce validates that text is a legal textual encoding of t, returning a
// normalized textual form (e.g. "true"/"false" for bool, RFC3339 for
// dateTime). It never returns a Go-typed value: DB storage is always
// textual (spec §3 invariant).
func Coerce(t ValueType, text string) (string, error) {
	switch t {
	case TypeString:
		return text, nil
	case TypeInt:
		n, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return "", fmt.Errorf("not a valid int: %q", text)
		}
		return strconv.FormatInt(n, 10), nil
	case TypeUnsigned:
		n, err := strconv.ParseUint(text, 10, 64)
		if err != nil {
			return "", fmt.Errorf("not a valid unsignedInt: %q", text)
		}
		return strconv.FormatUint(n, 10), nil
	case TypeBool:
		b, ok := ParseBool(text)
		if !ok {
			return "", fmt.Errorf("not a valid bool: %q", text)
		}
		if b {
			return "true", nil
		}
		return "false", nil
	case TypeDateTime:
		ts, err := time.Parse(DateTimeLayout, text)
		if err != nil {
			return "", fmt.Errorf("not a valid dateTime: %q", text)
		}
		return ts.UTC().Format(DateTimeLayout), nil
	case TypeBase64:
		if _, err := base64.StdEncoding.DecodeString(text); err != nil {
			return "", fmt.Errorf("not valid base64: %q", text)
		}
		return text, nil
	default:
		return "", fmt.Errorf("unknown value type %q", t)
	}
}

// ParseBool parses USP's permissive boolean textual forms.
func ParseBool(text string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "true", "1", "yes":
		return true, true
	case "false", "0", "no":
		return false, true
	default:
		return false, false
	}
}

// ParseInt parses a decimal int64, returning ok=false on malformed text.
func ParseInt(text string) (int64, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
	return n, err == nil
}

// ParseUint parses a decimal uint64, returning ok=false on malformed text.
func ParseUint(text string) (uint64, bool) {
	n, err := strconv.ParseUint(strings.TrimSpace(text), 10, 64)
	return n, err == nil
}

// FormatBool renders a bool in canonical USP textual form.
func FormatBool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
