package sql

import (
	"database/sql/driver"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

// Masking limits. Containers are masked element-wise up to maskMaxElements
// and nested containers up to maskMaxDepth levels.
const (
	maskMaxDepth    = 2
	maskMaxElements = 16
	maskMaxString   = 256
)

var (
	emailRegex = regexp.MustCompile(`^[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}$`)

	// jwtRegex matches three dot-separated base64url segments.
	jwtRegex = regexp.MustCompile(`^[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]+$`)

	// tokenRegex matches long opaque secrets: API keys, session tokens,
	// hashes. No whitespace, token charset only.
	tokenRegex = regexp.MustCompile(`^[A-Za-z0-9+/=_\-]{40,}$`)
)

// MaskParams masks a driver argument list for audit logging. Named
// arguments keep their name, positional ones appear in order.
func MaskParams(args []driver.NamedValue) []any {
	if len(args) == 0 {
		return nil
	}
	out := make([]any, len(args))
	for i, a := range args {
		v := MaskValue(a.Value)
		if a.Name != "" {
			v = fmt.Sprintf("%s=%v", a.Name, v)
		}
		out[i] = v
	}
	return out
}

// MaskValue returns a log-safe rendition of a query parameter. Sensitive
// string shapes are redacted, long values truncated, containers masked
// element-wise. Numbers, bools, nil, and timestamps pass through unchanged.
// It never panics on any input.
func MaskValue(v any) any {
	return maskValue(v, 0)
}

func maskValue(v any, depth int) any {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return maskString(t)
	case []byte:
		return fmt.Sprintf("[binary %d bytes]", len(t))
	case bool, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return v
	case time.Time:
		return v
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return maskValue(rv.Elem().Interface(), depth)
	case reflect.Slice, reflect.Array:
		if depth >= maskMaxDepth {
			return "[max depth]"
		}
		n := rv.Len()
		limit := n
		if limit > maskMaxElements {
			limit = maskMaxElements
		}
		out := make([]any, 0, limit+1)
		for i := 0; i < limit; i++ {
			out = append(out, maskValue(rv.Index(i).Interface(), depth+1))
		}
		if n > limit {
			out = append(out, fmt.Sprintf("+%d more", n-limit))
		}
		return out
	case reflect.Map:
		if depth >= maskMaxDepth {
			return "[max depth]"
		}
		keys := make([]string, 0, rv.Len())
		byKey := make(map[string]reflect.Value, rv.Len())
		for _, k := range rv.MapKeys() {
			s := fmt.Sprint(k.Interface())
			keys = append(keys, s)
			byKey[s] = rv.MapIndex(k)
		}
		sort.Strings(keys)
		limit := len(keys)
		if limit > maskMaxElements {
			limit = maskMaxElements
		}
		out := make(map[string]any, limit+1)
		for _, k := range keys[:limit] {
			out[k] = maskValue(byKey[k].Interface(), depth+1)
		}
		if len(keys) > limit {
			out["..."] = fmt.Sprintf("+%d more", len(keys)-limit)
		}
		return out
	default:
		// Structs and exotic driver values: type name only, the content
		// may be sensitive.
		return fmt.Sprintf("[%T]", v)
	}
}

func maskString(s string) string {
	switch {
	case emailRegex.MatchString(s):
		at := strings.Index(s, "@")
		first, _ := utf8.DecodeRuneInString(s)
		return string(first) + "***@" + s[at+1:]
	case jwtRegex.MatchString(s):
		return "[redacted jwt]"
	case tokenRegex.MatchString(s):
		return fmt.Sprintf("[redacted %d chars]", utf8.RuneCountInString(s))
	case utf8.RuneCountInString(s) > maskMaxString:
		runes := []rune(s)
		return fmt.Sprintf("%s... (%d chars)", string(runes[:maskMaxString]), len(runes))
	default:
		return s
	}
}
