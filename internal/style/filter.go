package style

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/paulmach/orb/geojson"
)

// Filter is a compiled feature predicate in the legacy array form:
// ["==", key, value], ["in", key, v...], ["all", f...] and so on.
type Filter func(f *geojson.Feature) bool

// ParseFilter compiles a raw JSON filter expression.
func ParseFilter(raw json.RawMessage) (Filter, error) {
	var expr []any
	if err := json.Unmarshal(raw, &expr); err != nil {
		return nil, fmt.Errorf("filter must be an array: %v", err)
	}
	return compileFilter(expr)
}

func compileFilter(expr []any) (Filter, error) {
	if len(expr) == 0 {
		return nil, fmt.Errorf("empty filter expression")
	}
	op, ok := expr[0].(string)
	if !ok {
		return nil, fmt.Errorf("filter operator must be a string, got %T", expr[0])
	}

	switch op {
	case "all", "any", "none":
		subs := make([]Filter, 0, len(expr)-1)
		for _, rawSub := range expr[1:] {
			sub, ok := rawSub.([]any)
			if !ok {
				return nil, fmt.Errorf("%q operands must be filters", op)
			}
			f, err := compileFilter(sub)
			if err != nil {
				return nil, err
			}
			subs = append(subs, f)
		}
		return combineFilters(op, subs), nil

	case "has", "!has":
		key, err := filterKey(expr, 2)
		if err != nil {
			return nil, err
		}
		want := op == "has"
		return func(f *geojson.Feature) bool {
			_, ok := lookupProperty(f, key)
			return ok == want
		}, nil

	case "in", "!in":
		key, err := filterKey(expr, 3)
		if err != nil {
			return nil, err
		}
		values := expr[2:]
		want := op == "in"
		return func(f *geojson.Feature) bool {
			got, ok := lookupProperty(f, key)
			if !ok {
				return !want
			}
			for _, v := range values {
				if propertyEqual(got, v) {
					return want
				}
			}
			return !want
		}, nil

	case "==", "!=", "<", "<=", ">", ">=":
		key, err := filterKey(expr, 3)
		if err != nil {
			return nil, err
		}
		if len(expr) != 3 {
			return nil, fmt.Errorf("%q takes exactly a key and a value", op)
		}
		value := expr[2]
		return compileComparison(op, key, value), nil

	default:
		return nil, fmt.Errorf("unknown filter operator %q", op)
	}
}

func filterKey(expr []any, minLen int) (string, error) {
	if len(expr) < minLen {
		return "", fmt.Errorf("%v: too few operands", expr[0])
	}
	key, ok := expr[1].(string)
	if !ok {
		return "", fmt.Errorf("%v: key must be a string", expr[0])
	}
	return key, nil
}

func combineFilters(op string, subs []Filter) Filter {
	switch op {
	case "all":
		return func(f *geojson.Feature) bool {
			for _, sub := range subs {
				if !sub(f) {
					return false
				}
			}
			return true
		}
	case "any":
		return func(f *geojson.Feature) bool {
			for _, sub := range subs {
				if sub(f) {
					return true
				}
			}
			return false
		}
	default: // none
		return func(f *geojson.Feature) bool {
			for _, sub := range subs {
				if sub(f) {
					return false
				}
			}
			return true
		}
	}
}

func compileComparison(op, key string, value any) Filter {
	return func(f *geojson.Feature) bool {
		got, ok := lookupProperty(f, key)
		if !ok {
			return op == "!="
		}
		switch op {
		case "==":
			return propertyEqual(got, value)
		case "!=":
			return !propertyEqual(got, value)
		}
		a, aok := toFloat(got)
		b, bok := toFloat(value)
		if !aok || !bok {
			return false
		}
		switch op {
		case "<":
			return a < b
		case "<=":
			return a <= b
		case ">":
			return a > b
		default:
			return a >= b
		}
	}
}

// lookupProperty resolves a filter key against a feature. "$type" and
// "$id" address the geometry type and the feature id.
func lookupProperty(f *geojson.Feature, key string) (any, bool) {
	switch key {
	case "$type":
		if f.Geometry == nil {
			return nil, false
		}
		return string(f.Geometry.GeoJSONType()), true
	case "$id":
		if f.ID == nil {
			return nil, false
		}
		return f.ID, true
	}
	v, ok := f.Properties[key]
	return v, ok
}

func propertyEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
		return false
	}
	// Property values may be slices or maps, which == cannot compare.
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
