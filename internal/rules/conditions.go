package rules

import (
	"fmt"
	"math"
	"reflect"
	"slices"
	"strconv"
	"strings"

	"github.com/auralink/proactive/internal/datastore/entities"
)

func evalTrigger(t *entities.Trigger, strict bool, rctx *Context, depth int) (bool, error) {
	if depth > maxTriggerDepth {
		return false, fmt.Errorf("%w: nesting deeper than %d", ErrMalformedTrigger, maxTriggerDepth)
	}

	switch t.Type {
	case entities.TriggerSimple:
		return evalSimple(t, strict, rctx)
	case entities.TriggerCompound:
		return evalCompound(t, strict, rctx, depth)
	case entities.TriggerTime:
		return evalTime(t, rctx)
	case entities.TriggerThreshold:
		return evalThreshold(t, rctx)
	default:
		return false, fmt.Errorf("%w: unknown trigger type %q", ErrMalformedTrigger, t.Type)
	}
}

func evalSimple(t *entities.Trigger, strict bool, rctx *Context) (bool, error) {
	actual, ok := Lookup(rctx.SenseData, t.SensorPath)
	if !ok {
		return false, nil
	}
	return compare(t.Operator, actual, t.Value, strict)
}

// evalCompound applies AND/OR over the nested conditions. AND over an empty
// list is vacuously true; OR over an empty list is false.
func evalCompound(t *entities.Trigger, strict bool, rctx *Context, depth int) (bool, error) {
	switch t.Logic {
	case entities.LogicAnd:
		for i := range t.Conditions {
			ok, err := evalTrigger(&t.Conditions[i], strict, rctx, depth+1)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case entities.LogicOr:
		for i := range t.Conditions {
			ok, err := evalTrigger(&t.Conditions[i], strict, rctx, depth+1)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("%w: unknown logic %q", ErrMalformedTrigger, t.Logic)
	}
}

// evalTime checks the hour range and weekday list. Omitted fields do not
// constrain, so a time trigger with neither always passes.
func evalTime(t *entities.Trigger, rctx *Context) (bool, error) {
	if hr := t.HourRange; hr != nil {
		if hr.Start < 0 || hr.Start > 23 || hr.End < 0 || hr.End > 23 {
			return false, fmt.Errorf("%w: hour range %d-%d out of bounds", ErrMalformedTrigger, hr.Start, hr.End)
		}
		h := rctx.Hour
		var inRange bool
		if hr.Start <= hr.End {
			inRange = h >= hr.Start && h <= hr.End
		} else {
			inRange = h >= hr.Start || h <= hr.End
		}
		if !inRange {
			return false, nil
		}
	}
	if len(t.DaysOfWeek) > 0 && !slices.Contains(t.DaysOfWeek, int(rctx.DayOfWeek)) {
		return false, nil
	}
	return true, nil
}

// evalThreshold passes when the value falls in any band. Bounds are
// inclusive and each may be omitted.
func evalThreshold(t *entities.Trigger, rctx *Context) (bool, error) {
	raw, ok := Lookup(rctx.SenseData, t.SensorPath)
	if !ok {
		return false, nil
	}
	v, err := toFloat64(raw)
	if err != nil {
		return false, nil
	}
	for _, band := range t.Bands {
		if band.Min != nil && v < *band.Min {
			continue
		}
		if band.Max != nil && v > *band.Max {
			continue
		}
		return true, nil
	}
	return false, nil
}

func compare(op entities.Operator, actual, expected any, strict bool) (bool, error) {
	switch op {
	case entities.OpLess, entities.OpLessEqual, entities.OpGreater, entities.OpGreaterEqual:
		want, err := toFloat64(expected)
		if err != nil {
			return false, fmt.Errorf("%w: operator %s needs a numeric value", ErrMalformedTrigger, op)
		}
		got, err := toFloat64(actual)
		if err != nil {
			return false, nil
		}
		switch op {
		case entities.OpLess:
			return got < want, nil
		case entities.OpLessEqual:
			return got <= want, nil
		case entities.OpGreater:
			return got > want, nil
		default:
			return got >= want, nil
		}
	case entities.OpEqual:
		return equal(actual, expected, strict), nil
	case entities.OpNotEqual:
		return !equal(actual, expected, strict), nil
	case entities.OpContains:
		return contains(actual, expected, strict), nil
	case entities.OpBetween:
		lo, hi, err := betweenBounds(expected)
		if err != nil {
			return false, err
		}
		got, err := toFloat64(actual)
		if err != nil {
			return false, nil
		}
		return got >= lo && got <= hi, nil
	default:
		return false, fmt.Errorf("%w: unknown operator %q", ErrMalformedTrigger, op)
	}
}

func betweenBounds(v any) (lo, hi float64, err error) {
	rv := reflect.ValueOf(v)
	if v == nil || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) || rv.Len() != 2 {
		return 0, 0, fmt.Errorf("%w: between needs a [min, max] pair", ErrMalformedTrigger)
	}
	lo, err = toFloat64(rv.Index(0).Interface())
	if err != nil {
		return 0, 0, fmt.Errorf("%w: between min: %w", ErrMalformedTrigger, err)
	}
	hi, err = toFloat64(rv.Index(1).Interface())
	if err != nil {
		return 0, 0, fmt.Errorf("%w: between max: %w", ErrMalformedTrigger, err)
	}
	return lo, hi, nil
}

// equal compares two values. Strict mode requires both sides to be the same
// kind of value (number, string, bool) before comparing. Loose mode coerces
// numeric strings and booleans to numbers.
func equal(a, b any, strict bool) bool {
	if strict {
		return strictEqual(a, b)
	}
	if af, err := looseFloat(a); err == nil {
		if bf, err := looseFloat(b); err == nil {
			return af == bf
		}
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return as == bs
		}
	}
	return reflect.DeepEqual(a, b)
}

func strictEqual(a, b any) bool {
	switch {
	case isNumber(a) && isNumber(b):
		af, _ := toFloat64(a)
		bf, _ := toFloat64(b)
		return af == bf
	case isNumber(a) || isNumber(b):
		return false
	}
	return reflect.DeepEqual(a, b)
}

// contains matches a substring case-insensitively, or an element of a list.
func contains(haystack, needle any, strict bool) bool {
	if s, ok := haystack.(string); ok {
		n, ok := needle.(string)
		if !ok {
			n = fmt.Sprint(needle)
		}
		return strings.Contains(strings.ToLower(s), strings.ToLower(n))
	}
	rv := reflect.ValueOf(haystack)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return false
	}
	for i := range rv.Len() {
		if equal(rv.Index(i).Interface(), needle, strict) {
			return true
		}
	}
	return false
}

func isNumber(v any) bool {
	switch v.(type) {
	case float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	default:
		return false
	}
}

func looseFloat(v any) (float64, error) {
	if b, ok := v.(bool); ok {
		if b {
			return 1, nil
		}
		return 0, nil
	}
	return toFloat64(v)
}

func toFloat64(val any) (float64, error) {
	switch v := val.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int8:
		return float64(v), nil
	case int16:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint:
		return float64(v), nil
	case uint8:
		return float64(v), nil
	case uint16:
		return float64(v), nil
	case uint32:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, err
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, fmt.Errorf("non-finite number %q", v)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("cannot convert %T to float64", val)
	}
}
