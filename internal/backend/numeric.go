package backend

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// CoerceInt64 tolerantly decodes a backend-returned JSON number into
// an int64, accepting JSON numbers, numeric strings, and whole-number
// floats. Ported from original_source/serde_convex.rs's
// de_i64_from_number/value_to_i64/f64_to_i64 — the backend (Convex)
// sometimes encodes large counters as strings or floats.
func CoerceInt64(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 {
		return 0, fmt.Errorf("empty numeric field")
	}

	var asNumber json.Number
	if err := json.Unmarshal(raw, &asNumber); err == nil {
		if n, err := asNumber.Int64(); err == nil {
			return n, nil
		}
		if f, err := asNumber.Float64(); err == nil {
			return float64ToInt64(f)
		}
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		if n, err := strconv.ParseInt(asString, 10, 64); err == nil {
			return n, nil
		}
		if f, err := strconv.ParseFloat(asString, 64); err == nil {
			return float64ToInt64(f)
		}
		return 0, fmt.Errorf("invalid numeric string: %s", asString)
	}

	return 0, fmt.Errorf("expected number, got %s", string(raw))
}

// CoerceOptionalInt64 is CoerceInt64 but treats a missing/null field as
// (0, false) instead of an error, matching
// original_source/serde_convex.rs's de_opt_i64_from_number.
func CoerceOptionalInt64(raw json.RawMessage) (int64, bool, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false, nil
	}
	n, err := CoerceInt64(raw)
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

func float64ToInt64(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("non-finite float: %v", f)
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("non-integer float cannot be converted to i64: %v", f)
	}
	if f < math.MinInt64 || f > math.MaxInt64 {
		return 0, fmt.Errorf("float out of i64 range: %v", f)
	}
	return int64(f), nil
}
