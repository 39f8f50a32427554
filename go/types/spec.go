package types

import (
	"fmt"
	"strconv"
)

// Keys recognised in job and task specs. A Spec may carry additional keys;
// the scheduler does not interpret them.
const (
	SpecKeyBundleID          = "BUNDLE_ID"
	SpecKeyVariables         = "VARIABLES"
	SpecKeyStartYear         = "START_YEAR"
	SpecKeyStartMonth        = "START_MONTH"
	SpecKeyStartDay          = "START_DAY"
	SpecKeyEndYear           = "END_YEAR"
	SpecKeyEndMonth          = "END_MONTH"
	SpecKeyEndDay            = "END_DAY"
	SpecKeyOutputFormat      = "OUTPUT_FORMAT"
	SpecKeyLonMin            = "LON_MIN"
	SpecKeyLatMin            = "LAT_MIN"
	SpecKeyLonMax            = "LON_MAX"
	SpecKeyLatMax            = "LAT_MAX"
	SpecKeySubmitterID       = "SUBMITTER_ID"
	SpecKeyInPath            = "IN_PATH"
	SpecKeyOutPath           = "OUT_PATH"
	SpecKeyOutputNamePattern = "OUTPUT_NAME_PATTERN"
)

// Spec is a schemaless property bag attached to jobs, tasks, datasets,
// bundles and variables. Specs are persisted as JSON text; values must be
// JSON-serialisable.
type Spec map[string]interface{}

// DeepCopy returns a copy of the Spec which shares no mutable state with the
// original. Values must be JSON-like (strings, numbers, bools, nil, []interface{},
// map[string]interface{}, []string).
func (s Spec) DeepCopy() Spec {
	if s == nil {
		return nil
	}
	return deepCopyMap(s)
}

func deepCopyMap(m map[string]interface{}) map[string]interface{} {
	rv := make(map[string]interface{}, len(m))
	for k, v := range m {
		rv[k] = deepCopyValue(v)
	}
	return rv
}

func deepCopyValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return deepCopyMap(val)
	case Spec:
		return deepCopyMap(val)
	case []interface{}:
		cpy := make([]interface{}, len(val))
		for i, e := range val {
			cpy[i] = deepCopyValue(e)
		}
		return cpy
	case []string:
		cpy := make([]string, len(val))
		copy(cpy, val)
		return cpy
	default:
		return v
	}
}

// GetString returns the value for the given key rendered as a string.
// Numeric values are formatted without a decimal point where possible, so a
// spec which arrives with START_YEAR as either "2018" or 2018 behaves the
// same. Returns "" when the key is absent.
func (s Spec) GetString(key string) string {
	v, ok := s[key]
	if !ok || v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// GetInt returns the value for the given key as an int.
func (s Spec) GetInt(key string) (int, error) {
	str := s.GetString(key)
	if str == "" {
		return 0, fmt.Errorf("spec key %s is missing or empty", key)
	}
	rv, err := strconv.Atoi(str)
	if err != nil {
		return 0, fmt.Errorf("spec key %s: %v", key, err)
	}
	return rv, nil
}

// GetStringList returns the value for the given key as a list of strings.
// Returns nil when the key is absent.
func (s Spec) GetStringList(key string) []string {
	v, ok := s[key]
	if !ok || v == nil {
		return nil
	}
	switch val := v.(type) {
	case []string:
		cpy := make([]string, len(val))
		copy(cpy, val)
		return cpy
	case []interface{}:
		rv := make([]string, 0, len(val))
		for _, e := range val {
			if str, ok := e.(string); ok {
				rv = append(rv, str)
			} else {
				rv = append(rv, fmt.Sprintf("%v", e))
			}
		}
		return rv
	default:
		return nil
	}
}

// GetSub returns the nested Spec under the given key, or nil when absent or
// not a mapping.
func (s Spec) GetSub(key string) Spec {
	v, ok := s[key]
	if !ok {
		return nil
	}
	switch val := v.(type) {
	case map[string]interface{}:
		return Spec(val)
	case Spec:
		return val
	default:
		return nil
	}
}

// Has returns true when the key is present with a non-nil value.
func (s Spec) Has(key string) bool {
	v, ok := s[key]
	return ok && v != nil
}
