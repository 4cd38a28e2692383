package model

import "strconv"

// CSVRecord is one parsed report row: header name to typed value.
// Values are float64, string, or nil (empty field).
type CSVRecord map[string]any

// String returns the value under key as a string, or "" when absent or
// not a string.
func (r CSVRecord) String(key string) string {
	if v, ok := r[key].(string); ok {
		return v
	}
	return ""
}

// Number returns the value under key as a float64 with a presence flag.
func (r CSVRecord) Number(key string) (float64, bool) {
	v, ok := r[key].(float64)
	return v, ok
}

// DistrictID reads the district id column, trying the header variants
// the dashboard has been observed to emit.
func (r CSVRecord) DistrictID() string {
	for _, key := range []string{"DISTRICT", "District"} {
		switch v := r[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return formatNumericID(v)
		}
	}
	return ""
}

// formatNumericID renders a numeric district column without a decimal
// point when the value is integral.
func formatNumericID(v float64) string {
	if v == float64(int64(v)) {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
