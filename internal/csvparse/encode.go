package csvparse

import (
	"strconv"
	"strings"
)

// Encode renders a parsed report back to CSV bytes. Used when caching
// reports fetched as record arrays. Fields containing commas or quotes
// are quoted with doubled-quote escaping; nil fields render empty.
func Encode(report Result) []byte {
	var b strings.Builder
	writeRow(&b, report.Headers)
	for _, record := range report.Records {
		fields := make([]string, len(report.Headers))
		for i, header := range report.Headers {
			fields[i] = formatField(record[header])
		}
		writeRow(&b, fields)
	}
	return []byte(b.String())
}

func writeRow(b *strings.Builder, fields []string) {
	for i, field := range fields {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(quoteField(field))
	}
	b.WriteByte('\n')
}

func quoteField(field string) string {
	if !strings.ContainsAny(field, `",`) {
		return field
	}
	return `"` + strings.ReplaceAll(field, `"`, `""`) + `"`
}

func formatField(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case string:
		return val
	default:
		return ""
	}
}
