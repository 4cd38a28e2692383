// Package csvparse parses dashboard report CSVs into typed row records.
// The dashboard's CSV dialect is close to RFC 4180 but carries footer
// metadata lines ("Month of Jan") that must be dropped, so parsing is
// line-oriented rather than delegated to encoding/csv.
package csvparse

import (
	"math"
	"strconv"
	"strings"

	"github.com/clubmetrics/districtrun/internal/model"
)

// Result is a parsed report: the header row plus one record per data
// line, preserving input order.
type Result struct {
	Headers []string
	Records []model.CSVRecord
}

// Parse parses a full report file. Empty lines and "Month of" footer
// lines are dropped; the first surviving line is the header row.
// Malformed data lines produce records with nil fields, never an error.
func Parse(content []byte) Result {
	lines := splitLines(string(content))

	var result Result
	for _, line := range lines {
		if result.Headers == nil {
			result.Headers = parseLine(line)
			continue
		}
		fields := parseLine(line)
		record := make(model.CSVRecord, len(result.Headers))
		for i, header := range result.Headers {
			if i < len(fields) {
				record[header] = typeField(header, fields[i])
			} else {
				record[header] = nil
			}
		}
		result.Records = append(result.Records, record)
	}
	return result
}

// splitLines returns the meaningful lines of a report: trimmed,
// non-empty, and with footer metadata removed.
func splitLines(content string) []string {
	raw := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
	lines := make([]string, 0, len(raw))
	for _, line := range raw {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.Contains(trimmed, "Month of") {
			continue
		}
		lines = append(lines, trimmed)
	}
	return lines
}

// parseLine splits one CSV line honoring double quotes. A doubled quote
// inside a quoted field yields a literal quote; commas inside quotes
// are literal. Fields are trimmed.
func parseLine(line string) []string {
	var fields []string
	var field strings.Builder
	inQuotes := false

	for i := 0; i < len(line); i++ {
		ch := line[i]
		switch {
		case ch == '"':
			if inQuotes && i+1 < len(line) && line[i+1] == '"' {
				field.WriteByte('"')
				i++
			} else {
				inQuotes = !inQuotes
			}
		case ch == ',' && !inQuotes:
			fields = append(fields, strings.TrimSpace(field.String()))
			field.Reset()
		default:
			field.WriteByte(ch)
		}
	}
	fields = append(fields, strings.TrimSpace(field.String()))
	return fields
}

// typeField coerces one raw field. REGION stays a string because it
// retains leading zeros; elsewhere empty means nil and finite numbers
// become float64.
func typeField(header, raw string) any {
	if header == "REGION" {
		return raw
	}
	if raw == "" {
		return nil
	}
	if n, err := strconv.ParseFloat(raw, 64); err == nil && !math.IsInf(n, 0) && !math.IsNaN(n) {
		return n
	}
	return raw
}
