package model

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var programYearPattern = regexp.MustCompile(`^(\d{4})-(\d{4})$`)

// ProgramYearOf returns the program year label for a date. Program
// years run July 1 through June 30 and are labeled "YYYY-YYYY".
func ProgramYearOf(t time.Time) string {
	year := t.Year()
	if t.Month() >= time.July {
		return fmt.Sprintf("%d-%d", year, year+1)
	}
	return fmt.Sprintf("%d-%d", year-1, year)
}

// ProgramYearBounds returns the inclusive start and end dates of a
// program year label.
func ProgramYearBounds(programYear string) (start, end time.Time, err error) {
	first, ok := parseProgramYear(programYear)
	if !ok {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid program year %q", programYear)
	}
	start = time.Date(first, time.July, 1, 0, 0, 0, 0, time.UTC)
	end = time.Date(first+1, time.June, 30, 0, 0, 0, 0, time.UTC)
	return start, end, nil
}

// ValidProgramYear reports whether label is "YYYY-YYYY" with the second
// year exactly one after the first.
func ValidProgramYear(label string) bool {
	_, ok := parseProgramYear(label)
	return ok
}

// ProgramYearsOverlapping lists the program year labels whose ranges
// intersect [start, end], in ascending order.
func ProgramYearsOverlapping(start, end time.Time) []string {
	var years []string
	for label := ProgramYearOf(start); ; {
		years = append(years, label)
		_, yearEnd, err := ProgramYearBounds(label)
		if err != nil || !yearEnd.Before(end) {
			break
		}
		label = ProgramYearOf(yearEnd.AddDate(0, 0, 1))
	}
	return years
}

func parseProgramYear(label string) (int, bool) {
	m := programYearPattern.FindStringSubmatch(label)
	if m == nil {
		return 0, false
	}
	first, _ := strconv.Atoi(m[1])
	second, _ := strconv.Atoi(m[2])
	if second != first+1 {
		return 0, false
	}
	return first, true
}
