// Package fetch defines the contract with the external report
// retriever. The transport itself (browser automation against the
// dashboard) lives outside the core; the pipeline consumes any Source
// and classifies its failures.
package fetch

import (
	"context"
	"strings"

	"github.com/clubmetrics/districtrun/internal/csvparse"
)

// Reports bundles the three per-district record arrays returned for one
// (district, date).
type Reports struct {
	District csvparse.Result
	Division csvparse.Result
	Club     csvparse.Result
}

// Source retrieves the three per-district reports for a date. A date
// absent from the upstream dashboard must fail with a message matching
// the Unavailable classifier.
type Source interface {
	FetchDistrictReports(ctx context.Context, districtID, date string) (Reports, error)
}

// unavailableFragments are the upstream error shapes that mean "the
// dashboard has no data for this date" rather than a real failure.
var unavailableFragments = []string{
	"not available",
	"dashboard returned",
	"Date selection failed",
	"not found",
	"404",
}

// Unavailable reports whether err indicates the upstream dashboard has
// no data for the requested date. Such dates count as unavailable in
// job progress, never as failed.
func Unavailable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, fragment := range unavailableFragments {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}
