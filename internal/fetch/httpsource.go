package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/clubmetrics/districtrun/internal/csvparse"
	"github.com/clubmetrics/districtrun/internal/errs"
	"github.com/clubmetrics/districtrun/internal/model"
)

// maxReportBytes caps one CSV download. The largest observed club
// report is well under 2 MB.
const maxReportBytes = 16 << 20

// HTTPSource downloads the dashboard's CSV exports over HTTP. One
// report per request; the three per-district reports fetch
// concurrently.
type HTTPSource struct {
	client  *http.Client
	baseURL string
}

// NewHTTPSource creates a source against baseURL with a per-request
// timeout.
func NewHTTPSource(baseURL string, timeout time.Duration) *HTTPSource {
	return &HTTPSource{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// FetchDistrictReports downloads the three reports for one (district,
// date).
func (s *HTTPSource) FetchDistrictReports(ctx context.Context, districtID, date string) (Reports, error) {
	kinds := model.PerDistrictKinds()
	results := make([]csvparse.Result, len(kinds))
	errors := make([]error, len(kinds))

	var wg sync.WaitGroup
	for i, kind := range kinds {
		wg.Add(1)
		go func(i int, kind model.ReportKind) {
			defer wg.Done()
			results[i], errors[i] = s.download(ctx, kind, districtID, date)
		}(i, kind)
	}
	wg.Wait()

	for _, err := range errors {
		if err != nil {
			return Reports{}, err
		}
	}
	return Reports{District: results[0], Division: results[1], Club: results[2]}, nil
}

// download fetches and parses one CSV export.
func (s *HTTPSource) download(ctx context.Context, kind model.ReportKind, districtID, date string) (csvparse.Result, error) {
	query := url.Values{}
	query.Set("report", string(kind))
	query.Set("district", districtID)
	query.Set("date", date)
	endpoint := fmt.Sprintf("%s/export?%s", s.baseURL, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return csvparse.Result{}, errs.Wrap(errs.KindInvalidInput, "fetch.http", err).WithDistrict(districtID)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return csvparse.Result{}, errs.Wrap(errs.KindTransient, "fetch.http", err).WithDistrict(districtID)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return csvparse.Result{}, errs.New(errs.KindUpstreamUnavailable, "fetch.http",
			"dashboard returned 404 for %s %s on %s", kind, districtID, date)
	}
	if resp.StatusCode != http.StatusOK {
		return csvparse.Result{}, errs.New(errs.KindUpstreamUnavailable, "fetch.http",
			"dashboard returned status %d for %s %s on %s", resp.StatusCode, kind, districtID, date)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReportBytes))
	if err != nil {
		return csvparse.Result{}, errs.Wrap(errs.KindTransient, "fetch.http", err).WithDistrict(districtID)
	}
	return csvparse.Parse(body), nil
}
