package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clubmetrics/districtrun/internal/errs"
)

func TestHTTPSource_FetchDistrictReports(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "42", r.URL.Query().Get("district"))
		assert.Equal(t, "2025-01-10", r.URL.Query().Get("date"))
		switch r.URL.Query().Get("report") {
		case "district-performance":
			w.Write([]byte("DISTRICT,Total Clubs\n42,50\n"))
		case "division-performance":
			w.Write([]byte("Division,Clubs\nA,10\n"))
		case "club-performance":
			w.Write([]byte("Club Number,Active Members\n1001,25\n"))
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	defer server.Close()

	source := NewHTTPSource(server.URL, 5*time.Second)
	reports, err := source.FetchDistrictReports(context.Background(), "42", "2025-01-10")
	require.NoError(t, err)

	require.Len(t, reports.District.Records, 1)
	assert.Equal(t, "42", reports.District.Records[0].DistrictID())
	require.Len(t, reports.Division.Records, 1)
	require.Len(t, reports.Club.Records, 1)
}

func TestHTTPSource_NotFoundClassifiesUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	source := NewHTTPSource(server.URL, 5*time.Second)
	_, err := source.FetchDistrictReports(context.Background(), "42", "2025-01-10")
	require.Error(t, err)
	assert.Equal(t, errs.KindUpstreamUnavailable, errs.KindOf(err))
	assert.True(t, Unavailable(err))
}

func TestHTTPSource_ServerErrorClassifiesUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	source := NewHTTPSource(server.URL, 5*time.Second)
	_, err := source.FetchDistrictReports(context.Background(), "42", "2025-01-10")
	require.Error(t, err)
	assert.True(t, Unavailable(err), "message carries the dashboard status for the classifier")
}
