package snapshot

import (
	"time"

	"github.com/clubmetrics/districtrun/internal/model"
)

// Build statuses recorded on a manifest.
const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)

// DistrictError is one absorbed per-district failure.
type DistrictError struct {
	DistrictID  string    `json:"districtId"`
	Op          string    `json:"op"`
	Error       string    `json:"error"`
	ShouldRetry bool      `json:"shouldRetry"`
	Timestamp   time.Time `json:"timestamp"`
}

// Manifest describes one published snapshot.
type Manifest struct {
	SnapshotID string             `json:"snapshotId"`
	Versions   model.FileVersions `json:"versions"`
	CreatedAt  time.Time          `json:"createdAt"`
	Status     string             `json:"status"`

	ConfiguredDistricts []string        `json:"configuredDistricts"`
	SuccessfulDistricts []string        `json:"successfulDistricts"`
	FailedDistricts     []string        `json:"failedDistricts"`
	DistrictErrors      []DistrictError `json:"districtErrors,omitempty"`

	ProcessingDurationMS int64  `json:"processingDurationMs"`
	DataAsOfDate         string `json:"dataAsOfDate"`

	// Closing-period stamps: when the dashboard served month-end data,
	// LogicalDate is the in-report "as of" date and CollectionDate the
	// fetch date.
	IsClosingPeriodData bool   `json:"isClosingPeriodData"`
	CollectionDate      string `json:"collectionDate"`
	LogicalDate         string `json:"logicalDate"`

	WriteComplete        bool     `json:"writeComplete"`
	WriteFailedDistricts []string `json:"writeFailedDistricts,omitempty"`
}

// Metadata is the cheap per-snapshot summary used by batch listings.
type Metadata struct {
	SnapshotID          string    `json:"snapshotId"`
	Status              string    `json:"status"`
	CreatedAt           time.Time `json:"createdAt"`
	DataAsOfDate        string    `json:"dataAsOfDate"`
	DistrictCount       int       `json:"districtCount"`
	SuccessfulDistricts int       `json:"successfulDistricts"`
	IsClosingPeriodData bool      `json:"isClosingPeriodData"`
}

// Summary converts a manifest to its metadata view.
func (m *Manifest) Summary() Metadata {
	return Metadata{
		SnapshotID:          m.SnapshotID,
		Status:              m.Status,
		CreatedAt:           m.CreatedAt,
		DataAsOfDate:        m.DataAsOfDate,
		DistrictCount:       len(m.ConfiguredDistricts),
		SuccessfulDistricts: len(m.SuccessfulDistricts),
		IsClosingPeriodData: m.IsClosingPeriodData,
	}
}
