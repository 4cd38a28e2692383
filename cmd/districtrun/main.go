// districtrun drives the district report pipeline: snapshot builds,
// historical backfills, month-end reconciliation, cache integrity
// tooling, and read-side queries over the published artifacts.
package main

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/clubmetrics/districtrun/internal/config"
	"github.com/clubmetrics/districtrun/internal/errs"
	"github.com/clubmetrics/districtrun/internal/fetch"
	"github.com/clubmetrics/districtrun/internal/rawcache"
	"github.com/clubmetrics/districtrun/internal/snapshot"
	"github.com/clubmetrics/districtrun/internal/telemetry"
	"github.com/clubmetrics/districtrun/internal/timeseries"
)

const (
	appName = "districtrun"
	version = "v1.2.0"
)

// Exit codes for pipeline orchestration.
const (
	exitAllFailed = 2
	exitNoData    = 3
	exitUsage     = 64
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	telemetry.Initialize()

	rootCmd := &cobra.Command{
		Use:           appName,
		Short:         "District dashboard report pipeline",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Long: `districtrun ingests per-district dashboard CSV reports, validates and
normalizes them, and publishes immutable dated snapshots with rankings
and program-year trend indexes.

Exit codes: 0 success (including partial builds with at least one
district), 2 all districts failed, 3 no cached inputs, 64 invalid
arguments.`,
	}
	rootCmd.PersistentFlags().String("config", "", "Path to YAML config file")

	rootCmd.AddCommand(
		newBuildCmd(),
		newBackfillCmd(),
		newReconcileCmd(),
		newCacheCmd(),
		newTrendCmd(),
		newYearsCmd(),
		newStatsCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(exitCode(err))
	}
}

// errAllDistrictsFailed maps a fully failed build to its exit code.
var errAllDistrictsFailed = errors.New("all districts failed")

func exitCode(err error) int {
	if errors.Is(err, errAllDistrictsFailed) {
		return exitAllFailed
	}
	switch errs.KindOf(err) {
	case errs.KindInvalidInput:
		return exitUsage
	case errs.KindMissingData:
		return exitNoData
	}
	return 1
}

// pipeline bundles the stores every subcommand wires up the same way.
type pipeline struct {
	cfg     config.Config
	cache   *rawcache.Cache
	store   *snapshot.Store
	indexer *timeseries.Indexer
}

func newPipeline(cmd *cobra.Command) (*pipeline, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidInput, "config", err)
	}
	return &pipeline{
		cfg:     cfg,
		cache:   rawcache.New(cfg.CacheDir, rawcache.WithSizeTolerance(cfg.Integrity.SizeToleranceBytes)),
		store:   snapshot.NewStore(filepath.Join(cfg.CacheDir, "snapshots")),
		indexer: timeseries.NewIndexer(filepath.Join(cfg.CacheDir, "time-series")),
	}, nil
}

// newSource builds the guarded HTTP fetch source from configuration.
func (p *pipeline) newSource() fetch.Source {
	httpSource := fetch.NewHTTPSource(p.cfg.Fetch.BaseURL, time.Duration(p.cfg.Fetch.TimeoutSeconds)*time.Second)
	return fetch.NewGuarded(httpSource, fetch.GuardConfig{
		RequestsPerSecond: p.cfg.Fetch.RequestsPerSecond,
		Burst:             p.cfg.Fetch.Burst,
		MaxFailures:       p.cfg.Fetch.BreakerMaxFailures,
		ResetTimeout:      time.Duration(p.cfg.Fetch.BreakerResetSeconds) * time.Second,
	})
}

// addDateFlag attaches the --date flag shared by the build and cache
// subcommands.
func addDateFlag(flags *pflag.FlagSet) {
	flags.String("date", "", "Cache date (YYYY-MM-DD, required)")
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
