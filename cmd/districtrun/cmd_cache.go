package main

import (
	"github.com/spf13/cobra"

	"github.com/clubmetrics/districtrun/internal/errs"
	"github.com/clubmetrics/districtrun/internal/telemetry"
)

func newCacheCmd() *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Raw cache integrity tooling",
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Check one cache date against its metadata",
		Long: `Recounts files, re-hashes contents, and compares sizes against the
date's metadata. Reports every discrepancy found.`,
		RunE: runCacheValidate,
	}
	addDateFlag(validateCmd.Flags())
	validateCmd.MarkFlagRequired("date")

	repairCmd := &cobra.Command{
		Use:   "repair",
		Short: "Rebuild one cache date's metadata from disk",
		RunE:  runCacheRepair,
	}
	addDateFlag(repairCmd.Flags())
	repairCmd.MarkFlagRequired("date")

	cacheCmd.AddCommand(validateCmd, repairCmd)
	return cacheCmd
}

func runCacheValidate(cmd *cobra.Command, _ []string) error {
	p, err := newPipeline(cmd)
	if err != nil {
		return err
	}
	date, _ := cmd.Flags().GetString("date")

	issues, err := p.cache.Validate(date)
	if err != nil {
		return err
	}
	if err := printJSON(issues); err != nil {
		return err
	}
	if len(issues) > 0 {
		return errs.New(errs.KindIntegrity, "cache.validate", "%d integrity issues on %s", len(issues), date)
	}
	return nil
}

func runCacheRepair(cmd *cobra.Command, _ []string) error {
	p, err := newPipeline(cmd)
	if err != nil {
		return err
	}
	date, _ := cmd.Flags().GetString("date")

	metadata, err := p.cache.Repair(date)
	if err != nil {
		return err
	}
	return printJSON(metadata)
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print cache dates and process counters",
		RunE:  runStats,
	}
}

func runStats(cmd *cobra.Command, _ []string) error {
	p, err := newPipeline(cmd)
	if err != nil {
		return err
	}

	dates, err := p.cache.ListDates()
	if err != nil {
		return err
	}
	snapshots, err := p.store.ListSnapshotIDs()
	if err != nil {
		return err
	}

	return printJSON(map[string]any{
		"cacheDates": dates,
		"snapshots":  snapshots,
		"counters":   telemetry.Snapshot(),
	})
}
