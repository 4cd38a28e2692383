package main

import (
	"github.com/spf13/cobra"

	"github.com/clubmetrics/districtrun/internal/build"
	"github.com/clubmetrics/districtrun/internal/snapshot"
)

func newBuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the snapshot for one cache date",
		Long: `Reads the cached CSVs for the date, validates and normalizes every
configured district, ranks the all-districts summary, and publishes the
snapshot artifacts (district files, analytics, manifest) plus the
program-year index points.`,
		RunE: runBuild,
	}
	addDateFlag(cmd.Flags())
	cmd.MarkFlagRequired("date")
	return cmd
}

func runBuild(cmd *cobra.Command, _ []string) error {
	p, err := newPipeline(cmd)
	if err != nil {
		return err
	}
	date, _ := cmd.Flags().GetString("date")

	builder := build.NewBuilder(p.cache, p.store, p.indexer, p.cfg.Districts)
	result, err := builder.Build(cmd.Context(), date)
	if err != nil {
		return err
	}

	if err := printJSON(result); err != nil {
		return err
	}
	if !result.Skipped && result.Status == snapshot.StatusFailed {
		return errAllDistrictsFailed
	}
	return nil
}
