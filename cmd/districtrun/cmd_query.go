package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/clubmetrics/districtrun/internal/aggregator"
)

func (p *pipeline) newReadService() *aggregator.Service {
	cache := aggregator.NewDistrictCache(p.cfg.Aggregator.CacheSize,
		time.Duration(p.cfg.Aggregator.CacheTTLSeconds)*time.Second)
	return aggregator.NewService(p.store, p.store, p.indexer, cache)
}

func newTrendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trend",
		Short: "Print a district's data points in a date range",
		RunE:  runTrend,
	}
	cmd.Flags().String("district", "", "District id (required)")
	cmd.Flags().String("start", "", "Range start (YYYY-MM-DD, required)")
	cmd.Flags().String("end", "", "Range end (YYYY-MM-DD, required)")
	cmd.MarkFlagRequired("district")
	cmd.MarkFlagRequired("start")
	cmd.MarkFlagRequired("end")
	return cmd
}

func runTrend(cmd *cobra.Command, _ []string) error {
	p, err := newPipeline(cmd)
	if err != nil {
		return err
	}
	districtID, _ := cmd.Flags().GetString("district")
	start, _ := cmd.Flags().GetString("start")
	end, _ := cmd.Flags().GetString("end")

	points, err := p.newReadService().TrendData(districtID, start, end)
	if err != nil {
		return err
	}
	return printJSON(points)
}

func newYearsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "years",
		Short: "Print a district's program-year availability",
		RunE:  runYears,
	}
	cmd.Flags().String("district", "", "District id (required)")
	cmd.MarkFlagRequired("district")
	return cmd
}

func runYears(cmd *cobra.Command, _ []string) error {
	p, err := newPipeline(cmd)
	if err != nil {
		return err
	}
	districtID, _ := cmd.Flags().GetString("district")

	availability, err := p.newReadService().ListAvailableProgramYears(districtID)
	if err != nil {
		return err
	}
	return printJSON(availability)
}
