package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/clubmetrics/districtrun/internal/backfill"
)

func newBackfillCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Backfill the raw cache for one district",
		Long: `Fetches and caches every missing date in the range, newest first.
Dates the dashboard has no data for count as unavailable; dates whose
club report sums to fewer members than the reconciliation threshold are
left uncached.`,
		RunE: runBackfill,
	}
	cmd.Flags().String("district", "", "District id (required)")
	cmd.Flags().String("start", "", "Start date (YYYY-MM-DD, default: program year start)")
	cmd.Flags().String("end", "", "End date (YYYY-MM-DD, default: today)")
	cmd.MarkFlagRequired("district")
	return cmd
}

func runBackfill(cmd *cobra.Command, _ []string) error {
	p, err := newPipeline(cmd)
	if err != nil {
		return err
	}
	districtID, _ := cmd.Flags().GetString("district")
	start, _ := cmd.Flags().GetString("start")
	end, _ := cmd.Flags().GetString("end")

	controller := backfill.NewController(p.cache, p.newSource(), p.cfg.Backfill)
	jobID, err := controller.Initiate(districtID, start, end)
	if err != nil {
		return err
	}

	job := tailJob(cmd, controller, jobID)
	if err := printJSON(job); err != nil {
		return err
	}
	if job.Status == backfill.StatusError {
		return fmt.Errorf("backfill job %s: %s", job.ID, job.Error)
	}
	return nil
}

// tailJob polls the job until it finalizes, writing progress lines to
// stderr. Interrupting the command cancels the job.
func tailJob(cmd *cobra.Command, controller *backfill.Controller, jobID string) backfill.Job {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var last string
	for {
		select {
		case <-cmd.Context().Done():
			controller.Cancel(jobID)
			job, _ := controller.Job(jobID)
			return job
		case <-ticker.C:
			job, ok := controller.Job(jobID)
			if !ok {
				return backfill.Job{ID: jobID, Status: backfill.StatusError, Error: "job disappeared"}
			}
			line := fmt.Sprintf("%d/%d done, %d unavailable, %d failed, current %s",
				job.Progress.Completed+job.Progress.Skipped, job.Progress.Total,
				job.Progress.Unavailable, job.Progress.Failed, job.Progress.Current)
			if line != last {
				fmt.Fprintln(os.Stderr, line)
				last = line
			}
			if job.Finalized() {
				return job
			}
		}
	}
}
