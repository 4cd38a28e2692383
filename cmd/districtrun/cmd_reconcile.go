package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/clubmetrics/districtrun/internal/backfill"
	"github.com/clubmetrics/districtrun/internal/errs"
	"github.com/clubmetrics/districtrun/internal/model"
	"github.com/clubmetrics/districtrun/internal/reconcile"
)

func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run the month-end reconciliation daemon",
		Long: `Ticks on the configured interval. Early in each month it schedules one
reconciliation per district for the previous month, initiating a
backfill over that month's dates with bounded retries. Runs until
interrupted.`,
		RunE: runReconcile,
	}
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	p, err := newPipeline(cmd)
	if err != nil {
		return err
	}

	controller := backfill.NewController(p.cache, p.newSource(), p.cfg.Backfill)
	orchestrate := func(_ context.Context, districtID, month string) error {
		start, end, err := monthRange(month, time.Now().UTC())
		if err != nil {
			return err
		}
		_, err = controller.Initiate(districtID, start, end)
		if err != nil && errs.KindOf(err) == errs.KindInvalidInput && strings.Contains(err.Error(), "already cached") {
			// Nothing left to fetch for the month counts as done.
			return nil
		}
		return err
	}

	scheduler := reconcile.NewScheduler(p.cfg.Districts, orchestrate, p.cfg.Reconcile)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler.Run(ctx)
	log.Info().Msg("reconciliation daemon stopped")
	return nil
}

// monthRange expands "YYYY-MM" to its first and last cache dates,
// clamped to today.
func monthRange(month string, today time.Time) (string, string, error) {
	first, err := time.Parse("2006-01", month)
	if err != nil {
		return "", "", errs.New(errs.KindInvalidInput, "reconcile", "invalid month %q", month)
	}
	last := first.AddDate(0, 1, -1)
	if last.After(today) {
		last = today
	}
	return first.Format(model.DateFormat), last.Format(model.DateFormat), nil
}
