package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	appsync "github.com/ordersync/backend/internal/application/ordersync"
	"github.com/ordersync/backend/internal/domain/ordersync"
	"github.com/ordersync/backend/internal/infrastructure/queue"
)

func syncCmd(opts *options, load componentLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "sync <order_id>",
		Short: "Run one sync step for an order inline",
		Long: `Run the orchestration step for an order in this process, bypassing the
queue. A confirmation job queued by the step goes through the configured
queue backend.

Examples:
  ordersyncctl sync IL-1001
  ordersyncctl sync IL-1001 --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, release, err := load(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer release()

			outcome := c.Service.SyncNow(cmd.Context(), args[0])
			resp := appsync.ToSyncResultResponse(outcome)
			if err := render(cmd.OutOrStdout(), opts, resp, func(p *printer) { p.syncResult(resp) }); err != nil {
				return err
			}
			if outcome.Kind != ordersync.OutcomeOk {
				return fmt.Errorf("sync %s: %s", outcome.Kind, resp.Error)
			}
			return nil
		},
	}
}

func statusCmd(opts *options, load componentLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "status <order_id>",
		Short: "Show the sync record and notification state of an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, release, err := load(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer release()

			status, err := c.Service.Status(cmd.Context(), args[0])
			if err != nil {
				if errors.Is(err, ordersync.ErrOrderNotFound) {
					return fmt.Errorf("order %s not found", args[0])
				}
				return err
			}
			return render(cmd.OutOrStdout(), opts, status, func(p *printer) { p.status(status) })
		},
	}
}

func backfillCmd(opts *options, load componentLoader) *cobra.Command {
	var (
		after    string
		pageSize int
	)
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Enqueue sync jobs for orders without a synced record",
		Long: `Page through orders in the target branches that have no synced record and
enqueue a sync job for each. Without --after every such order is considered
(bootstrap); with --after only orders updated after that time (incremental).

Examples:
  ordersyncctl backfill
  ordersyncctl backfill --after 2026-01-31T00:00:00Z`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req := appsync.BackfillRequest{Mode: appsync.BackfillBootstrap, PageSize: pageSize}
			if after != "" {
				t, err := time.Parse(time.RFC3339, after)
				if err != nil {
					return fmt.Errorf("invalid --after %q: want RFC3339", after)
				}
				req.Mode = appsync.BackfillIncremental
				req.After = &t
			}

			c, release, err := load(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer release()

			report, err := c.Backfill.Run(cmd.Context(), req)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts, report, func(p *printer) { p.backfill(report) })
		},
	}
	cmd.Flags().StringVar(&after, "after", "", "only orders updated after this RFC3339 time")
	cmd.Flags().IntVar(&pageSize, "page-size", appsync.DefaultBackfillPageSize, "orders read per page")
	return cmd
}

func deadLetterCmd(opts *options, load componentLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "deadletter",
		Aliases: []string{"dlq"},
		Short:   "Inspect and replay dead-lettered jobs",
	}
	cmd.AddCommand(deadLetterListCmd(opts, load), deadLetterReplayCmd(opts, load))
	return cmd
}

func deadLetterListCmd(opts *options, load componentLoader) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list <queue>",
		Short: "List dead-lettered jobs, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, release, err := load(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer release()

			dead, err := c.DeadLetters()
			if err != nil {
				return err
			}
			jobs, err := dead.ListDead(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts, jobs, func(p *printer) { p.deadJobs(args[0], jobs) })
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum jobs to list")
	return cmd
}

func deadLetterReplayCmd(opts *options, load componentLoader) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "replay <queue> [job_id...]",
		Short: "Push dead-lettered jobs back onto their queue",
		Long: `Reset the attempt bookkeeping of dead-lettered jobs and make them ready
again.

Examples:
  ordersyncctl deadletter replay order-sync 6f1c...
  ordersyncctl deadletter replay notifications --all`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			queueName, ids := args[0], args[1:]
			if all == (len(ids) > 0) {
				return errors.New("pass job ids or --all")
			}

			c, release, err := load(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer release()

			dead, err := c.DeadLetters()
			if err != nil {
				return err
			}
			if all {
				jobs, err := dead.ListDead(cmd.Context(), queueName, 0)
				if err != nil {
					return err
				}
				for _, job := range jobs {
					ids = append(ids, job.ID)
				}
			}

			var replayed []*queue.Job
			var failed []error
			for _, id := range ids {
				job, err := dead.Replay(cmd.Context(), queueName, id)
				if err != nil {
					failed = append(failed, fmt.Errorf("%s: %w", id, err))
					continue
				}
				replayed = append(replayed, job)
			}
			if err := render(cmd.OutOrStdout(), opts, replayed, func(p *printer) { p.replayed(queueName, replayed) }); err != nil {
				return err
			}
			return errors.Join(failed...)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "replay every dead job of the queue")
	return cmd
}
