package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/tgdscott/DoneCast-sub003/internal/config"
	"github.com/tgdscott/DoneCast-sub003/internal/queue"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the assembly queue",
	}

	queueCmd.AddCommand(newQueueStatusCommand(ctx))
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueShowCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))

	return queueCmd
}

func newQueueStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue status summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, store *queue.Store) error {
				stats, err := store.Stats(cmd.Context())
				if err != nil {
					return err
				}

				rows := make([][]string, 0, len(stats))
				for _, status := range queue.AllStatuses() {
					if count, ok := stats[status]; ok && count > 0 {
						rows = append(rows, []string{string(status), strconv.Itoa(count)})
					}
				}
				if len(rows) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				rendered := renderTable([]string{"Status", "Count"}, rows, 1)
				fmt.Fprintln(cmd.OutOrStdout(), rendered)
				return nil
			})
		},
	}
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var listStatuses []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List assembly jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, store *queue.Store) error {
				var statuses []queue.Status
				for _, value := range listStatuses {
					status, ok := queue.ParseStatus(value)
					if !ok {
						return fmt.Errorf("unknown status %q", value)
					}
					statuses = append(statuses, status)
				}

				jobs, err := store.List(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				if len(jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}

				rows := make([][]string, 0, len(jobs))
				for _, job := range jobs {
					rows = append(rows, []string{
						strconv.FormatInt(job.ID, 10),
						job.EpisodeID,
						job.EpisodeTitle,
						string(job.Status),
						job.CreatedAt.Format(time.RFC3339),
					})
				}
				rendered := renderTable([]string{"ID", "Episode", "Title", "Status", "Created"}, rows, 0)
				fmt.Fprintln(cmd.OutOrStdout(), rendered)
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&listStatuses, "status", "s", nil, "Filter by job status (repeatable)")
	return cmd
}

func newQueueShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one assembly job in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid job id %q", args[0])
			}
			return ctx.withStore(func(_ *config.Config, store *queue.Store) error {
				job, err := store.GetByID(cmd.Context(), id)
				if err != nil {
					return err
				}
				if job == nil {
					return fmt.Errorf("job %d not found", id)
				}

				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				kind := statusInfo
				switch job.Status {
				case queue.StatusProcessed:
					kind = statusOK
				case queue.StatusError:
					kind = statusError
				}

				fmt.Fprintln(out, renderStatusLine("Job", statusInfo, fmt.Sprintf("#%d", job.ID), colorize))
				fmt.Fprintln(out, renderStatusLine("Episode", statusInfo, job.EpisodeID, colorize))
				if job.EpisodeTitle != "" {
					fmt.Fprintln(out, renderStatusLine("Title", statusInfo, job.EpisodeTitle, colorize))
				}
				fmt.Fprintln(out, renderStatusLine("Status", kind, string(job.Status), colorize))
				if job.ProgressStage != "" {
					fmt.Fprintln(out, renderStatusLine("Progress", statusInfo,
						fmt.Sprintf("%s (%.0f%%) %s", job.ProgressStage, job.ProgressPercent, job.ProgressMessage), colorize))
				}
				if job.ErrorMessage != "" {
					fmt.Fprintln(out, renderStatusLine("Error", statusError, job.ErrorMessage, colorize))
				}
				if job.ResultLocator != "" {
					fmt.Fprintln(out, renderStatusLine("Artifact", statusOK, job.ResultLocator, colorize))
					fmt.Fprintln(out, renderStatusLine("Duration", statusInfo,
						(time.Duration(job.ResultDuration)*time.Second).String(), colorize))
				}
				if job.CoverArtLocator != "" {
					fmt.Fprintln(out, renderStatusLine("Cover art", statusInfo, job.CoverArtLocator, colorize))
				}
				return nil
			})
		},
	}
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [id...]",
		Short: "Re-admit errored jobs to the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, arg := range args {
				id, err := strconv.ParseInt(arg, 10, 64)
				if err != nil {
					return fmt.Errorf("invalid job id %q", arg)
				}
				ids = append(ids, id)
			}
			return ctx.withStore(func(_ *config.Config, store *queue.Store) error {
				retried, err := store.RetryErrored(cmd.Context(), ids...)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Re-admitted %d job(s)\n", retried)
				return nil
			})
		},
	}
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove processed jobs from the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, store *queue.Store) error {
				removed, err := store.ClearProcessed(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d processed job(s)\n", removed)
				return nil
			})
		},
	}
}
