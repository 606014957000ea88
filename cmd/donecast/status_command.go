package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tgdscott/DoneCast-sub003/internal/config"
	"github.com/tgdscott/DoneCast-sub003/internal/daemon"
	"github.com/tgdscott/DoneCast-sub003/internal/queue"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)

				if status, err := fetchDaemonStatus(cmd.Context(), cfg); err == nil {
					renderDaemonStatus(out, status, colorize)
					return nil
				}

				// Daemon unreachable; report straight from the store.
				fmt.Fprintln(out, renderStatusLine("Daemon", statusWarn, "not running", colorize))
				summary, err := store.Health(cmd.Context())
				if err != nil {
					return err
				}
				renderQueueCounts(out, daemon.QueueCounts{
					Total:      summary.Total,
					Pending:    summary.Pending,
					Processing: summary.Processing,
					Processed:  summary.Processed,
					Errored:    summary.Errored,
				}, colorize)
				return nil
			})
		},
	}
}

func fetchDaemonStatus(ctx context.Context, cfg *config.Config) (*daemon.Status, error) {
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, errors.New("control api disabled")
	}

	reqCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, "http://"+bind+"/api/status", nil)
	if err != nil {
		return nil, err
	}
	if token := strings.TrimSpace(cfg.Paths.APIToken); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("daemon status returned %d", resp.StatusCode)
	}

	var status daemon.Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, err
	}
	return &status, nil
}

func renderDaemonStatus(out io.Writer, status *daemon.Status, colorize bool) {
	daemonKind := statusOK
	daemonMsg := "running"
	if !status.Running {
		daemonKind = statusWarn
		daemonMsg = "stopped"
	}
	fmt.Fprintln(out, renderStatusLine("Daemon", daemonKind, daemonMsg, colorize))

	stageKind := statusOK
	stageMsg := status.Stage.Name
	if !status.Stage.Ready {
		stageKind = statusError
		stageMsg = fmt.Sprintf("%s: %s", status.Stage.Name, status.Stage.Detail)
	}
	fmt.Fprintln(out, renderStatusLine("Stage", stageKind, stageMsg, colorize))

	if status.Workflow.LastError != "" {
		fmt.Fprintln(out, renderStatusLine("Last error", statusError, status.Workflow.LastError, colorize))
	}
	if status.Workflow.LastJobID != 0 {
		fmt.Fprintln(out, renderStatusLine("Last job", statusInfo,
			fmt.Sprintf("#%d %s", status.Workflow.LastJobID, status.Workflow.LastJobStatus), colorize))
	}

	renderQueueCounts(out, status.Queue, colorize)
}

func renderQueueCounts(out io.Writer, counts daemon.QueueCounts, colorize bool) {
	fmt.Fprintln(out, renderStatusLine("Queue", statusInfo, fmt.Sprintf("%d total", counts.Total), colorize))
	if counts.Pending > 0 {
		fmt.Fprintln(out, renderStatusLine("Pending", statusInfo, fmt.Sprintf("%d", counts.Pending), colorize))
	}
	if counts.Processing > 0 {
		fmt.Fprintln(out, renderStatusLine("Processing", statusInfo, fmt.Sprintf("%d", counts.Processing), colorize))
	}
	if counts.Processed > 0 {
		fmt.Fprintln(out, renderStatusLine("Processed", statusOK, fmt.Sprintf("%d", counts.Processed), colorize))
	}
	if counts.Errored > 0 {
		fmt.Fprintln(out, renderStatusLine("Errored", statusError, fmt.Sprintf("%d", counts.Errored), colorize))
	}
}
