// Package daemonrun builds the full assembly service from configuration and
// runs it until the context is cancelled. It is shared by the daemon binary
// and the CLI's daemon command.
package daemonrun

import (
	"context"
	"fmt"

	"log/slog"

	"github.com/tgdscott/DoneCast-sub003/internal/assembly"
	"github.com/tgdscott/DoneCast-sub003/internal/billing"
	"github.com/tgdscott/DoneCast-sub003/internal/config"
	"github.com/tgdscott/DoneCast-sub003/internal/daemon"
	"github.com/tgdscott/DoneCast-sub003/internal/logging"
	"github.com/tgdscott/DoneCast-sub003/internal/notifications"
	"github.com/tgdscott/DoneCast-sub003/internal/queue"
	"github.com/tgdscott/DoneCast-sub003/internal/services/ffmpeg"
	"github.com/tgdscott/DoneCast-sub003/internal/storage"
	"github.com/tgdscott/DoneCast-sub003/internal/transcripts"
	"github.com/tgdscott/DoneCast-sub003/internal/workflow"
)

// An episode mix that runs longer than this has hung ffmpeg, not a long show.
const mixExportTimeoutSeconds = 2 * 60 * 60

// Build wires the assembly pipeline onto an open store.
func Build(cfg *config.Config, store *queue.Store, logger *slog.Logger) (*daemon.Daemon, error) {
	resolver, err := storage.NewResolver(cfg, store, logger)
	if err != nil {
		return nil, fmt.Errorf("build storage resolver: %w", err)
	}

	mixer, err := ffmpeg.New(cfg.FFmpegBinary(), cfg.FFprobeBinary(), mixExportTimeoutSeconds)
	if err != nil {
		return nil, fmt.Errorf("build mixer: %w", err)
	}

	var ledger billing.Ledger
	if cfg.Billing.Enabled {
		ledger = billing.NewHTTPLedger(cfg.Billing)
	}
	hook := billing.NewHook(cfg, store, ledger, logger)

	assembler := assembly.New(cfg, store, resolver, mixer, hook, logger)
	notifier := notifications.NewService(cfg)
	manager := workflow.NewManager(cfg, store, assembler, notifier, logger)
	transcriptResolver := transcripts.NewResolver(cfg, store, resolver, logger)

	return daemon.New(cfg, store, manager, assembler, transcriptResolver, logger)
}

// Run starts the daemon and blocks until ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config) error {
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	store, err := queue.Open(cfg)
	if err != nil {
		return fmt.Errorf("open queue store: %w", err)
	}

	d, err := Build(cfg, store, logger)
	if err != nil {
		store.Close()
		return err
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("donecast daemon shutting down")
	d.Stop()
	return nil
}
