package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tgdscott/DoneCast-sub003/internal/config"
	"github.com/tgdscott/DoneCast-sub003/internal/dispatch"
	"github.com/tgdscott/DoneCast-sub003/internal/logging"
	"github.com/tgdscott/DoneCast-sub003/internal/queue"
)

func newAssembleCommand(ctx *commandContext) *cobra.Command {
	var episodeID string
	var episodeTitle string
	var templateID string
	var planPath string

	cmd := &cobra.Command{
		Use:   "assemble",
		Short: "Queue an episode for assembly",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(episodeID) == "" {
				return errors.New("--episode is required")
			}
			if strings.TrimSpace(planPath) == "" {
				return errors.New("--plan is required")
			}
			plan, err := os.ReadFile(planPath)
			if err != nil {
				return fmt.Errorf("read plan file: %w", err)
			}

			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				dispatcher := dispatch.New(cfg, store, logging.NewNop())
				job, err := dispatcher.Enqueue(cmd.Context(), episodeID, episodeTitle, templateID, string(plan))
				if err != nil {
					if job != nil {
						fmt.Fprintf(cmd.OutOrStdout(),
							"Job %d queued but dispatch failed; it stays pending for the next dispatch\n", job.ID)
					}
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued assembly job %d for episode %s\n", job.ID, job.EpisodeID)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&episodeID, "episode", "e", "", "Episode identifier")
	cmd.Flags().StringVarP(&episodeTitle, "title", "t", "", "Episode title for notifications")
	cmd.Flags().StringVar(&templateID, "template", "", "Assembly template identifier")
	cmd.Flags().StringVarP(&planPath, "plan", "p", "", "Path to the assembly plan JSON")
	return cmd
}
