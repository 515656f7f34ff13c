package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/wrc-harvester/internal/config"
	"github.com/JakeFAU/wrc-harvester/internal/crawler"
	"github.com/JakeFAU/wrc-harvester/internal/stage"
)

// windowFlags are the --from/--to pair shared by both stages.
type windowFlags struct {
	from string
	to   string
}

func (w *windowFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&w.from, "from", "", "first day of the window (DD/MM/YYYY)")
	cmd.Flags().StringVar(&w.to, "to", "", "last day of the window (DD/MM/YYYY)")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
}

func (w *windowFlags) parse() (time.Time, time.Time, error) {
	from, err := crawler.ParseFormDate(w.from)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("--from must be DD/MM/YYYY: %w", err)
	}
	to, err := crawler.ParseFormDate(w.to)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("--to must be DD/MM/YYYY: %w", err)
	}
	if from.After(to) {
		return time.Time{}, time.Time{}, errors.New("--from must not be after --to")
	}
	return from, to, nil
}

func newHarvestCmd() *cobra.Command {
	var (
		window     windowFlags
		query      string
		categories []string
	)
	cmd := &cobra.Command{
		Use:   "harvest",
		Short: "Harvest decisions published inside a date window",
		Long: `Searches the decisions site for every calendar month in the window and
each requested body category, stores the documents of every listing in the
raw bucket, and upserts their metadata.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer env.close(cmd.Context())
			from, to, err := window.parse()
			if err != nil {
				return err
			}
			selectors, err := env.cfg.CategorySelectors()
			if err != nil {
				return err
			}
			requested, err := config.ParseCategories(categories, selectors)
			if err != nil {
				return err
			}
			return runStage(cmd, env, stage.Request{
				Stage:      crawler.StageHarvest,
				Query:      query,
				Categories: requested,
				From:       from,
				To:         to,
			})
		},
	}
	window.register(cmd)
	cmd.Flags().StringVar(&query, "q", "", "free-text search query")
	cmd.Flags().StringSliceVar(&categories, "categories", nil, "body categories to search (default: all configured)")
	return cmd
}

func newNormalizeCmd() *cobra.Command {
	var window windowFlags
	cmd := &cobra.Command{
		Use:   "normalize",
		Short: "Normalize stored decisions published inside a date window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer env.close(cmd.Context())
			from, to, err := window.parse()
			if err != nil {
				return err
			}
			return runStage(cmd, env, stage.Request{
				Stage: crawler.StageNormalize,
				From:  from,
				To:    to,
			})
		},
	}
	window.register(cmd)
	return cmd
}

// runStage executes req in the foreground and prints the finished run.
func runStage(cmd *cobra.Command, env *environment, req stage.Request) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	run, err := env.app.Runner().Run(ctx, req)
	if run.ID != "" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(run); encErr != nil {
			env.logger.Warn("failed to print run", zap.Error(encErr))
		}
	}
	if err != nil {
		return fmt.Errorf("%s run failed: %w", req.Stage, err)
	}
	env.logger.Info("stage finished", zap.String("run_id", run.ID), zap.String("stage", string(req.Stage)))
	return nil
}
