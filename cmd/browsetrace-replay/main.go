// Command browsetrace-replay plays scripted visitor journeys through a tracker
// against a running collector.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/vincentbai/browsetrace/internal/config"
	"github.com/vincentbai/browsetrace/internal/logger"
	"github.com/vincentbai/browsetrace/internal/replay"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:   "browsetrace-replay",
		Short: "Replay scripted visitor journeys against a BrowseTrace collector",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "",
		"tracker config file (default is $CONFIG_PATH or ./tracker.yml)")

	root.AddCommand(newRunCommand(&cfgFile))
	return root
}

func newRunCommand(cfgFile *string) *cobra.Command {
	var realtime bool

	cmd := &cobra.Command{
		Use:   "run <journey.yml>...",
		Short: "Play one or more journeys, each as a fresh page load",
		Long: `Plays each journey file through a new tracker instance. Waits advance a
virtual clock unless --realtime is set.

Example:
  browsetrace-replay run journeys/pricing.yml --config tracker.yml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := *cfgFile
			if path == "" {
				path = config.GetConfigPath("tracker.yml")
			}
			cfg, err := config.LoadTracker(path)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log, err := logger.New(cfg.Logging)
			if err != nil {
				return fmt.Errorf("failed to create logger: %w", err)
			}
			defer log.Sync()

			var opts []replay.PlayerOption
			if realtime {
				opts = append(opts, replay.WithRealtime())
			}

			for _, file := range args {
				if err := runJourney(cmd, file, cfg, log, opts); err != nil {
					return fmt.Errorf("%s: %w", file, err)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&realtime, "realtime", false, "sleep through waits instead of advancing a virtual clock")
	return cmd
}

func runJourney(cmd *cobra.Command, file string, base *config.Tracker, log logger.Logger, opts []replay.PlayerOption) error {
	journey, err := replay.LoadJourney(file)
	if err != nil {
		return err
	}

	// Each journey is a separate page load with its own collector override.
	cfg := *base
	player, err := replay.NewPlayer(journey, &cfg, log.With(logger.String("journey", file)), prometheus.NewRegistry(), opts...)
	if err != nil {
		return err
	}

	summary, err := player.Run(cmd.Context())
	if err != nil {
		return err
	}

	start := time.Now()
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s steps, visitor stayed %s, session %s, exit %s\n",
		file,
		humanize.Comma(int64(summary.Steps)),
		strings.TrimSpace(humanize.RelTime(start, start.Add(summary.VisitorTime), "", "")),
		summary.SessionID,
		summary.ExitState,
	)
	return nil
}
