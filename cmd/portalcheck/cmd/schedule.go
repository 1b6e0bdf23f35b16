package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"dev/bravebird/portal-check-go/pkg/config"
	"dev/bravebird/portal-check-go/pkg/logging"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run checks on a cron schedule until interrupted",
	Long: `schedule keeps the process alive and triggers an independent check on the
configured cron expression (SCHEDULE_CRON, default "0 12,20 * * *"). Each
trigger behaves exactly like a one-shot 'check' run: fresh sessions, its own
timeout, one notification.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			cmd.PrintErrln("configuration error:", err)
			os.Exit(exitFailed)
		}
		if err := logging.Setup(cfg.LogDir, cfg.Debug); err != nil {
			cmd.PrintErrln("logging setup error:", err)
			os.Exit(exitFailed)
		}
		return runSchedule(cmd.Context(), cfg)
	},
}

func runSchedule(ctx context.Context, cfg *config.Config) error {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return err
	}

	job, err := scheduler.NewJob(
		gocron.CronJob(cfg.ScheduleCron, false),
		gocron.NewTask(func() {
			code := runOnce(ctx, cfg)
			log.Info().Int("exit_code", code).Msg("scheduled check finished")
		}),
		gocron.WithName("portal-status-check"),
		// A slow run must never overlap the next trigger; one login attempt
		// in flight at a time.
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return err
	}

	scheduler.Start()
	if next, err := job.NextRun(); err == nil {
		log.Info().Str("cron", cfg.ScheduleCron).Time("next_run", next).Msg("scheduler started")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down scheduler")
	case <-ctx.Done():
	}

	return scheduler.Shutdown()
}
