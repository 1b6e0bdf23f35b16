package cmd

import (
	"context"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"dev/bravebird/portal-check-go/pkg/browser"
	"dev/bravebird/portal-check-go/pkg/captcha"
	"dev/bravebird/portal-check-go/pkg/checker"
	"dev/bravebird/portal-check-go/pkg/config"
	"dev/bravebird/portal-check-go/pkg/logging"
	"dev/bravebird/portal-check-go/pkg/mailbox"
	"dev/bravebird/portal-check-go/pkg/notify"
	"dev/bravebird/portal-check-go/pkg/portal"
)

// Exit codes: 0 = check completed with a determined status, 1 = setup failure
// or attempt exhaustion, 2 = login succeeded but status indeterminate.
const (
	exitOK            = 0
	exitFailed        = 1
	exitIndeterminate = 2
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run a single status check and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			// No logger yet; the config error is the whole story.
			cmd.PrintErrln("configuration error:", err)
			os.Exit(exitFailed)
		}
		if err := logging.Setup(cfg.LogDir, cfg.Debug); err != nil {
			cmd.PrintErrln("logging setup error:", err)
			os.Exit(exitFailed)
		}

		code := runOnce(cmd.Context(), cfg)
		if code != exitOK {
			os.Exit(code)
		}
		return nil
	},
}

// runOnce performs one independent check bounded by the script timeout and
// returns the process exit code. Shared by `check` and `schedule`.
func runOnce(parent context.Context, cfg *config.Config) int {
	runID := uuid.NewString()[:8]
	logger := log.With().Str("run_id", runID).Logger()

	ctx, cancel := context.WithTimeout(parent, cfg.ScriptTimeout())
	defer cancel()

	logger.Info().
		Bool("headless", cfg.Headless).
		Dur("timeout", cfg.ScriptTimeout()).
		Msg("starting status check")

	runner, err := buildRunner(cfg)
	if err != nil {
		logger.Error().Err(err).Msg("setup failed")
		return exitFailed
	}

	result, err := runner.Run(ctx)

	// Screenshots only exist to ride along with the notification; once the
	// run is over they are dead weight between scheduled invocations.
	browser.CleanupScreenshots(cfg.ScreenshotDir)

	if err != nil {
		logger.Error().Err(err).Int("attempts", result.Attempts).Msg("status check failed")
		return exitFailed
	}
	if !result.StatusKnown {
		logger.Warn().Msg("login succeeded but status is unknown")
		return exitIndeterminate
	}

	logger.Info().
		Str("status", result.Status).
		Int("attempts", result.Attempts).
		Msg("status check completed")
	return exitOK
}

// buildRunner wires the orchestrator from the immutable configuration.
func buildRunner(cfg *config.Config) (*checker.Runner, error) {
	mailer, err := notify.NewMailer(cfg.SMTPAddr, cfg.MailboxAddress, cfg.MailboxPassword)
	if err != nil {
		return nil, err
	}

	solver := captcha.NewGeminiSolver(captcha.Config{
		APIKey: cfg.GeminiAPIKey,
		Model:  cfg.GeminiModel,
	})

	fetcher := mailbox.NewFetcher(mailbox.Options{
		Addr:         cfg.IMAPAddr,
		Username:     cfg.MailboxAddress,
		Password:     cfg.MailboxPassword,
		SubjectMatch: cfg.OTPSubjectMatch,
		InitialWait:  cfg.OTPInitialWait,
		PollInterval: cfg.OTPPollInterval,
		MaxPolls:     cfg.OTPMaxPolls,
	})

	params := portal.Params{
		URL:               cfg.PortalURL,
		LoginID:           cfg.PortalLoginID,
		SuccessIndicators: cfg.SuccessIndicators,
		ErrorIndicators:   cfg.ErrorIndicators,
		PositiveStatus:    cfg.PositiveStatus,
		NegativeStatus:    cfg.NegativeStatus,
	}

	launch := func(ctx context.Context) (checker.Session, error) {
		sess, err := browser.Launch(ctx, cfg.Headless)
		if err != nil {
			return nil, err
		}
		return portal.NewFlow(sess, params), nil
	}

	return &checker.Runner{
		Launch:         launch,
		Solver:         solver,
		OTP:            fetcher,
		Notifier:       mailer,
		MaxAttempts:    cfg.MaxAttempts,
		CaptchaRetries: cfg.CaptchaMaxRetries,
		PositiveStatus: cfg.PositiveStatus,
		SaveShot: func(name string, data []byte) string {
			path, err := browser.SaveScreenshot(cfg.ScreenshotDir, name, data)
			if err != nil {
				log.Warn().Err(err).Msg("failed to persist screenshot")
				return ""
			}
			return path
		},
	}, nil
}
