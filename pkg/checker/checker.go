// Package checker sequences one full status check: a bounded outer retry loop
// that owns the browser-session lifecycle and invokes the CAPTCHA solver, OTP
// fetcher, status extractor and notifier through narrow contracts.
package checker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"dev/bravebird/portal-check-go/pkg/captcha"
	"dev/bravebird/portal-check-go/pkg/models"
)

// Session is one attempt's view of the portal. Exactly one Session is open
// per attempt and it is closed on every exit path before the next attempt
// starts.
type Session interface {
	OpenLogin(ctx context.Context) error
	CaptchaImage(ctx context.Context) ([]byte, error)
	// SubmitCaptcha reports whether the portal advanced to the OTP page.
	SubmitCaptcha(ctx context.Context, text string) (bool, error)
	SubmitOTP(ctx context.Context, code string) error
	LoginOutcome(ctx context.Context) (models.LoginOutcome, string)
	Status(ctx context.Context) (status, row string, err error)
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}

// Launcher produces a fresh isolated Session.
type Launcher func(ctx context.Context) (Session, error)

// OTPFetcher retrieves a one-time password delivered after the CAPTCHA step.
// It returns mailbox.ErrNotFound when no fresh code arrives in time.
type OTPFetcher interface {
	Fetch(ctx context.Context, sentAfter time.Time) (string, error)
}

// Notifier delivers the final result. Called exactly once per run.
type Notifier interface {
	Send(subject, body, screenshotPath string, screenshot []byte) error
}

// Runner drives the whole check.
type Runner struct {
	Launch   Launcher
	Solver   captcha.Solver
	OTP      OTPFetcher
	Notifier Notifier

	MaxAttempts    int
	CaptchaRetries int
	PositiveStatus string

	// SaveShot persists a screenshot and returns its path; nil disables
	// persistence (the bytes still travel with the result).
	SaveShot func(name string, data []byte) string
}

// ErrAttemptsExhausted is returned when every attempt failed.
var ErrAttemptsExhausted = errors.New("checker: all login attempts exhausted")

// Run executes up to MaxAttempts login attempts, each with its own session,
// and sends exactly one notification with the outcome. The returned error is
// non-nil only when the run as a whole failed: every attempt burned without a
// successful login, or the overall deadline expired.
func (r *Runner) Run(ctx context.Context) (*models.CheckResult, error) {
	result := &models.CheckResult{}
	var lastErr error

	for attempt := 1; attempt <= r.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			lastErr = fmt.Errorf("run aborted: %w", err)
			break
		}
		result.Attempts = attempt

		log.Info().Int("attempt", attempt).Int("max_attempts", r.MaxAttempts).Msg("starting login attempt")

		res, err := r.attempt(ctx, attempt)
		if err == nil {
			res.Attempts = attempt
			result = res
			break // success short-circuits, no further attempts
		}

		lastErr = err
		var attErr *models.AttemptError
		if errors.As(err, &attErr) {
			log.Warn().
				Int("attempt", attErr.Attempt).
				Str("stage", string(attErr.Stage)).
				Err(attErr.Err).
				Msg("attempt failed, restarting with a fresh session")
		} else {
			log.Warn().Int("attempt", attempt).Err(err).Msg("attempt failed")
		}
	}

	if !result.LoginOK && lastErr != nil {
		result.Detail = lastErr.Error()
	}

	// Exactly one notification per run, success or not.
	r.notify(result)

	switch {
	case result.LoginOK:
		return result, nil
	case ctx.Err() != nil:
		return result, fmt.Errorf("run timed out: %w", ctx.Err())
	default:
		return result, fmt.Errorf("%w after %d attempts: %v", ErrAttemptsExhausted, result.Attempts, lastErr)
	}
}

// attempt runs one full pass: launch, login form, CAPTCHA, OTP, outcome
// check, then status extraction. The session is released on every path.
func (r *Runner) attempt(ctx context.Context, attempt int) (*models.CheckResult, error) {
	// Messages older than this instant belong to a previous attempt and their
	// codes are already burned.
	startedAt := time.Now()

	sess, err := r.Launch(ctx)
	if err != nil {
		return nil, &models.AttemptError{Attempt: attempt, Stage: models.StageLaunch, Err: err}
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			log.Warn().Err(cerr).Int("attempt", attempt).Msg("session close failed")
		}
	}()

	if err := sess.OpenLogin(ctx); err != nil {
		return nil, &models.AttemptError{Attempt: attempt, Stage: models.StageLogin, Err: err}
	}

	if err := r.passCaptcha(ctx, sess); err != nil {
		return nil, &models.AttemptError{Attempt: attempt, Stage: models.StageCaptcha, Err: err}
	}

	code, err := r.OTP.Fetch(ctx, startedAt)
	if err != nil {
		// ErrNotFound is the designed restart signal; anything else is a
		// mailbox failure. Both consume this attempt.
		return nil, &models.AttemptError{Attempt: attempt, Stage: models.StageOTP, Err: err}
	}

	if err := sess.SubmitOTP(ctx, code); err != nil {
		return nil, &models.AttemptError{Attempt: attempt, Stage: models.StageVerify, Err: err}
	}

	outcome, detail := sess.LoginOutcome(ctx)
	switch outcome {
	case models.LoginSuccess:
	case models.LoginError:
		return nil, &models.AttemptError{Attempt: attempt, Stage: models.StageVerify,
			Err: fmt.Errorf("portal reported: %s", detail)}
	default:
		return nil, &models.AttemptError{Attempt: attempt, Stage: models.StageVerify,
			Err: errors.New("no clear success or error signal on page")}
	}

	log.Info().Int("attempt", attempt).Msg("login successful")
	result := &models.CheckResult{LoginOK: true}

	// Post-login failures are reported distinctly; login already succeeded so
	// they never consume a retry.
	status, row, serr := sess.Status(ctx)
	if serr != nil {
		log.Error().Err(serr).Msg("status extraction failed after successful login")
		result.Detail = fmt.Sprintf("login succeeded but status could not be read: %v", serr)
	} else {
		result.Status = status
		result.StatusKnown = true
		result.Detail = row
	}

	if shot, err := sess.Screenshot(ctx); err != nil {
		log.Warn().Err(err).Msg("final screenshot failed")
	} else {
		result.Screenshot = shot
		if r.SaveShot != nil {
			result.ScreenshotPath = r.SaveShot("application_status", shot)
		}
	}

	return result, nil
}

// passCaptcha runs the bounded in-attempt CAPTCHA loop: grab image, solve,
// submit, and retry on a miss up to CaptchaRetries times. A solver outage is
// treated the same as a bad decode; the outer attempt counter bounds
// everything beyond this loop.
func (r *Runner) passCaptcha(ctx context.Context, sess Session) error {
	retries := r.CaptchaRetries
	if retries < 1 {
		retries = 1
	}

	var lastErr error
	for try := 1; try <= retries; try++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		img, err := sess.CaptchaImage(ctx)
		if err != nil {
			lastErr = fmt.Errorf("capture captcha: %w", err)
			continue
		}

		text, err := r.Solver.Solve(ctx, img)
		if err != nil {
			lastErr = fmt.Errorf("solve captcha: %w", err)
			log.Warn().Err(err).Int("try", try).Msg("captcha solver failed")
			continue
		}
		log.Info().Int("try", try).Str("solver", r.Solver.Name()).Msg("captcha decoded")

		advanced, err := sess.SubmitCaptcha(ctx, text)
		if err != nil {
			lastErr = fmt.Errorf("submit captcha: %w", err)
			continue
		}
		if advanced {
			return nil
		}

		lastErr = errors.New("still on captcha page after submit")
		log.Warn().Int("try", try).Msg("captcha rejected, refreshing within attempt")
	}

	return fmt.Errorf("captcha not passed after %d tries: %w", retries, lastErr)
}

// notify sends the single outcome notification. Failure to deliver is logged,
// never propagated: the check itself already completed.
func (r *Runner) notify(result *models.CheckResult) {
	if r.Notifier == nil {
		return
	}

	subject := result.Subject(r.PositiveStatus)
	body := r.body(result)

	if err := r.Notifier.Send(subject, body, result.ScreenshotPath, result.Screenshot); err != nil {
		log.Error().Err(err).Msg("notification delivery failed")
	}
}

func (r *Runner) body(result *models.CheckResult) string {
	switch {
	case result.StatusKnown && result.Status == r.PositiveStatus:
		return fmt.Sprintf("Congratulations! The portal shows %q.\n\nStatus row:\n%s", result.Status, result.Detail)
	case result.StatusKnown:
		return fmt.Sprintf("No update yet. The portal shows %q.\n\nStatus row:\n%s", result.Status, result.Detail)
	case result.LoginOK:
		return fmt.Sprintf("Login succeeded but the status could not be read.\n\n%s", result.Detail)
	default:
		return fmt.Sprintf("The status check did not complete after %d attempt(s).\n\nLast error: %s",
			result.Attempts, result.Detail)
	}
}
