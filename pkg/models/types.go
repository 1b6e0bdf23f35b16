package models

import "fmt"

// LoginOutcome classifies the page state after the OTP is submitted.
type LoginOutcome string

const (
	// LoginSuccess means a success indicator was visible on the page.
	LoginSuccess LoginOutcome = "success"

	// LoginError means an error indicator with non-empty text was visible.
	LoginError LoginOutcome = "error"

	// LoginIndeterminate means neither indicator was found. Treated as an
	// attempt failure: the portal gave no usable signal.
	LoginIndeterminate LoginOutcome = "indeterminate"
)

// Stage identifies where inside an attempt an error happened.
type Stage string

const (
	StageLaunch  Stage = "launch"
	StageLogin   Stage = "login"
	StageCaptcha Stage = "captcha"
	StageOTP     Stage = "otp"
	StageVerify  Stage = "verify"
	StageStatus  Stage = "status"
)

// AttemptError is a recoverable per-attempt failure. The orchestrator logs it
// and moves on to the next attempt; it never escapes Run directly.
type AttemptError struct {
	Attempt int
	Stage   Stage
	Err     error
}

func (e *AttemptError) Error() string {
	return fmt.Sprintf("attempt %d: %s: %v", e.Attempt, e.Stage, e.Err)
}

func (e *AttemptError) Unwrap() error { return e.Err }

// CheckResult is the outcome of one full run. It is handed to the notifier
// exactly once and then discarded; nothing outlives the process.
type CheckResult struct {
	// Status is the matched status name ("ILP Scheduled", "No JL", ...) or
	// empty when the check never got past login.
	Status string

	// StatusKnown reports whether Status was actually read from the portal.
	// Login may succeed and status extraction still fail.
	StatusKnown bool

	// Detail carries the raw status row text, or an error description on the
	// failure paths.
	Detail string

	// Screenshot is the PNG captured on the final page, nil when no page was
	// reachable.
	Screenshot []byte

	// ScreenshotPath is where the screenshot was persisted for the email
	// attachment, empty when none was taken.
	ScreenshotPath string

	// Attempts is how many login attempts were consumed.
	Attempts int

	// LoginOK reports whether any attempt authenticated successfully.
	LoginOK bool
}

// Subject builds the notification subject line for the result.
func (r *CheckResult) Subject(positiveStatus string) string {
	switch {
	case !r.LoginOK:
		return "Portal status check failed"
	case !r.StatusKnown:
		return "Portal status check: status unknown"
	case r.Status == positiveStatus:
		return fmt.Sprintf("Portal status update: %s!", r.Status)
	default:
		return fmt.Sprintf("Portal status: %s", r.Status)
	}
}
