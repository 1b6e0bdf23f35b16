package checker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev/bravebird/portal-check-go/pkg/mailbox"
	"dev/bravebird/portal-check-go/pkg/models"
)

// fakeSession scripts one attempt's portal behavior.
type fakeSession struct {
	captchaResults []bool // consumed per SubmitCaptcha call; true = advanced
	captchaCalls   int
	outcome        models.LoginOutcome
	outcomeDetail  string
	status         string
	row            string
	statusErr      error
	closed         bool
}

func (s *fakeSession) OpenLogin(context.Context) error { return nil }

func (s *fakeSession) CaptchaImage(context.Context) ([]byte, error) { return []byte("png"), nil }

func (s *fakeSession) SubmitCaptcha(context.Context, string) (bool, error) {
	if s.captchaCalls >= len(s.captchaResults) {
		return false, nil
	}
	res := s.captchaResults[s.captchaCalls]
	s.captchaCalls++
	return res, nil
}

func (s *fakeSession) SubmitOTP(context.Context, string) error { return nil }

func (s *fakeSession) LoginOutcome(context.Context) (models.LoginOutcome, string) {
	return s.outcome, s.outcomeDetail
}

func (s *fakeSession) Status(context.Context) (string, string, error) {
	return s.status, s.row, s.statusErr
}

func (s *fakeSession) Screenshot(context.Context) ([]byte, error) { return []byte("shot"), nil }

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

// fakeLauncher hands out one scripted session per attempt and records them.
type fakeLauncher struct {
	sessions []*fakeSession
	launched []*fakeSession
	errs     []error
	calls    int
}

func (l *fakeLauncher) launch(context.Context) (Session, error) {
	i := l.calls
	l.calls++
	if i < len(l.errs) && l.errs[i] != nil {
		return nil, l.errs[i]
	}
	if i >= len(l.sessions) {
		return nil, errors.New("no more scripted sessions")
	}
	s := l.sessions[i]
	l.launched = append(l.launched, s)
	return s, nil
}

type fakeSolver struct {
	text string
	err  error
}

func (f *fakeSolver) Solve(context.Context, []byte) (string, error) { return f.text, f.err }

func (f *fakeSolver) Name() string { return "fake" }

type fakeOTP struct {
	results []otpResult
	calls   int
}

type otpResult struct {
	code string
	err  error
}

func (f *fakeOTP) Fetch(context.Context, time.Time) (string, error) {
	i := f.calls
	f.calls++
	if i >= len(f.results) {
		return "", mailbox.ErrNotFound
	}
	return f.results[i].code, f.results[i].err
}

type fakeNotifier struct {
	calls    int
	subjects []string
	bodies   []string
}

func (f *fakeNotifier) Send(subject, body, _ string, _ []byte) error {
	f.calls++
	f.subjects = append(f.subjects, subject)
	f.bodies = append(f.bodies, body)
	return nil
}

func okSession() *fakeSession {
	return &fakeSession{
		captchaResults: []bool{true},
		outcome:        models.LoginSuccess,
		status:         "No JL",
		row:            "APP123 | Pending | 01/01/2026",
	}
}

func newRunner(l *fakeLauncher, otp *fakeOTP, n *fakeNotifier) *Runner {
	return &Runner{
		Launch:         l.launch,
		Solver:         &fakeSolver{text: "AB12CD"},
		OTP:            otp,
		Notifier:       n,
		MaxAttempts:    3,
		CaptchaRetries: 3,
		PositiveStatus: "ILP Scheduled",
	}
}

func TestRunSucceedsAfterOTPMisses(t *testing.T) {
	// Attempts 1 and 2 miss the OTP, attempt 3 succeeds: three sessions,
	// one notification, final result success.
	launcher := &fakeLauncher{sessions: []*fakeSession{okSession(), okSession(), okSession()}}
	otp := &fakeOTP{results: []otpResult{
		{err: mailbox.ErrNotFound},
		{err: mailbox.ErrNotFound},
		{code: "XYZ1234"},
	}}
	notifier := &fakeNotifier{}

	result, err := newRunner(launcher, otp, notifier).Run(context.Background())

	require.NoError(t, err)
	assert.True(t, result.LoginOK)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, 3, launcher.calls, "one session per attempt")
	for i, s := range launcher.launched {
		assert.True(t, s.closed, "session %d must be closed", i+1)
	}
	assert.Equal(t, 1, notifier.calls, "exactly one notification per run")
}

func TestRunShortCircuitsOnFirstSuccess(t *testing.T) {
	launcher := &fakeLauncher{sessions: []*fakeSession{okSession(), okSession(), okSession()}}
	otp := &fakeOTP{results: []otpResult{{code: "XYZ1234"}}}
	notifier := &fakeNotifier{}

	result, err := newRunner(launcher, otp, notifier).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, 1, launcher.calls, "no attempt may start after success")
	assert.Equal(t, 1, notifier.calls)
	assert.True(t, result.StatusKnown)
	assert.Equal(t, "No JL", result.Status)
}

func TestRunExhaustsAttemptsWhenCaptchaAlwaysFails(t *testing.T) {
	launcher := &fakeLauncher{sessions: []*fakeSession{okSession(), okSession(), okSession()}}
	otp := &fakeOTP{}
	notifier := &fakeNotifier{}

	runner := newRunner(launcher, otp, notifier)
	runner.Solver = &fakeSolver{err: errors.New("service unavailable")}

	result, err := runner.Run(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAttemptsExhausted)
	assert.False(t, result.LoginOK)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, 3, launcher.calls)
	for i, s := range launcher.launched {
		assert.True(t, s.closed, "session %d leaked", i+1)
	}
	assert.Equal(t, 1, notifier.calls, "failure still notifies exactly once")
	assert.Equal(t, 0, otp.calls, "OTP must not be fetched when captcha never passes")
}

func TestCaptchaRetriesWithinOneAttempt(t *testing.T) {
	// Two misses then a pass, all inside the first attempt: one session only.
	sess := okSession()
	sess.captchaResults = []bool{false, false, true}
	launcher := &fakeLauncher{sessions: []*fakeSession{sess}}
	otp := &fakeOTP{results: []otpResult{{code: "XYZ1234"}}}
	notifier := &fakeNotifier{}

	result, err := newRunner(launcher, otp, notifier).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, 1, launcher.calls)
	assert.Equal(t, 3, sess.captchaCalls)
}

func TestPostLoginStatusFailureIsDistinct(t *testing.T) {
	// Status extraction failing after a successful login is not a retryable
	// attempt failure: no further sessions, result reports login OK.
	sess := okSession()
	sess.statusErr = errors.New("tracking link not found")
	launcher := &fakeLauncher{sessions: []*fakeSession{sess, okSession()}}
	otp := &fakeOTP{results: []otpResult{{code: "XYZ1234"}}}
	notifier := &fakeNotifier{}

	result, err := newRunner(launcher, otp, notifier).Run(context.Background())

	require.NoError(t, err, "post-login failure is not a run failure")
	assert.True(t, result.LoginOK)
	assert.False(t, result.StatusKnown)
	assert.Equal(t, 1, launcher.calls, "status failure must not consume a retry")
	assert.Equal(t, 1, notifier.calls)
	assert.Contains(t, notifier.subjects[0], "status unknown")
}

func TestLaunchFailureConsumesOneAttempt(t *testing.T) {
	boom := errors.New("no chrome binary")
	launcher := &fakeLauncher{errs: []error{boom, boom, nil}, sessions: []*fakeSession{nil, nil, okSession()}}
	otp := &fakeOTP{results: []otpResult{{code: "XYZ1234"}}}
	notifier := &fakeNotifier{}

	result, err := newRunner(launcher, otp, notifier).Run(context.Background())

	require.NoError(t, err)
	assert.True(t, result.LoginOK)
	assert.Equal(t, 3, result.Attempts)
}

func TestLoginErrorOutcomeFailsAttempt(t *testing.T) {
	bad := okSession()
	bad.outcome = models.LoginError
	bad.outcomeDetail = "Invalid OTP"
	launcher := &fakeLauncher{sessions: []*fakeSession{bad, okSession()}}
	otp := &fakeOTP{results: []otpResult{{code: "XYZ1234"}, {code: "QRS5678"}}}
	notifier := &fakeNotifier{}

	result, err := newRunner(launcher, otp, notifier).Run(context.Background())

	require.NoError(t, err)
	assert.True(t, result.LoginOK)
	assert.Equal(t, 2, result.Attempts)
	assert.True(t, bad.closed)
}

func TestIndeterminateOutcomeFailsAttempt(t *testing.T) {
	vague := okSession()
	vague.outcome = models.LoginIndeterminate
	launcher := &fakeLauncher{sessions: []*fakeSession{vague}}
	otp := &fakeOTP{results: []otpResult{{code: "XYZ1234"}}}
	notifier := &fakeNotifier{}

	runner := newRunner(launcher, otp, notifier)
	runner.MaxAttempts = 1

	result, err := runner.Run(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAttemptsExhausted)
	assert.False(t, result.LoginOK)
	assert.True(t, vague.closed)
	assert.Equal(t, 1, notifier.calls)
}

func TestExpiredContextStopsFurtherAttempts(t *testing.T) {
	launcher := &fakeLauncher{sessions: []*fakeSession{okSession()}}
	otp := &fakeOTP{}
	notifier := &fakeNotifier{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := newRunner(launcher, otp, notifier).Run(ctx)

	require.Error(t, err)
	assert.Equal(t, 0, launcher.calls, "no attempt may start after the deadline")
	assert.False(t, result.LoginOK)
	assert.Equal(t, 1, notifier.calls)
}
