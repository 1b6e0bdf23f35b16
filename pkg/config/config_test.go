package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("PORTAL_LOGIN_ID", "candidate@example.com")
	t.Setenv("MAILBOX_ADDRESS", "candidate@example.com")
	t.Setenv("MAILBOX_APP_PASSWORD", "app-password")
	t.Setenv("GEMINI_API_KEY", "key")
}

func TestLoadAppliesDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://nextstep.tcs.com/campus/", cfg.PortalURL)
	assert.True(t, cfg.Headless)
	assert.Equal(t, 80*time.Second, cfg.ScriptTimeout())
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 3, cfg.CaptchaMaxRetries)
	assert.Equal(t, "imap.gmail.com:993", cfg.IMAPAddr)
	assert.Equal(t, "smtp.gmail.com:465", cfg.SMTPAddr)
	assert.Equal(t, 20*time.Second, cfg.OTPInitialWait)
	assert.Equal(t, 8, cfg.OTPMaxPolls)
	assert.Equal(t, 3*time.Second, cfg.OTPPollInterval)
	assert.Equal(t, "ILP Scheduled", cfg.PositiveStatus)
	assert.Equal(t, "No JL", cfg.NegativeStatus)
	assert.Equal(t, "0 12,20 * * *", cfg.ScheduleCron)
	assert.NotEmpty(t, cfg.SuccessIndicators)
	assert.NotEmpty(t, cfg.ErrorIndicators)
}

func TestLoadOverridesFromEnvironment(t *testing.T) {
	setRequired(t)
	t.Setenv("SCRIPT_TIMEOUT", "120")
	t.Setenv("HEADLESS", "false")
	t.Setenv("MAX_ATTEMPTS", "5")
	t.Setenv("OTP_INITIAL_WAIT", "5s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 120*time.Second, cfg.ScriptTimeout())
	assert.False(t, cfg.Headless)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.OTPInitialWait)
}

func TestValidateNamesEveryMissingVariable(t *testing.T) {
	cfg := &Config{MaxAttempts: 3, ScriptTimeoutSecs: 80}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PORTAL_LOGIN_ID")
	assert.Contains(t, err.Error(), "MAILBOX_ADDRESS")
	assert.Contains(t, err.Error(), "MAILBOX_APP_PASSWORD")
	assert.Contains(t, err.Error(), "GEMINI_API_KEY")
}

func TestValidateRejectsZeroAttempts(t *testing.T) {
	cfg := &Config{
		PortalLoginID:     "a",
		MailboxAddress:    "b",
		MailboxPassword:   "c",
		GeminiAPIKey:      "d",
		MaxAttempts:       0,
		ScriptTimeoutSecs: 80,
	}
	assert.ErrorContains(t, cfg.Validate(), "MAX_ATTEMPTS")
}
