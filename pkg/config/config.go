package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config is the immutable process configuration. It is loaded once at startup
// and passed explicitly to every component; nothing mutates it afterwards.
type Config struct {
	// Required credentials. Load fails before any attempt if one is missing.
	PortalLoginID   string `envconfig:"PORTAL_LOGIN_ID"`
	MailboxAddress  string `envconfig:"MAILBOX_ADDRESS"`
	MailboxPassword string `envconfig:"MAILBOX_APP_PASSWORD"`
	GeminiAPIKey    string `envconfig:"GEMINI_API_KEY"`

	PortalURL string `envconfig:"PORTAL_URL" default:"https://nextstep.tcs.com/campus/"`
	Headless  bool   `envconfig:"HEADLESS" default:"true"`

	// ScriptTimeoutSecs bounds the whole run; on expiry remaining attempts are
	// aborted and the process exits with failure.
	ScriptTimeoutSecs int `envconfig:"SCRIPT_TIMEOUT" default:"80"`

	MaxAttempts       int    `envconfig:"MAX_ATTEMPTS" default:"3"`
	CaptchaMaxRetries int    `envconfig:"CAPTCHA_MAX_RETRIES" default:"3"`
	GeminiModel       string `envconfig:"GEMINI_MODEL" default:"gemini-2.0-flash"`

	IMAPAddr        string        `envconfig:"IMAP_ADDR" default:"imap.gmail.com:993"`
	SMTPAddr        string        `envconfig:"SMTP_ADDR" default:"smtp.gmail.com:465"`
	OTPSubjectMatch string        `envconfig:"OTP_SUBJECT_MATCH" default:"TCS NextStep"`
	OTPInitialWait  time.Duration `envconfig:"OTP_INITIAL_WAIT" default:"20s"`
	OTPMaxPolls     int           `envconfig:"OTP_MAX_POLLS" default:"8"`
	OTPPollInterval time.Duration `envconfig:"OTP_POLL_INTERVAL" default:"3s"`

	// Page signals for the post-OTP outcome check. The portal markup is
	// brittle, so these stay configurable rather than hard-coded.
	SuccessIndicators []string `envconfig:"SUCCESS_INDICATORS" default:"a[href*='logout'],div.welcome-message,div.dashboard,div[class*='success']"`
	ErrorIndicators   []string `envconfig:"ERROR_INDICATORS" default:"div.error-message,div.alert-danger,div[class*='error'],span.error,p.error,div[role='alert'],.login-error"`

	// PositiveStatus is the status row match that counts as good news.
	PositiveStatus string `envconfig:"POSITIVE_STATUS" default:"ILP Scheduled"`
	// NegativeStatus is reported when no positive match is found.
	NegativeStatus string `envconfig:"NEGATIVE_STATUS" default:"No JL"`

	ScreenshotDir string `envconfig:"SCREENSHOT_DIR" default:"screenshots"`
	LogDir        string `envconfig:"LOG_DIR" default:"logs"`
	Debug         bool   `envconfig:"DEBUG" default:"false"`

	// ScheduleCron drives the `schedule` command only.
	ScheduleCron string `envconfig:"SCHEDULE_CRON" default:"0 12,20 * * *"`
}

// Load reads .env (when present) and the environment, then validates the
// required credentials.
func Load() (*Config, error) {
	// Missing .env is fine, the environment may already be populated.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate fails fast when required secrets are absent, naming every missing
// variable at once.
func (c *Config) Validate() error {
	var missing []string
	if c.PortalLoginID == "" {
		missing = append(missing, "PORTAL_LOGIN_ID")
	}
	if c.MailboxAddress == "" {
		missing = append(missing, "MAILBOX_ADDRESS")
	}
	if c.MailboxPassword == "" {
		missing = append(missing, "MAILBOX_APP_PASSWORD")
	}
	if c.GeminiAPIKey == "" {
		missing = append(missing, "GEMINI_API_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	if c.MaxAttempts < 1 {
		return fmt.Errorf("MAX_ATTEMPTS must be at least 1, got %d", c.MaxAttempts)
	}
	if c.ScriptTimeoutSecs < 1 {
		return fmt.Errorf("SCRIPT_TIMEOUT must be at least 1 second, got %d", c.ScriptTimeoutSecs)
	}
	return nil
}

// ScriptTimeout returns the overall run deadline as a duration.
func (c *Config) ScriptTimeout() time.Duration {
	return time.Duration(c.ScriptTimeoutSecs) * time.Second
}
