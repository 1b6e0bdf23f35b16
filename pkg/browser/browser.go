package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

// Session is one isolated browser instance with a single active page. It is
// created per login attempt and never reused; Close must run before the next
// attempt starts.
type Session struct {
	browser *rod.Browser
	page    *rod.Page
}

// Launch starts a fresh browser and opens a blank page. Every call produces an
// independent profile: no cookies or storage leak between attempts.
func Launch(ctx context.Context, headless bool) (*Session, error) {
	l := launcher.New()

	// CHROME_BIN wins when set (Docker environment).
	if chromeBin := os.Getenv("CHROME_BIN"); chromeBin != "" {
		l = l.Bin(chromeBin)
	}

	l = l.Headless(headless)

	// Flags carried over from the portal's tolerance testing: sandboxing and
	// shm are container concerns, the rest keep the portal from flagging the
	// session as automated.
	l = l.Set("no-sandbox")
	l = l.Set("disable-gpu")
	l = l.Set("disable-dev-shm-usage")
	l = l.Set("disable-blink-features", "AutomationControlled")
	l = l.Set("disable-infobars")
	l = l.Set("disable-notifications")
	l = l.Set("window-size", "1366,768")
	l = l.Set("user-agent", userAgent)

	url, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	b := rod.New().ControlURL(url).Context(ctx)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	return &Session{browser: b, page: page}, nil
}

// Page returns the session's active page.
func (s *Session) Page() *rod.Page {
	return s.page
}

// Screenshot captures the full current page as PNG.
func (s *Session) Screenshot() ([]byte, error) {
	data, err := s.page.Screenshot(true, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to take screenshot: %w", err)
	}
	return data, nil
}

// Close shuts the whole browser down. Safe to call once per session on every
// exit path.
func (s *Session) Close() error {
	if s.browser == nil {
		return nil
	}
	err := s.browser.Close()
	s.browser = nil
	s.page = nil
	if err != nil {
		return fmt.Errorf("failed to close browser: %w", err)
	}
	return nil
}

// SaveScreenshot writes a PNG under dir with a timestamped name and returns
// the path. The file only exists so it can ride along as an email attachment.
func SaveScreenshot(dir, name string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create screenshot dir: %w", err)
	}
	filename := fmt.Sprintf("%s_%s.png", name, time.Now().Format("20060102_150405"))
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to save screenshot: %w", err)
	}
	log.Debug().Str("path", path).Msg("screenshot saved")
	return path, nil
}

// CleanupScreenshots removes every file in dir. Called after a notification
// went out so screenshots never pile up between scheduled runs.
func CleanupScreenshots(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			log.Warn().Err(err).Str("file", e.Name()).Msg("failed to delete screenshot")
		}
	}
}
