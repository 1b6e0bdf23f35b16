// Package portal drives the recruiting portal's login and status pages on top
// of a browser session. Selectors live here and nowhere else.
package portal

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"

	"dev/bravebird/portal-check-go/pkg/browser"
	"dev/bravebird/portal-check-go/pkg/models"
)

const (
	loginLinkSelector   = "a.updatesClick"
	loginIDSelector     = `input.form-control.loginID[name="loginID"]`
	captchaInputSel     = "input#userCaptcha"
	captchaImageSel     = `img[id*="captcha"], img[src*="captcha"]`
	nextButtonSel       = `button, input[type="submit"], input[type="button"]`
	otpInputSelector    = "input#loginOtp"
	verifyButtonSel     = "button#verifyLoginOTPBtn"
	statusLinkText      = "Track My Application"
)

// Params carries the portal-specific knobs the flow needs. Page signals stay
// configurable because the portal markup changes without notice.
type Params struct {
	URL               string
	LoginID           string
	SuccessIndicators []string
	ErrorIndicators   []string
	PositiveStatus    string
	NegativeStatus    string
}

// Flow is the portal page sequence bound to one browser session. One Flow per
// attempt, discarded with the session.
type Flow struct {
	session *browser.Session
	page    *rod.Page
	params  Params
}

// NewFlow binds a flow to a freshly launched session.
func NewFlow(session *browser.Session, params Params) *Flow {
	return &Flow{session: session, page: session.Page(), params: params}
}

// OpenLogin navigates to the portal, opens the login form and fills in the
// login ID.
func (f *Flow) OpenLogin(ctx context.Context) error {
	page := f.page.Context(ctx)

	if err := page.Navigate(f.params.URL); err != nil {
		return fmt.Errorf("navigate to portal: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("wait for portal load: %w", err)
	}

	loginLink, err := page.Timeout(10 * time.Second).ElementR(loginLinkSelector, "Login")
	if err != nil {
		// The themed link class comes and goes; any anchor that says Login
		// will do.
		loginLink, err = page.Timeout(5 * time.Second).ElementR("a", "Login")
		if err != nil {
			return fmt.Errorf("login link not found: %w", err)
		}
	}
	if err := loginLink.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click login link: %w", err)
	}

	idField, err := page.Timeout(10 * time.Second).Element(loginIDSelector)
	if err != nil {
		return fmt.Errorf("login ID field not found: %w", err)
	}
	if err := clearAndInput(idField, f.params.LoginID); err != nil {
		return fmt.Errorf("fill login ID: %w", err)
	}

	log.Debug().Msg("login ID entered")
	return nil
}

// CaptchaImage returns a PNG of the CAPTCHA. When the image element can't be
// located it falls back to a full-page screenshot; the solver copes with the
// extra context.
func (f *Flow) CaptchaImage(ctx context.Context) ([]byte, error) {
	page := f.page.Context(ctx)

	img, err := page.Timeout(3 * time.Second).Element(captchaImageSel)
	if err == nil {
		if visible, _ := img.Visible(); visible {
			data, err := img.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
			if err == nil {
				return data, nil
			}
			log.Debug().Err(err).Msg("captcha element screenshot failed, using full page")
		}
	}
	return f.session.Screenshot()
}

// SubmitCaptcha fills the decoded text and clicks Next. It reports whether
// the portal advanced to the OTP page; staying on the CAPTCHA page means the
// decode was wrong, which is a miss, not an error.
func (f *Flow) SubmitCaptcha(ctx context.Context, text string) (bool, error) {
	page := f.page.Context(ctx)

	field, err := page.Timeout(10 * time.Second).Element(captchaInputSel)
	if err != nil {
		return false, fmt.Errorf("captcha field not found: %w", err)
	}
	if err := clearAndInput(field, text); err != nil {
		return false, fmt.Errorf("fill captcha: %w", err)
	}

	// Give client-side validation a moment before submitting.
	sleep(ctx, 2*time.Second)

	next, err := page.Timeout(5 * time.Second).ElementR(nextButtonSel, "(?i)next")
	if err != nil {
		return false, fmt.Errorf("next button not found: %w", err)
	}
	if err := next.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return false, fmt.Errorf("click next: %w", err)
	}

	if err := page.WaitLoad(); err != nil {
		log.Debug().Err(err).Msg("wait after captcha submit")
	}
	sleep(ctx, 2*time.Second)

	if f.onOTPPage() {
		return true, nil
	}

	// Clear the field so the next in-attempt try starts clean.
	if field, err := page.Timeout(3 * time.Second).Element(captchaInputSel); err == nil {
		if err := clearField(field); err != nil {
			log.Debug().Err(err).Msg("failed to clear captcha field")
		}
	}
	return false, nil
}

// onOTPPage checks for the OTP input as the marker of a successful CAPTCHA
// round.
func (f *Flow) onOTPPage() bool {
	has, el, err := f.page.Has(otpInputSelector)
	if err != nil || !has {
		return false
	}
	visible, err := el.Visible()
	return err == nil && visible
}

// SubmitOTP types the code into the OTP field and clicks the verify button.
// The portal validates on input/blur events, so they are dispatched manually
// after typing.
func (f *Flow) SubmitOTP(ctx context.Context, code string) error {
	page := f.page.Context(ctx)

	field, err := page.Timeout(20 * time.Second).Element(otpInputSelector)
	if err != nil {
		return fmt.Errorf("OTP field not found: %w", err)
	}
	if err := field.WaitEnabled(); err != nil {
		log.Warn().Err(err).Msg("OTP field may still be disabled, proceeding anyway")
	}

	if err := clearField(field); err != nil {
		return fmt.Errorf("clear OTP field: %w", err)
	}
	// Typed character by character; pasting the whole code at once trips the
	// portal's input validation.
	for _, ch := range code {
		if err := field.Input(string(ch)); err != nil {
			return fmt.Errorf("type OTP: %w", err)
		}
		sleep(ctx, 100*time.Millisecond)
	}

	if _, err := page.Eval(`() => {
		const input = document.querySelector('input#loginOtp');
		if (input) {
			input.dispatchEvent(new Event('input', { bubbles: true }));
			input.dispatchEvent(new Event('blur', { bubbles: true }));
		}
	}`); err != nil {
		log.Debug().Err(err).Msg("OTP validation event dispatch failed")
	}
	sleep(ctx, time.Second)

	verify, err := page.Timeout(10 * time.Second).Element(verifyButtonSel)
	if err != nil {
		return fmt.Errorf("verify button not found: %w", err)
	}
	if err := verify.WaitEnabled(); err != nil {
		return fmt.Errorf("verify button never enabled after OTP entry: %w", err)
	}
	if err := verify.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click verify: %w", err)
	}

	sleep(ctx, 2*time.Second)
	return nil
}

// LoginOutcome inspects the page after OTP submission. Error indicators are
// checked before success indicators; with neither present the outcome is
// indeterminate and the attempt counts as failed.
func (f *Flow) LoginOutcome(ctx context.Context) (models.LoginOutcome, string) {
	page := f.page.Context(ctx)
	if err := page.WaitLoad(); err != nil {
		log.Debug().Err(err).Msg("wait for post-login page")
	}

	for _, sel := range f.params.ErrorIndicators {
		has, el, err := page.Has(sel)
		if err != nil || !has {
			continue
		}
		visible, err := el.Visible()
		if err != nil || !visible {
			continue
		}
		text, err := el.Text()
		if err == nil && text != "" {
			return models.LoginError, text
		}
	}

	for _, sel := range f.params.SuccessIndicators {
		has, el, err := page.Has(sel)
		if err != nil || !has {
			continue
		}
		if visible, err := el.Visible(); err == nil && visible {
			return models.LoginSuccess, ""
		}
	}

	return models.LoginIndeterminate, ""
}

// Screenshot captures the current page.
func (f *Flow) Screenshot(ctx context.Context) ([]byte, error) {
	return f.session.Screenshot()
}

// Close releases the underlying browser session.
func (f *Flow) Close() error {
	return f.session.Close()
}

// clearAndInput replaces the field's current value with text.
func clearAndInput(el *rod.Element, text string) error {
	if err := el.SelectAllText(); err != nil {
		return err
	}
	return el.Input(text)
}

// clearField empties an input element.
func clearField(el *rod.Element) error {
	if err := el.SelectAllText(); err != nil {
		return err
	}
	return el.Type(input.Backspace)
}

// sleep pauses without outliving the context.
func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}
