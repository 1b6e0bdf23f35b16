package mailbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/mail"
	"github.com/rs/zerolog/log"
)

// ErrNotFound is the designed signal that no usable OTP arrived within the
// poll budget. The orchestrator reacts with a full session restart; it is not
// a fatal error.
var ErrNotFound = errors.New("mailbox: no matching OTP message")

// otpPatterns is checked in order: the portal's exact phrasing first, then
// progressively looser shapes.
var otpPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)One Time Password \(OTP\) for login:\s*([A-Za-z0-9]{7})`),
	regexp.MustCompile(`(?i)OTP for login:\s*([A-Za-z0-9]{7})`),
	regexp.MustCompile(`(?i)OTP:\s*([A-Za-z0-9]{7})`),
	regexp.MustCompile(`\b([A-Za-z0-9]{7})\b`),
	regexp.MustCompile(`\b([A-Z0-9]{6})\b`),
	regexp.MustCompile(`\b(\d{6})\b`),
	regexp.MustCompile(`\b(\d{4})\b`),
}

// falsePositives are substrings that disqualify a loose-pattern match; URLs
// and domain fragments satisfy the 6-7 char alphanumeric patterns too easily.
var falsePositives = []string{"http", "www", "com", "tcs", "gmail"}

// Options configures a Fetcher.
type Options struct {
	Addr         string // IMAP host:port, implicit TLS
	Username     string
	Password     string
	SubjectMatch string // case-insensitive substring filter on the subject

	InitialWait  time.Duration // one-time delay before the first poll
	PollInterval time.Duration
	MaxPolls     int
}

// Fetcher polls an IMAP mailbox for a one-time password.
type Fetcher struct {
	opts Options
}

// NewFetcher creates a new Fetcher.
func NewFetcher(opts Options) *Fetcher {
	if opts.MaxPolls < 1 {
		opts.MaxPolls = 1
	}
	return &Fetcher{opts: opts}
}

// Fetch polls the mailbox up to MaxPolls times and returns the code from the
// most recent matching message sent at or after sentAfter. The freshness
// bound keeps a stale code from a previous attempt from being typed into a
// field that expects the new one. Returns ErrNotFound when the budget is
// exhausted.
func (f *Fetcher) Fetch(ctx context.Context, sentAfter time.Time) (string, error) {
	if f.opts.InitialWait > 0 {
		log.Info().Dur("wait", f.opts.InitialWait).Msg("waiting for OTP email to arrive")
		select {
		case <-time.After(f.opts.InitialWait):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	client, err := imapclient.DialTLS(f.opts.Addr, nil)
	if err != nil {
		return "", fmt.Errorf("dial %s: %w", f.opts.Addr, err)
	}
	defer client.Close()

	if err := client.Login(f.opts.Username, f.opts.Password).Wait(); err != nil {
		return "", fmt.Errorf("imap login: %w", err)
	}
	defer func() {
		if err := client.Logout().Wait(); err != nil {
			log.Debug().Err(err).Msg("imap logout failed")
		}
	}()

	if _, err := client.Select("INBOX", nil).Wait(); err != nil {
		return "", fmt.Errorf("select inbox: %w", err)
	}

	return retry.DoWithData(
		func() (string, error) {
			return f.searchOnce(client, sentAfter)
		},
		retry.Attempts(uint(f.opts.MaxPolls)),
		retry.Delay(f.opts.PollInterval),
		retry.DelayType(retry.FixedDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, ErrNotFound)
		}),
		retry.OnRetry(func(n uint, err error) {
			log.Info().
				Uint("poll", n+1).
				Int("max_polls", f.opts.MaxPolls).
				Msg("no OTP yet, polling mailbox again")
		}),
	)
}

// searchOnce runs a single mailbox pass: search messages received since the
// cutoff, newest first, and extract a code from the first one that matches
// the subject filter and the exact timestamp bound.
func (f *Fetcher) searchOnce(client *imapclient.Client, sentAfter time.Time) (string, error) {
	// IMAP SINCE has day granularity; the precise check happens below against
	// the envelope date.
	criteria := &imap.SearchCriteria{Since: sentAfter.Truncate(24 * time.Hour)}

	data, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return "", fmt.Errorf("imap search: %w", err)
	}

	uids := data.AllUIDs()
	if len(uids) == 0 {
		return "", ErrNotFound
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] > uids[j] })

	bodySection := &imap.FetchItemBodySection{}
	fetchOptions := &imap.FetchOptions{
		Envelope:    true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}

	var uidSet imap.UIDSet
	uidSet.AddNum(uids...)

	messages, err := client.Fetch(uidSet, fetchOptions).Collect()
	if err != nil {
		return "", fmt.Errorf("imap fetch: %w", err)
	}

	candidates := make([]candidate, 0, len(messages))
	for _, msg := range messages {
		if msg.Envelope == nil {
			continue
		}
		candidates = append(candidates, candidate{
			Subject: msg.Envelope.Subject,
			Date:    msg.Envelope.Date,
			Body:    bodyText(msg.FindBodySection(bodySection)),
		})
	}

	return pickCode(candidates, f.opts.SubjectMatch, sentAfter)
}

// candidate is one fetched message reduced to what code selection needs.
type candidate struct {
	Subject string
	Date    time.Time
	Body    string
}

// pickCode selects the code from the newest candidate that matches the
// subject filter and was sent at or after sentAfter. Older matching messages
// belong to a previous attempt; their codes are already burned.
func pickCode(candidates []candidate, subjectMatch string, sentAfter time.Time) (string, error) {
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Date.After(candidates[j].Date)
	})

	for _, c := range candidates {
		if !subjectMatches(c.Subject, subjectMatch) {
			continue
		}
		if c.Date.Before(sentAfter) {
			log.Debug().
				Time("message_date", c.Date).
				Time("sent_after", sentAfter).
				Msg("skipping stale OTP message")
			continue
		}

		if code, ok := extractCode(c.Body); ok {
			log.Info().Str("subject", c.Subject).Msg("OTP code extracted")
			return code, nil
		}
		log.Warn().Str("subject", c.Subject).Msg("matching message carried no OTP code")
	}

	return "", ErrNotFound
}

// subjectMatches reports whether subject contains match, case-insensitively.
// An empty match accepts everything.
func subjectMatches(subject, match string) bool {
	if match == "" {
		return true
	}
	return strings.Contains(strings.ToLower(subject), strings.ToLower(match))
}

// bodyText extracts the readable text of a raw RFC 822 message, walking MIME
// parts and skipping attachments. Falls back to the raw bytes when the
// message isn't valid MIME.
func bodyText(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return string(raw)
	}

	var sb strings.Builder
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}
		if _, ok := part.Header.(*mail.InlineHeader); ok {
			b, err := io.ReadAll(part.Body)
			if err != nil {
				continue
			}
			sb.Write(b)
		}
	}
	return sb.String()
}

// extractCode finds an OTP code in a message body using the pattern table.
// Loose matches are rejected when they look like URL or domain fragments, or
// are shorter than the portal's 4-character minimum.
func extractCode(body string) (string, bool) {
	for _, pattern := range otpPatterns {
		for _, match := range pattern.FindAllStringSubmatch(body, -1) {
			code := strings.TrimSpace(match[1])
			if len(code) < 4 {
				continue
			}
			if isFalsePositive(code) {
				continue
			}
			return code, true
		}
	}
	return "", false
}

func isFalsePositive(code string) bool {
	lower := strings.ToLower(code)
	for _, word := range falsePositives {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}
