package portal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"
)

// Status opens the application-tracking page and reads the most recent status
// row. It is only callable on an authenticated session; a missing element
// here means the login worked but the status is unknown, which is a distinct
// failure class from a login failure.
func (f *Flow) Status(ctx context.Context) (status, row string, err error) {
	page := f.page.Context(ctx)

	link, err := page.Timeout(10 * time.Second).ElementR("a", statusLinkText)
	if err != nil {
		return "", "", fmt.Errorf("tracking link not found: %w", err)
	}
	if err := link.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return "", "", fmt.Errorf("open tracking page: %w", err)
	}
	sleep(ctx, 3*time.Second)

	rows, err := page.Timeout(10 * time.Second).Elements("table tr")
	if err != nil || len(rows) < 2 {
		return "", "", fmt.Errorf("status table not found")
	}

	// Row 0 is the header; row 1 is the latest application entry.
	row, err = rows[1].Text()
	if err != nil {
		return "", "", fmt.Errorf("read status row: %w", err)
	}

	status = ClassifyStatus(row, f.params.PositiveStatus, f.params.NegativeStatus, time.Now())
	log.Info().Str("status", status).Msg("status row read")
	return status, row, nil
}

// ClassifyStatus maps a raw status row to a status name. A row mentioning the
// positive status, or carrying today's date (the portal stamps fresh updates
// with the current date), counts as positive.
func ClassifyStatus(row, positive, negative string, now time.Time) string {
	today := now.Format("02/01/2006")
	if strings.Contains(row, positive) || strings.Contains(row, today) {
		return positive
	}
	return negative
}
