package main

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"blotterdesk/libs/mailer"
)

const digestWindow = 24 * time.Hour

// Digest summarises reports created since a point in time.
type Digest struct {
	Since      time.Time
	Until      time.Time
	Summary    ReportSummary
	ByStatus   []countEntry
	ByBarangay []countEntry
}

func buildDigest(reports []Report, since, until time.Time) Digest {
	statusCounts := map[string]int{}
	barangayCounts := map[string]int{}
	for _, report := range reports {
		statusCounts[report.Status]++
		barangayCounts[report.Barangay]++
	}
	return Digest{
		Since:      since,
		Until:      until,
		Summary:    summarizeReports(reports),
		ByStatus:   rankCounts(statusCounts),
		ByBarangay: rankCounts(barangayCounts),
	}
}

func (a *App) buildDigestEmail(d Digest, recipients []string) mailer.Message {
	period := fmt.Sprintf("%s - %s", d.Since.Format("Jan 2, 2006 15:04"), d.Until.Format("Jan 2, 2006 15:04"))
	subject := fmt.Sprintf("[Blotter] %d new report(s) in the last 24 hours", d.Summary.Total)
	dashboardURL := buildPublicURL(a.cfg.PublicBaseURL, "/dashboard")

	var text strings.Builder
	fmt.Fprintf(&text, "Blotter digest for %s\n\n", period)
	fmt.Fprintf(&text, "New reports: %d\nMost common offense: %s\n\nBy status:\n", d.Summary.Total, d.Summary.MostCommonOffense)
	for _, entry := range d.ByStatus {
		fmt.Fprintf(&text, "  %s: %d\n", entry.Name, entry.Count)
	}
	text.WriteString("\nBy barangay:\n")
	for _, entry := range d.ByBarangay {
		fmt.Fprintf(&text, "  %s: %d\n", entry.Name, entry.Count)
	}
	fmt.Fprintf(&text, "\nOpen the dashboard: %s\n", dashboardURL)

	listItems := func(entries []countEntry) string {
		var b strings.Builder
		for _, entry := range entries {
			fmt.Fprintf(&b, "<li>%s: <strong>%d</strong></li>", html.EscapeString(entry.Name), entry.Count)
		}
		return b.String()
	}
	body := fmt.Sprintf(`
		<div style="font-family: sans-serif; max-width: 600px; margin: 0 auto; line-height: 1.6; color: #333;">
			<h2>Blotter digest</h2>
			<p>%s</p>
			<p><strong>%d</strong> new report(s). Most common offense: <strong>%s</strong>.</p>
			<h3>By status</h3>
			<ul>%s</ul>
			<h3>By barangay</h3>
			<ul>%s</ul>
			<p style="margin: 30px 0;">
				<a href="%s" style="background-color: #1a237e; color: white; padding: 12px 24px; text-decoration: none; border-radius: 4px; font-weight: bold; display: inline-block;">
					Open dashboard
				</a>
			</p>
		</div>
	`, html.EscapeString(period), d.Summary.Total, html.EscapeString(d.Summary.MostCommonOffense), listItems(d.ByStatus), listItems(d.ByBarangay), dashboardURL)

	return mailer.Message{
		To:      recipients,
		Subject: subject,
		HTML:    body,
		Text:    text.String(),
	}
}

// sendDigest mails the last day's report counts to DIGEST_EMAIL_TO. It
// returns false when there was nothing to send.
func (a *App) sendDigest(ctx context.Context) (bool, error) {
	recipients := mailer.SplitRecipients(a.cfg.DigestEmailTo)
	if len(recipients) == 0 {
		a.log.Info("skipping digest email (DIGEST_EMAIL_TO not set)")
		return false, nil
	}

	until := a.clock().In(a.location())
	since := until.Add(-digestWindow)
	reports, err := a.store.ListReports(ctx, ReportFilters{CreatedFrom: &since})
	if err != nil {
		return false, fmt.Errorf("failed to list recent reports: %w", err)
	}
	if len(reports) == 0 {
		a.log.Info("skipping digest email (0 new reports)")
		return false, nil
	}

	digest := buildDigest(reports, since, until)
	msg := a.buildDigestEmail(digest, recipients)
	csvData, err := buildCSV(sortForExport(reports))
	if err != nil {
		return false, err
	}
	msg.Attachments = []mailer.Attachment{{Filename: fmt.Sprintf("blotter-digest-%s.csv", until.Format("2006-01-02")), Content: []byte(csvData)}}

	result, err := a.mailer.Send(ctx, msg)
	if err != nil {
		return false, fmt.Errorf("failed to send digest email: %w", err)
	}
	a.log.Info("sent digest email", "recipients", strings.Join(recipients, ", "), "count", digest.Summary.Total, "message_id", result.ProviderMessageID)
	return true, nil
}
