package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"blotterdesk/internal/intake"
)

var blotterSuffixPattern = regexp.MustCompile(`-(\d{4})$`)

func blotterPrefix(now time.Time) string {
	return now.Format("2006-01") + "-"
}

// nextBlotterFromExisting returns prefix plus one more than the highest
// four-digit suffix among existing numbers that share the prefix.
func nextBlotterFromExisting(prefix string, existing []string) string {
	highest := 0
	for _, number := range existing {
		if !strings.HasPrefix(number, prefix) {
			continue
		}
		match := blotterSuffixPattern.FindStringSubmatch(number)
		if match == nil {
			continue
		}
		if value, err := strconv.Atoi(match[1]); err == nil && value > highest {
			highest = value
		}
	}
	return fmt.Sprintf("%s%04d", prefix, highest+1)
}

func (a *App) nextBlotterNumber(ctx context.Context) (string, error) {
	prefix := blotterPrefix(a.clock().In(a.location()))
	existing, err := a.store.ListBlotterNumbers(ctx, prefix)
	if err != nil {
		return "", err
	}
	return nextBlotterFromExisting(prefix, existing), nil
}

// fileReport stores input, assigning a blotter number when none was given.
// Collisions with a concurrently assigned number are retried.
func (a *App) fileReport(ctx context.Context, input NewReport) (*Report, error) {
	autoAssign := strings.TrimSpace(input.BlotterNo) == ""
	if input.DateEncoded == "" {
		input.DateEncoded = a.clock().In(a.location()).Format("2006-01-02 15:04")
	}

	var lastErr error
	for attempt := 0; attempt < blotterAssignAttempts; attempt++ {
		if autoAssign {
			number, err := a.nextBlotterNumber(ctx)
			if err != nil {
				return nil, err
			}
			input.BlotterNo = number
		}
		input.PublicID = generatePublicID()

		created, err := a.store.CreateReport(ctx, input)
		if err == nil {
			a.log.Info("report filed", "public_id", created.PublicID, "blotter_no", created.BlotterNo, "source", created.Source, "actor", input.CreatedBy)
			a.geocodeInBackground(created.PublicID, created.Location)
			return created, nil
		}
		lastErr = err
		switch {
		case errors.Is(err, errDuplicatePublicID):
			continue
		case errors.Is(err, errDuplicateBlotter) && autoAssign:
			a.log.Warn("blotter number collision, retrying", "blotter_no", input.BlotterNo, "attempt", attempt+1)
			continue
		case errors.Is(err, errDuplicateBlotter):
			return nil, &apiError{Status: http.StatusConflict, Code: "duplicate_blotter", Message: fmt.Sprintf("Blotter number %s is already used", input.BlotterNo)}
		default:
			return nil, err
		}
	}
	return nil, fmt.Errorf("unable to assign a blotter number after %d attempts: %w", blotterAssignAttempts, lastErr)
}

func (a *App) geocodeInBackground(publicID string, location intake.Location) {
	if a.geocoder == nil {
		return
	}
	a.background.Add(1)
	go func() {
		defer a.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), geocodeTimeout)
		defer cancel()
		if err := a.geocodeReport(ctx, publicID, location); err != nil {
			a.log.Error("background geocoding failed", "public_id", publicID, "err", err)
		}
	}()
}

func (a *App) geocodeReport(ctx context.Context, publicID string, location intake.Location) error {
	res, err := a.geocoder.Geocode(ctx, location.Lat, location.Lng)
	if err != nil {
		return err
	}
	if res == nil || res.Label() == "" {
		return nil
	}
	a.log.Info("geocoded report", "public_id", publicID, "address", res.Label())
	return a.store.SetReportAddress(ctx, publicID, res.Label())
}

// manualReportPayload is the manual filing form. Location is a pointer so an
// unset map pin can be told apart from a zero coordinate.
type manualReportPayload struct {
	intake.Record
	BlotterNo   string           `json:"blotterNo"`
	DateEncoded string           `json:"dateEncoded"`
	Location    *intake.Location `json:"location"`
}

func invalidReport(message string) error {
	return &apiError{Status: http.StatusBadRequest, Code: "invalid_report", Message: message}
}

// validateManualReport checks the required fields in form order and returns
// the first failure.
func validateManualReport(p manualReportPayload) error {
	required := []struct {
		value   string
		message string
	}{
		{p.BlotterNo, "Please enter the blotter number."},
		{p.DateEncoded, "Date encoded is missing."},
		{p.Barangay, "Please select a Barangay."},
		{p.Street, "Please enter the Street."},
		{p.TypeOfPlace, "Please specify the Type of Place."},
		{p.DateReported, "Please enter the Date Reported."},
		{p.TimeReported, "Please enter the Time Reported."},
		{p.DateCommitted, "Please enter the Date Committed."},
		{p.TimeCommitted, "Please enter the Time Committed."},
		{p.ModeOfReporting, "Please select a Mode of Reporting."},
		{p.StageOfFelony, "Please select a Stage of Felony."},
		{p.Offense, "Please select an Offense."},
	}
	for _, field := range required {
		if strings.TrimSpace(field.value) == "" {
			return invalidReport(field.message)
		}
	}
	if p.Location == nil || p.Location.Lat == 0 || p.Location.Lng == 0 {
		return invalidReport("Please select a location on the map.")
	}
	if strings.TrimSpace(p.Narrative) == "" {
		return invalidReport("Please enter the Narrative or Case Details.")
	}
	return nil
}

// canonicalStatus maps a case status to its catalog spelling.
func (a *App) canonicalStatus(status string) (string, error) {
	canonical, ok := a.catalog.CanonicalCaseStatus(strings.TrimSpace(status))
	if !ok {
		return "", &apiError{Status: http.StatusBadRequest, Code: "invalid_status", Message: fmt.Sprintf("Unknown case status %q", status)}
	}
	return canonical, nil
}

func (a *App) changeReportStatus(ctx context.Context, publicID, requested string, session OperatorSession) (*Report, error) {
	next, err := a.canonicalStatus(requested)
	if err != nil {
		return nil, err
	}
	current, err := a.store.GetReport(ctx, publicID)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(current.Status, next) {
		return current, nil
	}
	if err := a.store.UpdateReportStatus(ctx, publicID, current.Status, next, session.Email); err != nil {
		return nil, err
	}
	a.log.Info("report status changed", "public_id", publicID, "from", current.Status, "to", next, "actor", session.Email)
	return a.store.GetReport(ctx, publicID)
}

// summarizeReports counts case statuses (empty counts as pending) and picks
// the most frequent offense; ties keep the offense seen first.
func summarizeReports(reports []Report) ReportSummary {
	summary := ReportSummary{Total: len(reports), MostCommonOffense: intake.Placeholder}
	offenseCounts := map[string]int{}
	offenseOrder := []string{}
	for _, report := range reports {
		switch strings.ToLower(strings.TrimSpace(report.Status)) {
		case "", "pending":
			summary.Pending++
		case "ongoing":
			summary.Ongoing++
		case "solved":
			summary.Solved++
		case "unsolved":
			summary.Unsolved++
		}
		if _, seen := offenseCounts[report.Offense]; !seen {
			offenseOrder = append(offenseOrder, report.Offense)
		}
		offenseCounts[report.Offense]++
	}

	best := 0
	for _, offense := range offenseOrder {
		if offenseCounts[offense] > best {
			best = offenseCounts[offense]
			summary.MostCommonOffense = offense
		}
	}
	return summary
}
