package main

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"blotterdesk/internal/intake"

	"github.com/gin-gonic/gin"
)

const (
	geocodeRateLimitRequests = 60
	geocodeRateLimitWindow   = time.Minute
)

func (a *App) catalogHandler(c *gin.Context) {
	c.JSON(http.StatusOK, a.catalog)
}

// parseReportFilters reads the dashboard filters shared by the list, summary
// and export endpoints.
func (a *App) parseReportFilters(c *gin.Context) (ReportFilters, error) {
	filters := ReportFilters{
		Search:   strings.TrimSpace(c.Query("search")),
		Offense:  strings.TrimSpace(c.Query("offense")),
		Barangay: strings.TrimSpace(c.Query("barangay")),
		Status:   strings.TrimSpace(c.Query("status")),
		Source:   strings.ToLower(strings.TrimSpace(c.Query("source"))),
	}

	if category := strings.TrimSpace(c.Query("category")); category != "" {
		offenses := a.catalog.OffensesIn(category)
		if offenses == nil {
			offenses = []string{}
		}
		filters.Offenses = offenses
	}
	if filters.Source != "" && !containsString(reportSources, filters.Source) {
		return ReportFilters{}, &apiError{Status: http.StatusBadRequest, Code: "invalid_filter", Message: "source must be 'import' or 'manual'"}
	}

	for _, bound := range []struct {
		name   string
		target *string
	}{{"from", &filters.From}, {"to", &filters.To}} {
		raw := strings.TrimSpace(c.Query(bound.name))
		if raw == "" {
			continue
		}
		if _, err := time.Parse("2006-01-02", raw); err != nil {
			return ReportFilters{}, &apiError{Status: http.StatusBadRequest, Code: "invalid_filter", Message: bound.name + " must be a YYYY-MM-DD date"}
		}
		*bound.target = raw
	}
	if filters.From != "" && filters.To != "" && filters.From > filters.To {
		return ReportFilters{}, &apiError{Status: http.StatusBadRequest, Code: "invalid_filter", Message: "from must not be after to"}
	}
	return filters, nil
}

func (a *App) operatorReportsHandler(c *gin.Context) {
	filters, err := a.parseReportFilters(c)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	page, pageSize := clampPage(parsePage(c.Query("page")), parsePageSize(c.Query("page_size")))

	result, err := a.store.ListReportsPage(c.Request.Context(), filters, page, pageSize)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (a *App) reportSummaryHandler(c *gin.Context) {
	filters, err := a.parseReportFilters(c)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	reports, err := a.store.ListReports(c.Request.Context(), filters)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, summarizeReports(reports))
}

func (a *App) nextBlotterHandler(c *gin.Context) {
	number, err := a.nextBlotterNumber(c.Request.Context())
	if err != nil {
		writeAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"blotterNo": number})
}

func (a *App) operatorReportDetailsHandler(c *gin.Context) {
	publicID := strings.TrimSpace(c.Param("public_id"))
	report, err := a.store.GetReport(c.Request.Context(), publicID)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	events, err := a.store.ListEvents(c.Request.Context(), publicID)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, ReportDetails{Report: *report, Events: events})
}

func (a *App) operatorUpdateStatusHandler(c *gin.Context) {
	session, err := getOperatorSession(c)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		writeAPIError(c, &apiError{Status: http.StatusBadRequest, Code: "invalid_payload", Message: "Invalid payload"})
		return
	}

	updated, err := a.changeReportStatus(c.Request.Context(), strings.TrimSpace(c.Param("public_id")), body.Status, session)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// createReportHandler stores a reviewed record coming from the import
// pipeline.
func (a *App) createReportHandler(c *gin.Context) {
	session, err := getOperatorSession(c)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	var body struct {
		Report *intake.Record `json:"report"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Report == nil {
		writeAPIError(c, &apiError{Status: http.StatusBadRequest, Code: "invalid_payload", Message: "Expected a report object"})
		return
	}

	record, err := a.prepareRecord(*body.Report)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	created, err := a.fileReport(c.Request.Context(), NewReport{
		Record:    record,
		Source:    reportSourceImport,
		CreatedBy: session.Email,
	})
	if err != nil {
		writeAPIError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (a *App) fileManualReportHandler(c *gin.Context) {
	session, err := getOperatorSession(c)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	var payload manualReportPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		writeAPIError(c, &apiError{Status: http.StatusBadRequest, Code: "invalid_payload", Message: "Invalid report payload"})
		return
	}

	payload.BlotterNo = strings.TrimSpace(payload.BlotterNo)
	if payload.BlotterNo == "" {
		number, err := a.nextBlotterNumber(c.Request.Context())
		if err != nil {
			writeAPIError(c, err)
			return
		}
		payload.BlotterNo = number
	}
	if err := validateManualReport(payload); err != nil {
		writeAPIError(c, err)
		return
	}

	record := payload.Record
	record.Location = *payload.Location
	record, err = a.prepareRecord(record)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	created, err := a.fileReport(c.Request.Context(), NewReport{
		Record:      record,
		BlotterNo:   payload.BlotterNo,
		DateEncoded: strings.TrimSpace(payload.DateEncoded),
		Source:      reportSourceManual,
		CreatedBy:   session.Email,
	})
	if err != nil {
		writeAPIError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

// prepareRecord fills defaults and canonicalises the case status.
func (a *App) prepareRecord(record intake.Record) (intake.Record, error) {
	record = record.WithDefaults(a.today())
	status, err := a.canonicalStatus(record.Status)
	if err != nil {
		return intake.Record{}, err
	}
	record.Status = status
	if barangay, ok := a.catalog.CanonicalBarangay(record.Barangay); ok {
		record.Barangay = barangay
	}
	return record, nil
}

func (a *App) geocodeHandler(c *gin.Context) {
	if a.geocoder == nil {
		writeAPIError(c, &apiError{Status: http.StatusServiceUnavailable, Code: "geocoder_disabled", Message: "Address lookup is not configured"})
		return
	}
	session, err := getOperatorSession(c)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	if !a.checkRateLimit("geocode:"+session.Email, geocodeRateLimitRequests, geocodeRateLimitWindow, a.clock()) {
		writeAPIError(c, &apiError{Status: http.StatusTooManyRequests, Code: "rate_limited", Message: "Too many address lookups, try again later"})
		return
	}

	lat, latErr := strconv.ParseFloat(strings.TrimSpace(c.Query("lat")), 64)
	lng, lngErr := strconv.ParseFloat(strings.TrimSpace(c.Query("lng")), 64)
	if latErr != nil || lngErr != nil || lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		writeAPIError(c, &apiError{Status: http.StatusBadRequest, Code: "invalid_coordinates", Message: "lat and lng must be valid coordinates"})
		return
	}

	res, err := a.geocoder.Geocode(c.Request.Context(), lat, lng)
	if err != nil {
		a.log.Error("geocode lookup failed", "lat", lat, "lng", lng, "err", err)
		writeAPIError(c, &apiError{Status: http.StatusBadGateway, Code: "geocode_failed", Message: "Address lookup failed"})
		return
	}
	if res == nil {
		c.JSON(http.StatusOK, gin.H{"found": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"found": true, "label": res.Label(), "result": res})
}
