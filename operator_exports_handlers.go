package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"blotterdesk/internal/intake"

	"github.com/gin-gonic/gin"
	"github.com/go-pdf/fpdf"
)

const (
	exportPeriodWeekly  = "weekly"
	exportPeriodMonthly = "monthly"
	exportPeriodAll     = "all"

	pdfTopEntries = 10
)

var exportFormats = map[string]string{
	"csv":     "text/csv; charset=utf-8",
	"geojson": "application/geo+json",
	"pdf":     "application/pdf",
	"json":    "application/json; charset=utf-8",
}

// ExportArtifacts holds the rendered files of one export.
type ExportArtifacts struct {
	CSV     string
	GeoJSON string
	PDF     []byte
}

// ExportBatch describes an export written to disk by the CLI.
type ExportBatch struct {
	Period      string   `json:"period"`
	PeriodStart string   `json:"periodStart"`
	PeriodEnd   string   `json:"periodEnd"`
	Directory   string   `json:"directory"`
	RowCount    int      `json:"rowCount"`
	Files       []string `json:"files"`
}

type countEntry struct {
	Name  string
	Count int
}

// rankCounts orders counts by frequency, then name.
func rankCounts(counts map[string]int) []countEntry {
	out := make([]countEntry, 0, len(counts))
	for name, count := range counts {
		out = append(out, countEntry{Name: name, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func (a *App) exportReportsHandler(c *gin.Context) {
	format := strings.ToLower(strings.TrimSpace(c.DefaultQuery("format", "csv")))
	contentType, ok := exportFormats[format]
	if !ok {
		writeAPIError(c, &apiError{Status: http.StatusBadRequest, Code: "invalid_format", Message: "format must be csv, geojson, pdf or json"})
		return
	}
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
	reports = sortForExport(reports)

	var body []byte
	switch format {
	case "csv":
		data, err := buildCSV(reports)
		if err != nil {
			writeAPIError(c, err)
			return
		}
		body = []byte(data)
	case "geojson":
		data, err := buildGeoJSON(reports)
		if err != nil {
			writeAPIError(c, err)
			return
		}
		body = []byte(data)
	case "pdf":
		body, err = buildPDF(reports, valueOr(filters.From, "beginning"), valueOr(filters.To, a.today()), "Crime Blotter Export")
		if err != nil {
			writeAPIError(c, err)
			return
		}
	case "json":
		var buf bytes.Buffer
		if err := intake.EncodeJSON(&buf, recordsOf(reports)); err != nil {
			writeAPIError(c, err)
			return
		}
		body = buf.Bytes()
	}

	fileName := fmt.Sprintf("blotterdesk-reports-%s.%s", a.today(), format)
	if format == "json" {
		fileName = intake.ExportFileName
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileName))
	c.Data(http.StatusOK, contentType, body)
}

// generateExportBatch writes CSV, GeoJSON and PDF artifacts for period into
// DATA_ROOT/exports/<period>-<date>/.
func (a *App) generateExportBatch(ctx context.Context, period string) (*ExportBatch, error) {
	periodStart, periodEnd, err := getReportWindow(period, a.clock().In(a.location()))
	if err != nil {
		return nil, err
	}

	reports, err := a.store.ListReports(ctx, ReportFilters{From: periodStart, To: periodEnd})
	if err != nil {
		return nil, err
	}
	reports = sortForExport(reports)

	title := fmt.Sprintf("Crime Blotter %s Export", strings.ToUpper(period[:1])+period[1:])
	artifacts, err := buildExportArtifacts(reports, valueOr(periodStart, "beginning"), periodEnd, title)
	if err != nil {
		return nil, err
	}

	exportDir := filepath.Join(a.cfg.DataRoot, "exports", fmt.Sprintf("%s-%s", period, a.today()))
	if err := os.MkdirAll(exportDir, 0o755); err != nil {
		return nil, err
	}

	baseName := fmt.Sprintf("blotterdesk-%s-%s", period, valueOr(periodStart, "all"))
	files := map[string][]byte{
		baseName + ".csv":     []byte(artifacts.CSV),
		baseName + ".geojson": []byte(artifacts.GeoJSON),
		baseName + ".pdf":     artifacts.PDF,
	}
	written := make([]string, 0, len(files))
	for name, content := range files {
		target := filepath.Join(exportDir, name)
		if err := os.WriteFile(target, content, 0o644); err != nil {
			return nil, err
		}
		written = append(written, target)
	}
	sort.Strings(written)

	a.log.Info("export generated", "period", period, "from", periodStart, "to", periodEnd, "rows", len(reports), "dir", exportDir)
	return &ExportBatch{
		Period:      period,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		Directory:   exportDir,
		RowCount:    len(reports),
		Files:       written,
	}, nil
}

// getReportWindow returns the inclusive dateCommitted bounds of the previous
// full week (Monday to Sunday) or month. "all" has no lower bound.
func getReportWindow(period string, now time.Time) (string, string, error) {
	const layout = "2006-01-02"
	switch period {
	case exportPeriodAll:
		return "", now.Format(layout), nil
	case exportPeriodWeekly:
		start := startOfWeek(now.AddDate(0, 0, -7))
		return start.Format(layout), start.AddDate(0, 0, 6).Format(layout), nil
	case exportPeriodMonthly:
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).AddDate(0, -1, 0)
		return start.Format(layout), start.AddDate(0, 1, -1).Format(layout), nil
	}
	return "", "", &apiError{Status: http.StatusBadRequest, Code: "invalid_period", Message: "period must be weekly, monthly or all"}
}

func startOfWeek(value time.Time) time.Time {
	weekday := int(value.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	start := value.AddDate(0, 0, -(weekday - 1))
	return time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, value.Location())
}

func sortForExport(reports []Report) []Report {
	sorted := append([]Report{}, reports...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].DateCommitted != sorted[j].DateCommitted {
			return sorted[i].DateCommitted < sorted[j].DateCommitted
		}
		return sorted[i].BlotterNo < sorted[j].BlotterNo
	})
	return sorted
}

func recordsOf(reports []Report) []intake.Record {
	records := make([]intake.Record, len(reports))
	for i, report := range reports {
		records[i] = report.Record
	}
	return records
}

func buildExportArtifacts(reports []Report, periodStart, periodEnd, title string) (ExportArtifacts, error) {
	csvData, err := buildCSV(reports)
	if err != nil {
		return ExportArtifacts{}, err
	}
	geoJSON, err := buildGeoJSON(reports)
	if err != nil {
		return ExportArtifacts{}, err
	}
	pdfData, err := buildPDF(reports, periodStart, periodEnd, title)
	if err != nil {
		return ExportArtifacts{}, err
	}
	return ExportArtifacts{CSV: csvData, GeoJSON: geoJSON, PDF: pdfData}, nil
}

var csvHeaders = []string{
	"blotter_no", "public_id", "date_encoded", "source",
	"barangay", "street", "type_of_place",
	"date_reported", "time_reported", "date_committed", "time_committed",
	"mode_of_reporting", "stage_of_felony", "offense",
	"victim_name", "victim_age", "victim_gender", "victim_harmed", "victim_nationality", "victim_occupation",
	"suspect_name", "suspect_age", "suspect_gender", "suspect_status", "suspect_nationality", "suspect_occupation",
	"suspect_motive", "narrative", "status", "lat", "lng", "address",
}

func buildCSV(reports []Report) (string, error) {
	buffer := bytes.NewBuffer(nil)
	writer := csv.NewWriter(buffer)
	if err := writer.Write(csvHeaders); err != nil {
		return "", err
	}
	for _, report := range reports {
		address := ""
		if report.Address != nil {
			address = *report.Address
		}
		v, s := report.Victim, report.Suspect
		row := []string{
			report.BlotterNo, report.PublicID, report.DateEncoded, report.Source,
			report.Barangay, report.Street, report.TypeOfPlace,
			report.DateReported, report.TimeReported, report.DateCommitted, report.TimeCommitted,
			report.ModeOfReporting, report.StageOfFelony, report.Offense,
			v.Name, v.Age, v.Gender, v.Harmed, v.Nationality, v.Occupation,
			s.Name, s.Age, s.Gender, s.Status, s.Nationality, s.Occupation,
			report.SuspectMotive, report.Narrative, report.Status,
			fmt.Sprintf("%f", report.Location.Lat),
			fmt.Sprintf("%f", report.Location.Lng),
			address,
		}
		if err := writer.Write(row); err != nil {
			return "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return "", err
	}
	return buffer.String(), nil
}

func buildGeoJSON(reports []Report) (string, error) {
	features := make([]map[string]any, 0, len(reports))
	for _, report := range reports {
		features = append(features, map[string]any{
			"type": "Feature",
			"geometry": map[string]any{
				"type":        "Point",
				"coordinates": []float64{report.Location.Lng, report.Location.Lat},
			},
			"properties": map[string]any{
				"blotter_no":     report.BlotterNo,
				"public_id":      report.PublicID,
				"barangay":       report.Barangay,
				"offense":        report.Offense,
				"date_committed": report.DateCommitted,
				"time_committed": report.TimeCommitted,
				"status":         report.Status,
				"address":        report.Address,
			},
		})
	}
	payload := map[string]any{"type": "FeatureCollection", "features": features}
	encoded, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

func buildPDF(reports []Report, periodStart, periodEnd, title string) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFont("Helvetica", "", 16)
	pdf.Cell(0, 10, tr(title))
	pdf.Ln(12)

	summary := summarizeReports(reports)
	pdf.SetFont("Helvetica", "", 11)
	pdf.Cell(0, 8, fmt.Sprintf("Period: %s - %s", periodStart, periodEnd))
	pdf.Ln(7)
	pdf.Cell(0, 8, fmt.Sprintf("Total reports: %d", summary.Total))
	pdf.Ln(7)
	pdf.Cell(0, 8, tr(fmt.Sprintf("Most common offense: %s", summary.MostCommonOffense)))
	pdf.Ln(10)

	statusCounts := map[string]int{}
	offenseCounts := map[string]int{}
	barangayCounts := map[string]int{}
	for _, report := range reports {
		statusCounts[report.Status]++
		offenseCounts[report.Offense]++
		barangayCounts[report.Barangay]++
	}

	section := func(heading string, entries []countEntry, limit int) {
		pdf.SetFont("Helvetica", "B", 11)
		pdf.Cell(0, 8, heading)
		pdf.Ln(8)
		pdf.SetFont("Helvetica", "", 10)
		if limit > 0 && len(entries) > limit {
			entries = entries[:limit]
		}
		for _, entry := range entries {
			pdf.Cell(0, 6, tr(fmt.Sprintf("- %s: %d", entry.Name, entry.Count)))
			pdf.Ln(6)
		}
		pdf.Ln(4)
	}
	section("Status distribution", rankCounts(statusCounts), 0)
	section("Top offenses", rankCounts(offenseCounts), pdfTopEntries)
	section("Reports per barangay", rankCounts(barangayCounts), 0)

	if len(reports) > 0 {
		pdf.AddPage()
		pdf.SetFont("Helvetica", "B", 9)
		widths := []float64{28, 22, 45, 55, 40}
		for i, heading := range []string{"Blotter No.", "Committed", "Barangay", "Offense", "Status"} {
			pdf.CellFormat(widths[i], 7, heading, "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Helvetica", "", 8)
		for _, report := range reports {
			cells := []string{report.BlotterNo, report.DateCommitted, report.Barangay, report.Offense, report.Status}
			for i, cell := range cells {
				pdf.CellFormat(widths[i], 6, tr(truncateForCell(cell, widths[i])), "1", 0, "L", false, 0, "")
			}
			pdf.Ln(-1)
		}
	}

	buffer := bytes.NewBuffer(nil)
	if err := pdf.Output(buffer); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

// truncateForCell keeps roughly what fits in a width-mm column at 8pt.
func truncateForCell(value string, width float64) string {
	limit := int(width / 1.7)
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit-1]) + "."
}
