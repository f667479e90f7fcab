package main

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"blotterdesk/internal/intake"

	"github.com/gin-gonic/gin"
)

func (a *App) createImportHandler(c *gin.Context) {
	session, err := getOperatorSession(c)
	if err != nil {
		writeAPIError(c, err)
		return
	}

	tooLargeErr := &apiError{Status: http.StatusRequestEntityTooLarge, Code: "import_too_large", Message: fmt.Sprintf("File exceeds %d bytes", a.cfg.ImportMaxBytes)}
	if c.Request.ContentLength > a.cfg.ImportMaxBytes {
		writeAPIError(c, tooLargeErr)
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, a.cfg.ImportMaxBytes)
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeAPIError(c, tooLargeErr)
			return
		}
		writeAPIError(c, &apiError{Status: http.StatusBadRequest, Code: "invalid_payload", Message: "Expected a multipart 'file' field"})
		return
	}
	defer file.Close()

	filename := filepath.Base(header.Filename)
	if !intake.SupportedExtension(filename) {
		writeAPIError(c, &apiError{Status: http.StatusBadRequest, Code: "unsupported_file", Message: "Upload a .csv, .tsv, .txt, .xls, .xlsx or .json file"})
		return
	}

	entries, err := a.normalizer().Process(file, filename)
	if err == nil && len(entries) == 0 {
		err = intake.ErrNoData
	}
	if err != nil {
		a.log.Warn("import failed", "filename", filename, "operator", session.Email, "err", err)
		writeAPIError(c, &apiError{Status: http.StatusBadRequest, Code: "import_failed", Message: err.Error()})
		return
	}

	batch := a.imports.stage(session.Email, filename, entries, a.clock())
	a.log.Info("import staged", "batch_id", batch.ID, "filename", filename, "rows", batch.Counts.Total, "operator", session.Email)
	c.JSON(http.StatusCreated, batch)
}

func (a *App) listImportsHandler(c *gin.Context) {
	session, err := getOperatorSession(c)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, a.imports.list(session, a.clock()))
}

func (a *App) importBatchHandler(c *gin.Context) {
	session, err := getOperatorSession(c)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	batch, err := a.imports.get(c.Param("batch_id"), session, a.clock())
	if err != nil {
		writeAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, batch)
}

func (a *App) discardImportHandler(c *gin.Context) {
	session, err := getOperatorSession(c)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	batchID := c.Param("batch_id")
	if err := a.imports.discard(batchID, session, a.clock()); err != nil {
		writeAPIError(c, err)
		return
	}
	a.log.Info("import discarded", "batch_id", batchID, "operator", session.Email)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (a *App) exportImportHandler(c *gin.Context) {
	session, err := getOperatorSession(c)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	records, err := a.imports.records(c.Param("batch_id"), session, a.clock())
	if err != nil {
		writeAPIError(c, err)
		return
	}

	var buf bytes.Buffer
	if err := intake.EncodeJSON(&buf, records); err != nil {
		writeAPIError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", intake.ExportFileName))
	c.Data(http.StatusOK, "application/json; charset=utf-8", buf.Bytes())
}

func parseRowNumber(c *gin.Context) (int, error) {
	row, err := strconv.Atoi(strings.TrimSpace(c.Param("row")))
	if err != nil || row < 1 {
		return 0, errImportRowNotFound
	}
	return row, nil
}

func (a *App) updateImportRowHandler(c *gin.Context) {
	session, err := getOperatorSession(c)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	row, err := parseRowNumber(c)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	var body struct {
		Record *intake.Record `json:"record"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Record == nil {
		writeAPIError(c, &apiError{Status: http.StatusBadRequest, Code: "invalid_payload", Message: "Expected a record object"})
		return
	}

	updated, err := a.imports.updateRow(c.Param("batch_id"), row, body.Record.WithDefaults(a.today()), session, a.clock())
	if err != nil {
		writeAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (a *App) rejectImportRowHandler(c *gin.Context) {
	session, err := getOperatorSession(c)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	row, err := parseRowNumber(c)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	rejected, err := a.imports.reject(c.Param("batch_id"), row, session, a.clock())
	if err != nil {
		writeAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, rejected)
}

// acceptImportRowHandler files the staged record as a report. A failed
// submission leaves the row pending with the error attached.
func (a *App) acceptImportRowHandler(c *gin.Context) {
	session, err := getOperatorSession(c)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	row, err := parseRowNumber(c)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	batchID := c.Param("batch_id")

	record, err := a.imports.beginAccept(batchID, row, session, a.clock())
	if err != nil {
		writeAPIError(c, err)
		return
	}

	created, submitErr := a.acceptStagedRecord(c, record, batchID, session)
	publicID := ""
	if created != nil {
		publicID = created.PublicID
	}
	result, _ := a.imports.finishAccept(batchID, row, publicID, submitErr)
	if submitErr != nil {
		a.log.Warn("import row submission failed", "batch_id", batchID, "row", row, "err", submitErr)
		writeAPIError(c, submitErr)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"row": result, "report": created})
}

func (a *App) acceptStagedRecord(c *gin.Context, record intake.Record, batchID string, session OperatorSession) (*Report, error) {
	prepared, err := a.prepareRecord(record)
	if err != nil {
		return nil, err
	}
	return a.fileReport(c.Request.Context(), NewReport{
		Record:        prepared,
		Source:        reportSourceImport,
		ImportBatchID: &batchID,
		CreatedBy:     session.Email,
	})
}
