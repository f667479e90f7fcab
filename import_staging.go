package main

import (
	"net/http"
	"sort"
	"sync"
	"time"

	"blotterdesk/internal/intake"

	"github.com/google/uuid"
)

const (
	rowStatePending  = "pending"
	rowStateAccepted = "accepted"
	rowStateRejected = "rejected"
)

var (
	errImportNotFound      = &apiError{Status: http.StatusNotFound, Code: "import_not_found", Message: "Import batch not found or expired"}
	errImportRowNotFound   = &apiError{Status: http.StatusNotFound, Code: "row_not_found", Message: "Import row not found"}
	errImportRowReviewed   = &apiError{Status: http.StatusConflict, Code: "row_already_reviewed", Message: "Row has already been reviewed"}
	errImportRowSubmitting = &apiError{Status: http.StatusConflict, Code: "row_busy", Message: "Row is being submitted"}
)

// ImportRow is one staged record awaiting review. Row numbers are 1-based.
type ImportRow struct {
	Row       int           `json:"row"`
	Record    intake.Record `json:"record"`
	Warnings  []string      `json:"warnings"`
	State     string        `json:"state"`
	ReportID  string        `json:"reportId,omitempty"`
	LastError string        `json:"lastError,omitempty"`

	submitting bool
}

type ImportCounts struct {
	Total    int `json:"total"`
	Pending  int `json:"pending"`
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
}

type ImportBatchSummary struct {
	ID        string       `json:"id"`
	Filename  string       `json:"filename"`
	Owner     string       `json:"owner"`
	CreatedAt time.Time    `json:"createdAt"`
	ExpiresAt time.Time    `json:"expiresAt"`
	Counts    ImportCounts `json:"counts"`
}

type ImportBatch struct {
	ImportBatchSummary
	Rows []ImportRow `json:"rows"`
}

type stagedBatch struct {
	id        string
	owner     string
	filename  string
	createdAt time.Time
	expiresAt time.Time
	rows      []ImportRow
}

// importStaging keeps uploaded batches in memory until they are discarded or
// expire. All methods are safe for concurrent use.
type importStaging struct {
	mu      sync.Mutex
	ttl     time.Duration
	batches map[string]*stagedBatch
}

func newImportStaging(ttl time.Duration) *importStaging {
	if ttl <= 0 {
		ttl = defaultImportBatchTTL
	}
	return &importStaging{ttl: ttl, batches: make(map[string]*stagedBatch)}
}

func (s *importStaging) stage(owner, filename string, entries []intake.Entry, now time.Time) ImportBatch {
	rows := make([]ImportRow, len(entries))
	for i, entry := range entries {
		warnings := entry.Warnings
		if warnings == nil {
			warnings = []string{}
		}
		rows[i] = ImportRow{Row: i + 1, Record: entry.Record, Warnings: warnings, State: rowStatePending}
	}
	batch := &stagedBatch{
		id:        uuid.NewString(),
		owner:     owner,
		filename:  filename,
		createdAt: now,
		expiresAt: now.Add(s.ttl),
		rows:      rows,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[batch.id] = batch
	return batch.snapshot()
}

// lookup returns the batch if it is live and visible to session. Callers hold mu.
func (s *importStaging) lookup(id string, session OperatorSession, now time.Time) (*stagedBatch, error) {
	batch, ok := s.batches[id]
	if !ok || !now.Before(batch.expiresAt) {
		return nil, errImportNotFound
	}
	if batch.owner != session.Email && session.Role != "admin" {
		return nil, errImportNotFound
	}
	return batch, nil
}

func (b *stagedBatch) row(number int) (*ImportRow, error) {
	if number < 1 || number > len(b.rows) {
		return nil, errImportRowNotFound
	}
	return &b.rows[number-1], nil
}

func (s *importStaging) get(id string, session OperatorSession, now time.Time) (ImportBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch, err := s.lookup(id, session, now)
	if err != nil {
		return ImportBatch{}, err
	}
	return batch.snapshot(), nil
}

// list returns the caller's live batches, newest first.
func (s *importStaging) list(session OperatorSession, now time.Time) []ImportBatchSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []ImportBatchSummary{}
	for _, batch := range s.batches {
		if batch.owner != session.Email || !now.Before(batch.expiresAt) {
			continue
		}
		out = append(out, batch.summary())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (s *importStaging) discard(id string, session OperatorSession, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.lookup(id, session, now); err != nil {
		return err
	}
	delete(s.batches, id)
	return nil
}

func (s *importStaging) records(id string, session OperatorSession, now time.Time) ([]intake.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch, err := s.lookup(id, session, now)
	if err != nil {
		return nil, err
	}
	records := make([]intake.Record, len(batch.rows))
	for i, row := range batch.rows {
		records[i] = row.Record
	}
	return records, nil
}

// pendingRow resolves a row that may still change state.
func (s *importStaging) pendingRow(id string, number int, session OperatorSession, now time.Time) (*ImportRow, error) {
	batch, err := s.lookup(id, session, now)
	if err != nil {
		return nil, err
	}
	row, err := batch.row(number)
	if err != nil {
		return nil, err
	}
	if row.State != rowStatePending {
		return nil, errImportRowReviewed
	}
	if row.submitting {
		return nil, errImportRowSubmitting
	}
	return row, nil
}

func (s *importStaging) updateRow(id string, number int, record intake.Record, session OperatorSession, now time.Time) (ImportRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, err := s.pendingRow(id, number, session, now)
	if err != nil {
		return ImportRow{}, err
	}
	row.Record = record
	row.LastError = ""
	return row.clone(), nil
}

func (s *importStaging) reject(id string, number int, session OperatorSession, now time.Time) (ImportRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, err := s.pendingRow(id, number, session, now)
	if err != nil {
		return ImportRow{}, err
	}
	row.State = rowStateRejected
	return row.clone(), nil
}

// beginAccept marks a pending row as in flight and returns its record. Every
// successful call must be paired with finishAccept.
func (s *importStaging) beginAccept(id string, number int, session OperatorSession, now time.Time) (intake.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, err := s.pendingRow(id, number, session, now)
	if err != nil {
		return intake.Record{}, err
	}
	row.submitting = true
	return row.Record, nil
}

// finishAccept records the outcome of a submission. On failure the row stays
// pending with the error message so it can be retried.
func (s *importStaging) finishAccept(id string, number int, publicID string, submitErr error) (ImportRow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch, ok := s.batches[id]
	if !ok {
		return ImportRow{}, false
	}
	row, err := batch.row(number)
	if err != nil {
		return ImportRow{}, false
	}
	row.submitting = false
	if submitErr != nil {
		row.LastError = submitErr.Error()
		return row.clone(), true
	}
	row.State = rowStateAccepted
	row.ReportID = publicID
	row.LastError = ""
	return row.clone(), true
}

// prune drops expired batches and returns how many were removed.
func (s *importStaging) prune(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, batch := range s.batches {
		if !now.Before(batch.expiresAt) {
			delete(s.batches, id)
			removed++
		}
	}
	return removed
}

func (b *stagedBatch) counts() ImportCounts {
	counts := ImportCounts{Total: len(b.rows)}
	for _, row := range b.rows {
		switch row.State {
		case rowStatePending:
			counts.Pending++
		case rowStateAccepted:
			counts.Accepted++
		case rowStateRejected:
			counts.Rejected++
		}
	}
	return counts
}

func (b *stagedBatch) summary() ImportBatchSummary {
	return ImportBatchSummary{
		ID:        b.id,
		Filename:  b.filename,
		Owner:     b.owner,
		CreatedAt: b.createdAt,
		ExpiresAt: b.expiresAt,
		Counts:    b.counts(),
	}
}

func (b *stagedBatch) snapshot() ImportBatch {
	rows := make([]ImportRow, len(b.rows))
	for i := range b.rows {
		rows[i] = b.rows[i].clone()
	}
	return ImportBatch{ImportBatchSummary: b.summary(), Rows: rows}
}

func (r *ImportRow) clone() ImportRow {
	out := *r
	out.Warnings = append([]string{}, r.Warnings...)
	return out
}
