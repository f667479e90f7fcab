package main

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const pgUniqueViolation = "23505"

type pgStore struct {
	db  *sql.DB
	log *slog.Logger
}

func openPostgresStore(ctx context.Context, databaseURL string, logger *slog.Logger) (*pgStore, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return &pgStore{db: db, log: logger}, nil
}

func (s *pgStore) Close(context.Context) error {
	return s.db.Close()
}

func (s *pgStore) Migrate(ctx context.Context) error {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return err
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)

	for _, file := range files {
		var exists bool
		if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE filename = $1)`, file).Scan(&exists); err != nil {
			return err
		}
		if exists {
			continue
		}

		content, err := migrationFiles.ReadFile(path.Join("migrations", file))
		if err != nil {
			return err
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %s failed: %w", file, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (filename) VALUES ($1)`, file); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}

		s.log.Info("applied migration", "file", file)
	}

	return nil
}

func (s *pgStore) EnsureOperator(ctx context.Context, email, passwordHash, role string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO operators (email, password_hash, role, is_active)
		VALUES ($1, $2, $3, TRUE)
		ON CONFLICT (email)
		DO UPDATE SET
			password_hash = EXCLUDED.password_hash,
			role = EXCLUDED.role,
			is_active = TRUE,
			updated_at = NOW()
	`, email, passwordHash, role)
	return err
}

func (s *pgStore) FindOperator(ctx context.Context, email string) (*OperatorCredentials, error) {
	var creds OperatorCredentials
	err := s.db.QueryRowContext(ctx, `
		SELECT email, password_hash, role, is_active
		FROM operators
		WHERE LOWER(email) = LOWER($1)
	`, email).Scan(&creds.Email, &creds.PasswordHash, &creds.Role, &creds.IsActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &creds, nil
}

func (s *pgStore) CreateReport(ctx context.Context, input NewReport) (*Report, error) {
	rec := input.Record
	victim, err := json.Marshal(rec.Victim)
	if err != nil {
		return nil, err
	}
	suspect, err := json.Marshal(rec.Suspect)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	var reportID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO reports (
			public_id, blotter_no, date_encoded, barangay, street, type_of_place,
			date_reported, time_reported, date_committed, time_committed,
			mode_of_reporting, stage_of_felony, offense, victim, suspect,
			suspect_motive, narrative, status, lat, lng,
			source, import_batch_id, created_by
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
		RETURNING id
	`,
		input.PublicID, input.BlotterNo, input.DateEncoded, rec.Barangay, rec.Street, rec.TypeOfPlace,
		rec.DateReported, rec.TimeReported, rec.DateCommitted, rec.TimeCommitted,
		rec.ModeOfReporting, rec.StageOfFelony, rec.Offense, victim, suspect,
		rec.SuspectMotive, rec.Narrative, rec.Status, rec.Location.Lat, rec.Location.Lng,
		input.Source, input.ImportBatchID, input.CreatedBy,
	).Scan(&reportID)
	if err != nil {
		_ = tx.Rollback()
		return nil, translatePgError(err)
	}

	if err := addEventTx(ctx, tx, reportID, "created", input.CreatedBy, createdEventMetadata(input)); err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, translatePgError(err)
	}
	return s.GetReport(ctx, input.PublicID)
}

func translatePgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		switch pgErr.ConstraintName {
		case "reports_blotter_no_key":
			return fmt.Errorf("%w: %s", errDuplicateBlotter, pgErr.Detail)
		case "reports_public_id_key":
			return errDuplicatePublicID
		}
	}
	return err
}

func (s *pgStore) GetReport(ctx context.Context, publicID string) (*Report, error) {
	row := s.db.QueryRowContext(ctx, reportSelect+` WHERE reports.public_id = $1`, publicID)
	report, err := scanReport(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errReportNotFound
		}
		return nil, err
	}
	return &report, nil
}

const reportSelect = `
	SELECT
		reports.public_id,
		reports.blotter_no,
		reports.date_encoded,
		reports.barangay,
		reports.street,
		reports.type_of_place,
		reports.date_reported,
		reports.time_reported,
		reports.date_committed,
		reports.time_committed,
		reports.mode_of_reporting,
		reports.stage_of_felony,
		reports.offense,
		reports.victim,
		reports.suspect,
		reports.suspect_motive,
		reports.narrative,
		reports.status,
		reports.lat,
		reports.lng,
		reports.address,
		reports.source,
		reports.import_batch_id,
		reports.created_by,
		reports.created_at,
		reports.updated_at
	FROM reports
`

type rowScanner interface {
	Scan(dest ...any) error
}

// scanReport reads the reportSelect columns followed by any extra columns
// the caller appended to the query.
func scanReport(scanner rowScanner, extra ...any) (Report, error) {
	var report Report
	var victimRaw, suspectRaw []byte
	var address, importBatchID sql.NullString
	var createdAt, updatedAt time.Time
	rec := &report.Record
	dest := []any{
		&report.PublicID,
		&report.BlotterNo,
		&report.DateEncoded,
		&rec.Barangay,
		&rec.Street,
		&rec.TypeOfPlace,
		&rec.DateReported,
		&rec.TimeReported,
		&rec.DateCommitted,
		&rec.TimeCommitted,
		&rec.ModeOfReporting,
		&rec.StageOfFelony,
		&rec.Offense,
		&victimRaw,
		&suspectRaw,
		&rec.SuspectMotive,
		&rec.Narrative,
		&rec.Status,
		&rec.Location.Lat,
		&rec.Location.Lng,
		&address,
		&report.Source,
		&importBatchID,
		&report.CreatedBy,
		&createdAt,
		&updatedAt,
	}
	if err := scanner.Scan(append(dest, extra...)...); err != nil {
		return Report{}, err
	}
	if err := json.Unmarshal(victimRaw, &rec.Victim); err != nil {
		return Report{}, fmt.Errorf("decode victim: %w", err)
	}
	if err := json.Unmarshal(suspectRaw, &rec.Suspect); err != nil {
		return Report{}, fmt.Errorf("decode suspect: %w", err)
	}
	if address.Valid {
		report.Address = &address.String
	}
	if importBatchID.Valid {
		report.ImportBatchID = &importBatchID.String
	}
	report.CreatedAt = createdAt.UTC().Format(time.RFC3339)
	report.UpdatedAt = updatedAt.UTC().Format(time.RFC3339)
	return report, nil
}

func (s *pgStore) ListReports(ctx context.Context, filters ReportFilters) ([]Report, error) {
	query := reportSelect + ` WHERE 1=1`
	whereClause, args := buildReportFilters(filters)
	query += whereClause
	query += " ORDER BY reports.date_committed DESC, reports.created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reports := make([]Report, 0)
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	return reports, rows.Err()
}

func (s *pgStore) ListBlotterNumbers(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT blotter_no FROM reports WHERE blotter_no LIKE $1`, escapeLike(prefix)+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	numbers := make([]string, 0)
	for rows.Next() {
		var number string
		if err := rows.Scan(&number); err != nil {
			return nil, err
		}
		numbers = append(numbers, number)
	}
	return numbers, rows.Err()
}

func (s *pgStore) UpdateReportStatus(ctx context.Context, publicID, fromStatus, toStatus, actor string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	var reportID int64
	err = tx.QueryRowContext(ctx, `
		UPDATE reports SET status = $1, updated_at = NOW()
		WHERE public_id = $2
		RETURNING id
	`, toStatus, publicID).Scan(&reportID)
	if err != nil {
		_ = tx.Rollback()
		if errors.Is(err, sql.ErrNoRows) {
			return errReportNotFound
		}
		return err
	}
	if err := addEventTx(ctx, tx, reportID, "status_changed", actor, map[string]any{"from": fromStatus, "status": toStatus}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *pgStore) SetReportAddress(ctx context.Context, publicID, address string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE reports SET address = $1, updated_at = NOW()
		WHERE public_id = $2
	`, address, publicID)
	if err != nil {
		return err
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return errReportNotFound
	}
	return nil
}

func addEventTx(ctx context.Context, tx *sql.Tx, reportID int64, eventType, actor string, metadata map[string]any) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO report_events (report_id, type, actor, metadata)
		VALUES ($1, $2, $3, $4)
	`, reportID, eventType, actor, anyMapToJSON(metadata))
	return err
}

func (s *pgStore) ListEvents(ctx context.Context, publicID string) ([]ReportEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT report_events.id::text, reports.public_id, report_events.type, report_events.actor,
			report_events.metadata, report_events.created_at
		FROM report_events
		JOIN reports ON reports.id = report_events.report_id
		WHERE reports.public_id = $1
		ORDER BY report_events.created_at ASC, report_events.id ASC
	`, publicID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]ReportEvent, 0)
	for rows.Next() {
		var event ReportEvent
		var metadataRaw []byte
		var createdAt time.Time
		if err := rows.Scan(&event.ID, &event.ReportID, &event.Type, &event.Actor, &metadataRaw, &createdAt); err != nil {
			return nil, err
		}
		event.Metadata = jsonToAnyMap(metadataRaw)
		event.CreatedAt = createdAt.UTC().Format(time.RFC3339)
		events = append(events, event)
	}
	return events, rows.Err()
}

func createdEventMetadata(input NewReport) map[string]any {
	metadata := map[string]any{"source": input.Source, "blotterNo": input.BlotterNo}
	if input.ImportBatchID != nil {
		metadata["importBatchId"] = *input.ImportBatchID
	}
	return metadata
}
