package main

import (
	"context"
	"fmt"
)

func (s *pgStore) ListReportsPage(ctx context.Context, filters ReportFilters, page, pageSize int) (*ReportPage, error) {
	page, pageSize = clampPage(page, pageSize)
	query, args := buildReportsPageQuery(filters, page, pageSize)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reports := make([]Report, 0, pageSize)
	totalCount := 0
	for rows.Next() {
		report, err := scanReport(rows, &totalCount)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// COUNT(*) OVER() is absent when the page is past the end.
	if len(reports) == 0 && page > 1 {
		countQuery := `SELECT COUNT(*) FROM reports WHERE 1=1`
		whereClause, countArgs := buildReportFilters(filters)
		if err := s.db.QueryRowContext(ctx, countQuery+whereClause, countArgs...).Scan(&totalCount); err != nil {
			return nil, err
		}
	}

	return newReportPage(reports, totalCount, page, pageSize), nil
}

func buildReportsPageQuery(filters ReportFilters, page, pageSize int) (string, []any) {
	query := `
		SELECT
			reports.public_id, reports.blotter_no, reports.date_encoded, reports.barangay, reports.street,
			reports.type_of_place, reports.date_reported, reports.time_reported, reports.date_committed,
			reports.time_committed, reports.mode_of_reporting, reports.stage_of_felony, reports.offense,
			reports.victim, reports.suspect, reports.suspect_motive, reports.narrative, reports.status,
			reports.lat, reports.lng, reports.address, reports.source, reports.import_batch_id,
			reports.created_by, reports.created_at, reports.updated_at,
			COUNT(*) OVER() AS total_count
		FROM reports
		WHERE 1=1
	`
	whereClause, args := buildReportFilters(filters)
	query += whereClause
	argIndex := len(args) + 1

	query += " ORDER BY reports.date_committed DESC, reports.created_at DESC"

	offset := (page - 1) * pageSize
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argIndex, argIndex+1)
	args = append(args, pageSize, offset)

	return query, args
}
