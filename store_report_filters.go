package main

import (
	"fmt"
	"strings"
)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(value string) string {
	return likeEscaper.Replace(value)
}

// buildReportFilters renders filters as " AND ..." clauses with positional
// arguments starting at $1.
func buildReportFilters(filters ReportFilters) (string, []any) {
	whereClause := ""
	args := make([]any, 0)
	argIndex := 1

	if search := strings.TrimSpace(filters.Search); search != "" {
		whereClause += fmt.Sprintf(` AND (
			reports.victim->>'name' ILIKE $%[1]d
			OR reports.suspect->>'name' ILIKE $%[1]d
			OR reports.offense ILIKE $%[1]d
			OR reports.narrative ILIKE $%[1]d
			OR reports.blotter_no ILIKE $%[1]d
			OR reports.street ILIKE $%[1]d
		)`, argIndex)
		args = append(args, "%"+escapeLike(search)+"%")
		argIndex++
	}
	if filters.Offense != "" {
		whereClause += fmt.Sprintf(" AND LOWER(reports.offense) = LOWER($%d)", argIndex)
		args = append(args, filters.Offense)
		argIndex++
	}
	if filters.Offenses != nil {
		whereClause += fmt.Sprintf(" AND reports.offense = ANY($%d)", argIndex)
		args = append(args, filters.Offenses)
		argIndex++
	}
	if filters.Barangay != "" {
		whereClause += fmt.Sprintf(" AND LOWER(reports.barangay) = LOWER($%d)", argIndex)
		args = append(args, filters.Barangay)
		argIndex++
	}
	if filters.Status != "" {
		whereClause += fmt.Sprintf(" AND LOWER(reports.status) = LOWER($%d)", argIndex)
		args = append(args, filters.Status)
		argIndex++
	}
	if filters.Source != "" {
		whereClause += fmt.Sprintf(" AND reports.source = $%d", argIndex)
		args = append(args, filters.Source)
		argIndex++
	}
	if filters.From != "" {
		whereClause += fmt.Sprintf(" AND reports.date_committed >= $%d", argIndex)
		args = append(args, filters.From)
		argIndex++
	}
	if filters.To != "" {
		whereClause += fmt.Sprintf(" AND reports.date_committed <= $%d", argIndex)
		args = append(args, filters.To)
		argIndex++
	}
	if filters.CreatedFrom != nil {
		whereClause += fmt.Sprintf(" AND reports.created_at >= $%d", argIndex)
		args = append(args, filters.CreatedFrom.UTC())
		argIndex++
	}

	return whereClause, args
}
