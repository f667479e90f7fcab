package intake

import (
	"fmt"
	"strings"
	"time"

	"blotterdesk/internal/catalog"
)

// RawRow maps a header name to the cell text of one spreadsheet row.
type RawRow map[string]string

// Blank reports whether every cell of the row is empty or whitespace.
func (r RawRow) Blank() bool {
	for _, value := range r {
		if strings.TrimSpace(value) != "" {
			return false
		}
	}
	return true
}

// FilterBlank drops rows without any content.
func FilterBlank(rows []RawRow) []RawRow {
	out := make([]RawRow, 0, len(rows))
	for _, row := range rows {
		if !row.Blank() {
			out = append(out, row)
		}
	}
	return out
}

// fieldAliases lists the accepted header spellings per canonical field, in
// probe order.
var fieldAliases = map[string][]string{
	"barangay":        {"barangay", "Barangay"},
	"street":          {"street", "Street"},
	"typeOfPlace":     {"typeofPlace", "typeOfPlace", "TypeofPlace"},
	"dateReported":    {"dateReported", "datereported"},
	"timeReported":    {"timeReported", "timereported"},
	"dateCommitted":   {"dateCommitted", "datecommitted"},
	"timeCommitted":   {"timeCommitted", "timecommitted"},
	"modeOfReporting": {"mode_reporting", "modeOfReporting", "mode_Reporting"},
	"stageOfFelony":   {"stageoffelony", "stageOfFelony", "stageofFelony"},
	"offense":         {"offense", "Offense"},
	"victim":          {"victim", "Victim"},
	"suspect":         {"suspect", "Suspect"},
	"suspectMotive":   {"suspectMotive", "suspectmotive"},
	"narrative":       {"narrative", "Narrative"},
	"status":          {"casestatus", "caseStatus", "status"},
	"lat":             {"lat", "Lat"},
	"lng":             {"lng", "Lng"},
}

// foldedAliases are only matched through the folded-header fallback.
var foldedAliases = map[string][]string{
	"lat": {"latitude"},
	"lng": {"longitude", "lon", "long"},
}

// foldKey collapses case and separators so "Date Reported" meets "dateReported".
func foldKey(key string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(key) {
		switch r {
		case ' ', '_', '-', '.', '\t':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type rowLookup struct {
	row    RawRow
	folded map[string]string
}

func newRowLookup(row RawRow) rowLookup {
	folded := make(map[string]string, len(row))
	for key, value := range row {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		fk := foldKey(key)
		if _, exists := folded[fk]; !exists {
			folded[fk] = value
		}
	}
	return rowLookup{row: row, folded: folded}
}

// get returns the first non-empty aliased value, then a folded-header match.
func (l rowLookup) get(field string) string {
	aliases := fieldAliases[field]
	for _, alias := range aliases {
		if value := strings.TrimSpace(l.row[alias]); value != "" {
			return value
		}
	}
	for _, alias := range append(aliases, foldedAliases[field]...) {
		if value, ok := l.folded[foldKey(alias)]; ok {
			return value
		}
	}
	return ""
}

// Entry is one normalized row plus the non-blocking notes raised while
// normalizing it. Line is the 1-based data row position after filtering.
type Entry struct {
	Line     int      `json:"line"`
	Record   Record   `json:"record"`
	Warnings []string `json:"warnings"`
}

// Normalizer maps raw rows to canonical records. The zero value is usable.
type Normalizer struct {
	// Now supplies the date used for missing report dates.
	Now func() time.Time
	// Location is the zone "today" is computed in; UTC when nil.
	Location *time.Location
	// Catalog enables reference-list warnings when set.
	Catalog *catalog.Catalog
}

func (n *Normalizer) today() string {
	now := time.Now
	if n.Now != nil {
		now = n.Now
	}
	loc := n.Location
	if loc == nil {
		loc = time.UTC
	}
	return now().In(loc).Format(dateLayout)
}

// Normalize converts a single raw row. It never fails: absent or malformed
// cells resolve to placeholders and are described in the returned warnings.
func (n *Normalizer) Normalize(row RawRow) (Record, []string) {
	return n.normalize(row, n.today())
}

func (n *Normalizer) normalize(row RawRow, today string) (Record, []string) {
	l := newRowLookup(row)
	warnings := []string{}

	valueOr := func(field, fallback string) string {
		if value := l.get(field); value != "" {
			return value
		}
		return fallback
	}

	rec := Record{
		Barangay:        Placeholder,
		Street:          valueOr("street", Placeholder),
		TypeOfPlace:     valueOr("typeOfPlace", Placeholder),
		ModeOfReporting: valueOr("modeOfReporting", Placeholder),
		StageOfFelony:   valueOr("stageOfFelony", Placeholder),
		Offense:         valueOr("offense", Placeholder),
		SuspectMotive:   valueOr("suspectMotive", Placeholder),
		Narrative:       valueOr("narrative", Placeholder),
		Status:          valueOr("status", DefaultStatus),
	}

	if barangay := l.get("barangay"); barangay != "" {
		rec.Barangay = TitleCaseBarangay(barangay)
		if n.Catalog != nil && !n.Catalog.IsBarangay(rec.Barangay) {
			warnings = append(warnings, fmt.Sprintf("barangay %q is not in the catalog", rec.Barangay))
		}
	}

	rec.DateReported, warnings = resolveDate(l.get("dateReported"), today, "dateReported", warnings)
	rec.DateCommitted, warnings = resolveDate(l.get("dateCommitted"), today, "dateCommitted", warnings)
	rec.TimeReported, warnings = resolveTime(l.get("timeReported"), "timeReported", warnings)
	rec.TimeCommitted, warnings = resolveTime(l.get("timeCommitted"), "timeCommitted", warnings)

	victim := parsePerson(l.get("victim"))
	rec.Victim = victim.victim()
	if victim.Extra > 0 {
		warnings = append(warnings, fmt.Sprintf("victim cell lists %d more entries; only the first was kept", victim.Extra))
	}
	suspect := parsePerson(l.get("suspect"))
	rec.Suspect = suspect.suspect()
	if suspect.Extra > 0 {
		warnings = append(warnings, fmt.Sprintf("suspect cell lists %d more entries; only the first was kept", suspect.Extra))
	}

	if n.Catalog != nil && rec.Offense != Placeholder && !n.Catalog.IsOffense(rec.Offense) {
		warnings = append(warnings, fmt.Sprintf("offense %q is not in the catalog", rec.Offense))
	}
	if n.Catalog != nil {
		if _, ok := n.Catalog.CanonicalCaseStatus(rec.Status); !ok {
			warnings = append(warnings, fmt.Sprintf("status %q is not in the catalog", rec.Status))
		}
	}

	rec.Location = Location{
		Lat: ParseCoordinate(l.get("lat"), DefaultLat),
		Lng: ParseCoordinate(l.get("lng"), DefaultLng),
	}
	if rec.Location.Lat == DefaultLat && rec.Location.Lng == DefaultLng {
		warnings = append(warnings, "location missing or unreadable; default coordinate used")
	}

	return rec, warnings
}

func resolveDate(raw, today, field string, warnings []string) (string, []string) {
	if raw == "" {
		return today, warnings
	}
	normalized, ok := NormalizeDate(raw)
	if !ok {
		warnings = append(warnings, fmt.Sprintf("%s %q is not a recognised date", field, raw))
		return raw, warnings
	}
	return normalized, warnings
}

func resolveTime(raw, field string, warnings []string) (string, []string) {
	if raw == "" {
		return DefaultTime, warnings
	}
	normalized, ok := NormalizeTime(raw)
	if !ok {
		warnings = append(warnings, fmt.Sprintf("%s %q is not a recognised time", field, raw))
		return raw, warnings
	}
	return normalized, warnings
}

// Run filters blank rows and normalizes the rest with a single "today".
func (n *Normalizer) Run(rows []RawRow) []Entry {
	today := n.today()
	kept := FilterBlank(rows)
	entries := make([]Entry, 0, len(kept))
	for i, row := range kept {
		rec, warnings := n.normalize(row, today)
		entries = append(entries, Entry{Line: i + 1, Record: rec, Warnings: warnings})
	}
	return entries
}

// Records strips the warnings from a normalized batch.
func Records(entries []Entry) []Record {
	out := make([]Record, len(entries))
	for i, entry := range entries {
		out[i] = entry.Record
	}
	return out
}
