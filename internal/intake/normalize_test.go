package intake

import (
	"testing"
	"time"

	"blotterdesk/internal/catalog"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedNormalizer() *Normalizer {
	return &Normalizer{
		Now:     func() time.Time { return time.Date(2025, 3, 9, 23, 30, 0, 0, time.UTC) },
		Catalog: catalog.Default(),
	}
}

func TestNormalizeFullRow(t *testing.T) {
	n := fixedNormalizer()
	row := RawRow{
		"barangay":       "talon dos",
		"street":         "Alabang-Zapote Road",
		"typeOfPlace":    "Commercial",
		"dateReported":   "2025-03-01",
		"timeReported":   "08:15",
		"datecommitted":  "2025-02-28",
		"timecommitted":  "10:30 PM",
		"mode_reporting": "In Person",
		"stageoffelony":  "Consummated",
		"Offense":        "Theft",
		"Victim":         "Juan Dela Cruz (25/Male/Harmed/Filipino/Laborer)",
		"suspect":        "John Doe (30/Male/At Large/Filipino/Unemployed)",
		"suspectmotive":  "Financial",
		"narrative":      "Phone snatched near the terminal.",
		"caseStatus":     "Unsolved",
		"lat":            "14.4470",
		"Lng":            "120.9870",
	}

	got, warnings := n.Normalize(row)
	want := Record{
		Barangay:        "Talon Dos",
		Street:          "Alabang-Zapote Road",
		TypeOfPlace:     "Commercial",
		DateReported:    "2025-03-01",
		TimeReported:    "08:15",
		DateCommitted:   "2025-02-28",
		TimeCommitted:   "22:30",
		ModeOfReporting: "In Person",
		StageOfFelony:   "Consummated",
		Offense:         "Theft",
		Victim:          Victim{Name: "Juan Dela Cruz", Age: "25", Gender: "Male", Harmed: "Harmed", Nationality: "Filipino", Occupation: "Laborer"},
		Suspect:         Suspect{Name: "John Doe", Age: "30", Gender: "Male", Status: "At Large", Nationality: "Filipino", Occupation: "Unemployed"},
		SuspectMotive:   "Financial",
		Narrative:       "Phone snatched near the terminal.",
		Status:          "Unsolved",
		Location:        Location{Lat: 14.4470, Lng: 120.9870},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Normalize mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, warnings)
}

func TestNormalizeEmptyRowUsesDefaults(t *testing.T) {
	n := fixedNormalizer()

	got, warnings := n.Normalize(RawRow{"unrelated": "value"})
	want := Record{
		Barangay:        Placeholder,
		Street:          Placeholder,
		TypeOfPlace:     Placeholder,
		DateReported:    "2025-03-09",
		TimeReported:    DefaultTime,
		DateCommitted:   "2025-03-09",
		TimeCommitted:   DefaultTime,
		ModeOfReporting: Placeholder,
		StageOfFelony:   Placeholder,
		Offense:         Placeholder,
		Victim:          EmptyVictim(),
		Suspect:         EmptySuspect(),
		SuspectMotive:   Placeholder,
		Narrative:       Placeholder,
		Status:          DefaultStatus,
		Location:        Location{Lat: DefaultLat, Lng: DefaultLng},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Normalize mismatch (-want +got):\n%s", diff)
	}
	assert.Contains(t, warnings, "location missing or unreadable; default coordinate used")
}

func TestNormalizeTodayFollowsLocation(t *testing.T) {
	n := fixedNormalizer()
	manila, err := time.LoadLocation("Asia/Manila")
	require.NoError(t, err)
	n.Location = manila

	got, _ := n.Normalize(RawRow{})
	assert.Equal(t, "2025-03-10", got.DateReported)
}

func TestNormalizeAliasOrder(t *testing.T) {
	n := fixedNormalizer()

	got, _ := n.Normalize(RawRow{"casestatus": "", "caseStatus": "Pending", "status": "Solved"})
	assert.Equal(t, "Pending", got.Status)

	got, _ = n.Normalize(RawRow{"typeofPlace": "Residential", "TypeofPlace": "Commercial"})
	assert.Equal(t, "Residential", got.TypeOfPlace)
}

func TestNormalizeFoldedHeaders(t *testing.T) {
	n := fixedNormalizer()

	got, _ := n.Normalize(RawRow{
		"Date Reported":     "2025-01-02",
		"CASE_STATUS":       "Ongoing",
		"Mode of Reporting": "Online",
		"Latitude":          "14.45",
		"Longitude":         "120.98",
	})
	assert.Equal(t, "2025-01-02", got.DateReported)
	assert.Equal(t, "Ongoing", got.Status)
	assert.Equal(t, "Online", got.ModeOfReporting)
	assert.Equal(t, Location{Lat: 14.45, Lng: 120.98}, got.Location)
}

func TestNormalizeWhitespaceCellsCountAsEmpty(t *testing.T) {
	n := fixedNormalizer()

	got, _ := n.Normalize(RawRow{"offense": "   ", "Offense": "Robbery"})
	assert.Equal(t, "Robbery", got.Offense)
}

func TestNormalizeWarnings(t *testing.T) {
	n := fixedNormalizer()

	_, warnings := n.Normalize(RawRow{
		"barangay":     "Poblacion",
		"offense":      "Jaywalking",
		"victim":       "A (1/Male), B (2/Female)",
		"dateReported": "last tuesday",
		"caseStatus":   "Closed",
		"lat":          "14.44",
		"lng":          "120.99",
	})
	assert.Contains(t, warnings, `status "Closed" is not in the catalog`)
	assert.Contains(t, warnings, `barangay "Poblacion" is not in the catalog`)
	assert.Contains(t, warnings, `offense "Jaywalking" is not in the catalog`)
	assert.Contains(t, warnings, "victim cell lists 1 more entries; only the first was kept")
	assert.Contains(t, warnings, `dateReported "last tuesday" is not a recognised date`)
}

func TestRunDropsBlankRows(t *testing.T) {
	n := fixedNormalizer()
	rows := []RawRow{
		{"barangay": "", "offense": ""},
		{"barangay": "pilar", "offense": "Theft"},
		{"barangay": "  ", "offense": "\t"},
		{},
		{"barangay": "zapote", "offense": ""},
	}

	entries := n.Run(rows)
	require.Len(t, entries, 2)
	assert.Equal(t, 1, entries[0].Line)
	assert.Equal(t, "Pilar", entries[0].Record.Barangay)
	assert.Equal(t, 2, entries[1].Line)
	assert.Equal(t, "Zapote", entries[1].Record.Barangay)

	// filtering is idempotent
	assert.Len(t, FilterBlank(FilterBlank(rows)), 2)
}

func TestWithDefaultsFillsEveryField(t *testing.T) {
	got := Record{Offense: "Theft", Victim: Victim{Name: "Ana"}}.WithDefaults("2025-01-01")

	assert.Equal(t, "Theft", got.Offense)
	assert.Equal(t, "Ana", got.Victim.Name)
	assert.Equal(t, Placeholder, got.Victim.Age)
	assert.Equal(t, Placeholder, got.Suspect.Name)
	assert.Equal(t, "2025-01-01", got.DateCommitted)
	assert.Equal(t, DefaultTime, got.TimeReported)
	assert.Equal(t, DefaultStatus, got.Status)
	assert.Equal(t, Location{Lat: DefaultLat, Lng: DefaultLng}, got.Location)
}
