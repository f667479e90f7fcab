package intake

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseVictim(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Victim
	}{
		{
			name: "full descriptor",
			raw:  "Juan Dela Cruz (25/Male/Harmed/Filipino/Laborer)",
			want: Victim{Name: "Juan Dela Cruz", Age: "25", Gender: "Male", Harmed: "Harmed", Nationality: "Filipino", Occupation: "Laborer"},
		},
		{
			name: "dash placeholder",
			raw:  "-",
			want: EmptyVictim(),
		},
		{
			name: "empty",
			raw:  "",
			want: EmptyVictim(),
		},
		{
			name: "name only",
			raw:  "Unknown Person",
			want: Victim{Name: "Unknown Person", Age: Placeholder, Gender: Placeholder, Harmed: Placeholder, Nationality: Placeholder, Occupation: Placeholder},
		},
		{
			name: "short attribute list",
			raw:  "Maria Santos ( 31 / Female )",
			want: Victim{Name: "Maria Santos", Age: "31", Gender: "Female", Harmed: Placeholder, Nationality: Placeholder, Occupation: Placeholder},
		},
		{
			name: "empty positions",
			raw:  "Pedro (40//Unharmed//Driver)",
			want: Victim{Name: "Pedro", Age: "40", Gender: Placeholder, Harmed: "Unharmed", Nationality: Placeholder, Occupation: "Driver"},
		},
		{
			name: "only the first of several victims",
			raw:  "Ana Reyes (19/Female/Harmed/Filipino/Student), Ben Cruz (22/Male/Unharmed/Filipino/Vendor)",
			want: Victim{Name: "Ana Reyes", Age: "19", Gender: "Female", Harmed: "Harmed", Nationality: "Filipino", Occupation: "Student"},
		},
		{
			name: "comma inside parentheses breaks the descriptor",
			raw:  "Lito (50/Male/Harmed/Filipino/Farmer, Driver)",
			want: Victim{Name: "Lito (50/Male/Harmed/Filipino/Farmer", Age: Placeholder, Gender: Placeholder, Harmed: Placeholder, Nationality: Placeholder, Occupation: Placeholder},
		},
		{
			name: "leading empty segment",
			raw:  ", Someone",
			want: EmptyVictim(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseVictim(tt.raw)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("ParseVictim(%q) mismatch (-want +got):\n%s", tt.raw, diff)
			}
		})
	}
}

func TestParseSuspectUsesStatusPosition(t *testing.T) {
	got := ParseSuspect("John Doe (30/Male/At Large/Filipino/Unemployed)")
	want := Suspect{Name: "John Doe", Age: "30", Gender: "Male", Status: "At Large", Nationality: "Filipino", Occupation: "Unemployed"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("ParseSuspect mismatch (-want +got):\n%s", diff)
	}
}

func TestParsePersonCountsDroppedEntries(t *testing.T) {
	p := parsePerson("A (1), B (2), , C")
	if p.Extra != 2 {
		t.Fatalf("expected 2 dropped entries, got %d", p.Extra)
	}
}
