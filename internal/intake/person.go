package intake

import (
	"regexp"
	"strings"
)

// personPattern matches "Name (a/b/c/...)"; text after the closing paren is ignored.
var personPattern = regexp.MustCompile(`^(.+?)\s*\(([^)]+)\)`)

// personFields is the decoded form of a compound victim or suspect cell.
// Attrs holds age, gender, harmed-or-status, nationality and occupation.
type personFields struct {
	Name  string
	Attrs [5]string
	// Extra counts comma separated entries after the first one.
	Extra int
}

func parsePerson(raw string) personFields {
	out := personFields{Name: Placeholder}
	for i := range out.Attrs {
		out.Attrs[i] = Placeholder
	}

	segments := strings.Split(raw, ",")
	for _, segment := range segments[1:] {
		if strings.TrimSpace(segment) != "" {
			out.Extra++
		}
	}

	first := strings.TrimSpace(segments[0])
	if first == "" || first == "-" {
		return out
	}

	match := personPattern.FindStringSubmatch(first)
	if match == nil {
		out.Name = first
		return out
	}

	if name := strings.TrimSpace(match[1]); name != "" {
		out.Name = name
	}
	details := strings.Split(match[2], "/")
	for i := range out.Attrs {
		if i >= len(details) {
			break
		}
		if value := strings.TrimSpace(details[i]); value != "" {
			out.Attrs[i] = value
		}
	}
	return out
}

// ParseVictim decodes "Name (age/gender/harmed/nationality/occupation)".
// Only the first comma separated entry is kept.
func ParseVictim(raw string) Victim {
	return parsePerson(raw).victim()
}

// ParseSuspect decodes "Name (age/gender/status/nationality/occupation)".
func ParseSuspect(raw string) Suspect {
	return parsePerson(raw).suspect()
}

func (p personFields) victim() Victim {
	return Victim{
		Name:        p.Name,
		Age:         p.Attrs[0],
		Gender:      p.Attrs[1],
		Harmed:      p.Attrs[2],
		Nationality: p.Attrs[3],
		Occupation:  p.Attrs[4],
	}
}

func (p personFields) suspect() Suspect {
	return Suspect{
		Name:        p.Name,
		Age:         p.Attrs[0],
		Gender:      p.Attrs[1],
		Status:      p.Attrs[2],
		Nationality: p.Attrs[3],
		Occupation:  p.Attrs[4],
	}
}
