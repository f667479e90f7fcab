// Package catalog holds the reference lists shared by the intake pipeline,
// the manual filing form and the dashboard filters.
package catalog

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var catalogYAML []byte

// OffenseCategory groups offenses the way the station blotter does.
type OffenseCategory struct {
	Label    string   `yaml:"label" json:"label"`
	Offenses []string `yaml:"offenses" json:"offenses"`
}

// Catalog is the decoded reference document.
type Catalog struct {
	Barangays         []string          `yaml:"barangays" json:"barangays"`
	BarangayAliases   map[string]string `yaml:"barangayAliases" json:"-"`
	OffenseCategories []OffenseCategory `yaml:"offenseCategories" json:"offenseCategories"`
	TypesOfPlace      []string          `yaml:"typesOfPlace" json:"typesOfPlace"`
	ModesOfReporting  []string          `yaml:"modesOfReporting" json:"modesOfReporting"`
	StagesOfFelony    []string          `yaml:"stagesOfFelony" json:"stagesOfFelony"`
	Genders           []string          `yaml:"genders" json:"genders"`
	VictimHarm        []string          `yaml:"victimHarm" json:"victimHarm"`
	SuspectStatuses   []string          `yaml:"suspectStatuses" json:"suspectStatuses"`
	CaseStatuses      []string          `yaml:"caseStatuses" json:"caseStatuses"`

	barangayIndex map[string]string
	offenseIndex  map[string]offenseEntry
}

type offenseEntry struct {
	name     string
	category string
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
)

// Parse decodes a catalog document and builds its lookup indexes.
func Parse(raw []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if len(c.Barangays) == 0 {
		return nil, fmt.Errorf("catalog has no barangays")
	}
	if len(c.CaseStatuses) == 0 {
		return nil, fmt.Errorf("catalog has no case statuses")
	}

	c.barangayIndex = make(map[string]string, len(c.Barangays)+len(c.BarangayAliases))
	for _, name := range c.Barangays {
		c.barangayIndex[foldName(name)] = name
	}
	for alias, name := range c.BarangayAliases {
		c.barangayIndex[foldName(alias)] = name
	}

	c.offenseIndex = make(map[string]offenseEntry)
	for _, category := range c.OffenseCategories {
		for _, offense := range category.Offenses {
			c.offenseIndex[foldName(offense)] = offenseEntry{name: offense, category: category.Label}
		}
	}
	return &c, nil
}

// Load decodes the embedded catalog.
func Load() (*Catalog, error) {
	return Parse(catalogYAML)
}

// Default returns the embedded catalog, decoded once.
func Default() *Catalog {
	defaultOnce.Do(func() {
		c, err := Load()
		if err != nil {
			panic(err)
		}
		defaultCatalog = c
	})
	return defaultCatalog
}

func foldName(value string) string {
	return strings.Join(strings.Fields(strings.ToLower(value)), " ")
}

// CanonicalBarangay resolves a barangay name or known alias, case-insensitively.
func (c *Catalog) CanonicalBarangay(name string) (string, bool) {
	canonical, ok := c.barangayIndex[foldName(name)]
	return canonical, ok
}

func (c *Catalog) IsBarangay(name string) bool {
	_, ok := c.CanonicalBarangay(name)
	return ok
}

// OffenseCategory returns the category label for an offense.
func (c *Catalog) OffenseCategory(offense string) (string, bool) {
	entry, ok := c.offenseIndex[foldName(offense)]
	if !ok {
		return "", false
	}
	return entry.category, true
}

func (c *Catalog) IsOffense(offense string) bool {
	_, ok := c.offenseIndex[foldName(offense)]
	return ok
}

// OffensesIn lists the offenses of a category, matched case-insensitively.
// Unknown categories yield nil.
func (c *Catalog) OffensesIn(category string) []string {
	for _, entry := range c.OffenseCategories {
		if strings.EqualFold(entry.Label, strings.TrimSpace(category)) {
			out := make([]string, len(entry.Offenses))
			copy(out, entry.Offenses)
			return out
		}
	}
	return nil
}

// CanonicalCaseStatus maps any casing of a case status onto the catalog spelling.
func (c *Catalog) CanonicalCaseStatus(status string) (string, bool) {
	return matchFold(c.CaseStatuses, status)
}

func (c *Catalog) CanonicalTypeOfPlace(value string) (string, bool) {
	return matchFold(c.TypesOfPlace, value)
}

func (c *Catalog) CanonicalModeOfReporting(value string) (string, bool) {
	return matchFold(c.ModesOfReporting, value)
}

func (c *Catalog) CanonicalStageOfFelony(value string) (string, bool) {
	return matchFold(c.StagesOfFelony, value)
}

func matchFold(list []string, value string) (string, bool) {
	value = strings.TrimSpace(value)
	for _, entry := range list {
		if strings.EqualFold(entry, value) {
			return entry, true
		}
	}
	return "", false
}
