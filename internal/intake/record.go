// Package intake turns loosely structured station spreadsheets into canonical
// crime-report records.
package intake

import (
	"encoding/json"
	"fmt"
	"io"
)

const (
	Placeholder   = "N/A"
	DefaultTime   = "00:00"
	DefaultStatus = "Solved"
	DefaultLat    = 14.4445
	DefaultLng    = 120.9939

	// ExportFileName is the download name of an exported batch.
	ExportFileName = "crime-reports.json"
)

type Location struct {
	Lat float64 `json:"lat" bson:"lat"`
	Lng float64 `json:"lng" bson:"lng"`
}

type Victim struct {
	Name        string `json:"name" bson:"name"`
	Age         string `json:"age" bson:"age"`
	Gender      string `json:"gender" bson:"gender"`
	Harmed      string `json:"harmed" bson:"harmed"`
	Nationality string `json:"nationality" bson:"nationality"`
	Occupation  string `json:"occupation" bson:"occupation"`
}

type Suspect struct {
	Name        string `json:"name" bson:"name"`
	Age         string `json:"age" bson:"age"`
	Gender      string `json:"gender" bson:"gender"`
	Status      string `json:"status" bson:"status"`
	Nationality string `json:"nationality" bson:"nationality"`
	Occupation  string `json:"occupation" bson:"occupation"`
}

// Record is the canonical report shape shared by the review queue, the
// report store and the JSON export.
type Record struct {
	Barangay        string   `json:"barangay" bson:"barangay"`
	Street          string   `json:"street" bson:"street"`
	TypeOfPlace     string   `json:"typeOfPlace" bson:"type_of_place"`
	DateReported    string   `json:"dateReported" bson:"date_reported"`
	TimeReported    string   `json:"timeReported" bson:"time_reported"`
	DateCommitted   string   `json:"dateCommitted" bson:"date_committed"`
	TimeCommitted   string   `json:"timeCommitted" bson:"time_committed"`
	ModeOfReporting string   `json:"modeOfReporting" bson:"mode_of_reporting"`
	StageOfFelony   string   `json:"stageOfFelony" bson:"stage_of_felony"`
	Offense         string   `json:"offense" bson:"offense"`
	Victim          Victim   `json:"victim" bson:"victim"`
	Suspect         Suspect  `json:"suspect" bson:"suspect"`
	SuspectMotive   string   `json:"suspectMotive" bson:"suspect_motive"`
	Narrative       string   `json:"narrative" bson:"narrative"`
	Status          string   `json:"status" bson:"status"`
	Location        Location `json:"location" bson:"location"`
}

func EmptyVictim() Victim {
	return Victim{Name: Placeholder, Age: Placeholder, Gender: Placeholder, Harmed: Placeholder, Nationality: Placeholder, Occupation: Placeholder}
}

func EmptySuspect() Suspect {
	return Suspect{Name: Placeholder, Age: Placeholder, Gender: Placeholder, Status: Placeholder, Nationality: Placeholder, Occupation: Placeholder}
}

// WithDefaults returns a copy of r where every empty field carries its
// placeholder or default. today is the YYYY-MM-DD used for missing dates.
func (r Record) WithDefaults(today string) Record {
	orDefault := func(value *string, fallback string) {
		if *value == "" {
			*value = fallback
		}
	}
	orDefault(&r.Barangay, Placeholder)
	orDefault(&r.Street, Placeholder)
	orDefault(&r.TypeOfPlace, Placeholder)
	orDefault(&r.DateReported, today)
	orDefault(&r.TimeReported, DefaultTime)
	orDefault(&r.DateCommitted, today)
	orDefault(&r.TimeCommitted, DefaultTime)
	orDefault(&r.ModeOfReporting, Placeholder)
	orDefault(&r.StageOfFelony, Placeholder)
	orDefault(&r.Offense, Placeholder)
	orDefault(&r.SuspectMotive, Placeholder)
	orDefault(&r.Narrative, Placeholder)
	orDefault(&r.Status, DefaultStatus)

	for _, field := range []*string{&r.Victim.Name, &r.Victim.Age, &r.Victim.Gender, &r.Victim.Harmed, &r.Victim.Nationality, &r.Victim.Occupation} {
		orDefault(field, Placeholder)
	}
	for _, field := range []*string{&r.Suspect.Name, &r.Suspect.Age, &r.Suspect.Gender, &r.Suspect.Status, &r.Suspect.Nationality, &r.Suspect.Occupation} {
		orDefault(field, Placeholder)
	}

	if r.Location.Lat == 0 || r.Location.Lng == 0 {
		r.Location = Location{Lat: DefaultLat, Lng: DefaultLng}
	}
	return r
}

// EncodeJSON writes records as an indented JSON array.
func EncodeJSON(w io.Writer, records []Record) error {
	if records == nil {
		records = []Record{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

// DecodeJSON reads an array previously written by EncodeJSON.
func DecodeJSON(r io.Reader) ([]Record, error) {
	var records []Record
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	return records, nil
}
