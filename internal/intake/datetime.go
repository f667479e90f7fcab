package intake

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

const dateLayout = "2006-01-02"

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"1/2/2006",
	"01/02/2006",
	"1/2/06",
	"01/02/06",
	"1-2-2006",
	"01-02-2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"2 January 2006",
	"Jan 2 2006",
	"January 2 2006",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"1/2/2006 15:04",
	"1/2/2006 3:04 PM",
	time.RFC3339,
}

var timeLayouts = []string{
	"15:04",
	"15:04:05",
	"3:04 PM",
	"3:04PM",
	"3:04:05 PM",
	"3:04 pm",
	"3:04pm",
	"3 PM",
	"3PM",
	"3 pm",
	"3pm",
}

// NormalizeDate rewrites a recognised date as YYYY-MM-DD. Excel serial
// numbers are accepted. ok is false when value is kept as-is.
func NormalizeDate(value string) (string, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}

	if serial, err := strconv.ParseFloat(value, 64); err == nil {
		// 1954-10-03 .. 2119-01-09; keeps plain years from reading as serials
		if serial >= 20000 && serial <= 80000 {
			if parsed, err := excelize.ExcelDateToTime(serial, false); err == nil {
				return parsed.Format(dateLayout), true
			}
		}
		return value, false
	}

	for _, layout := range dateLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.Format(dateLayout), true
		}
	}
	return value, false
}

// NormalizeTime rewrites a recognised clock time as 24h HH:MM. Day
// fractions from spreadsheets (0.5 is noon) and compact "1430" are accepted.
func NormalizeTime(value string) (string, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}

	if len(value) == 4 && isDigits(value) {
		hours, _ := strconv.Atoi(value[:2])
		minutes, _ := strconv.Atoi(value[2:])
		if hours < 24 && minutes < 60 {
			return value[:2] + ":" + value[2:], true
		}
		return value, false
	}

	if fraction, err := strconv.ParseFloat(value, 64); err == nil {
		if fraction >= 0 && fraction < 1 {
			total := int(math.Round(fraction * 24 * 60))
			if total == 24*60 {
				total = 0
			}
			return time.Date(2000, 1, 1, total/60, total%60, 0, 0, time.UTC).Format("15:04"), true
		}
		return value, false
	}

	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.Format("15:04"), true
		}
	}
	return value, false
}

func isDigits(value string) bool {
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return value != ""
}
