package intake

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var (
	ErrNoData          = errors.New("no data found in file")
	ErrUnsupportedFile = errors.New("unsupported file type")
)

// candidateDelimiters are probed in order; ties keep the earlier one.
var candidateDelimiters = []rune{'\t', ',', '|', ';'}

const delimiterSampleRows = 10

// SupportedExtension reports whether filename can be staged.
func SupportedExtension(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv", ".tsv", ".txt", ".xlsx", ".xlsm", ".xls", ".json":
		return true
	}
	return false
}

// ReadRows parses an uploaded file into header-keyed rows. Delimited text
// gets its delimiter detected; spreadsheets use their first sheet.
func ReadRows(r io.Reader, filename string) ([]RawRow, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrNoData
	}

	var grid [][]string
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".xlsx", ".xlsm":
		grid, err = readWorkbook(data)
	case ".xls":
		grid, err = readLegacyWorkbook(data)
	case ".csv", ".tsv", ".txt", "":
		grid, err = readDelimited(data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFile, ext)
	}
	if err != nil {
		return nil, err
	}
	return rowsFromGrid(grid)
}

// Process reads and normalizes a file. A JSON file is taken as a previous
// export and only has its defaults filled.
func (n *Normalizer) Process(r io.Reader, filename string) ([]Entry, error) {
	if strings.EqualFold(filepath.Ext(filename), ".json") {
		records, err := DecodeJSON(r)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, ErrNoData
		}
		today := n.today()
		entries := make([]Entry, len(records))
		for i, rec := range records {
			entries[i] = Entry{Line: i + 1, Record: rec.WithDefaults(today), Warnings: []string{}}
		}
		return entries, nil
	}

	rows, err := ReadRows(r, filename)
	if err != nil {
		return nil, err
	}
	return n.Run(rows), nil
}

// ProcessFile is Process over a file on disk.
func (n *Normalizer) ProcessFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return n.Process(f, filepath.Base(path))
}

// decodeText strips a UTF-8 BOM, transcodes BOM-marked UTF-16 and falls back
// to Windows-1252 for bytes that are not valid UTF-8.
func decodeText(data []byte) ([]byte, error) {
	hasBOM := bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}) ||
		bytes.HasPrefix(data, []byte{0xFE, 0xFF}) ||
		bytes.HasPrefix(data, []byte{0xFF, 0xFE})
	if !hasBOM && !utf8.Valid(data) {
		out, _, err := transform.Bytes(charmap.Windows1252.NewDecoder(), data)
		return out, err
	}
	out, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), data)
	return out, err
}

func newDelimitedReader(text []byte, delimiter rune) *csv.Reader {
	reader := csv.NewReader(bytes.NewReader(text))
	reader.Comma = delimiter
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	return reader
}

// DetectDelimiter picks the candidate giving the most consistent field
// count (and, on a tie, the most fields) over the first rows. Comma is
// returned when no candidate splits rows into at least two fields.
func DetectDelimiter(text []byte) rune {
	best := ','
	bestDelta := -1
	bestAvg := 0.0

	for _, delimiter := range candidateDelimiters {
		reader := newDelimitedReader(text, delimiter)
		counts := make([]int, 0, delimiterSampleRows)
		for len(counts) < delimiterSampleRows {
			record, err := reader.Read()
			if err != nil {
				break
			}
			counts = append(counts, len(record))
		}
		if len(counts) == 0 {
			continue
		}

		delta, total := 0, counts[0]
		for i := 1; i < len(counts); i++ {
			delta += int(math.Abs(float64(counts[i] - counts[i-1])))
			total += counts[i]
		}
		avg := float64(total) / float64(len(counts))
		if avg <= 1.99 {
			continue
		}
		if bestDelta < 0 || delta < bestDelta || (delta == bestDelta && avg > bestAvg) {
			best, bestDelta, bestAvg = delimiter, delta, avg
		}
	}
	return best
}

func readDelimited(data []byte) ([][]string, error) {
	text, err := decodeText(data)
	if err != nil {
		return nil, fmt.Errorf("decode text: %w", err)
	}
	reader := newDelimitedReader(text, DetectDelimiter(text))
	grid, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse delimited file: %w", err)
	}
	return grid, nil
}

func readWorkbook(data []byte) ([][]string, error) {
	file, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = file.Close() }()

	sheetName := file.GetSheetName(0)
	if sheetName == "" {
		return nil, fmt.Errorf("no worksheet found")
	}
	return file.GetRows(sheetName)
}

// readLegacyWorkbook reads the first sheet of a BIFF workbook, like
// readWorkbook does for xlsx.
func readLegacyWorkbook(data []byte) ([][]string, error) {
	workbook, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	sheet := workbook.GetSheet(0)
	if sheet == nil {
		return nil, fmt.Errorf("no worksheet found")
	}
	return legacyGrid(int(sheet.MaxRow), func(i int) ([]string, bool) {
		return legacyRowCells(sheet, i)
	}), nil
}

// legacyGrid collects rows 0..maxRow. Rows the sheet never recorded stay nil
// so that line positions are kept.
func legacyGrid(maxRow int, rowAt func(i int) ([]string, bool)) [][]string {
	grid := make([][]string, maxRow+1)
	for i := 0; i <= maxRow; i++ {
		if cells, ok := rowAt(i); ok {
			grid[i] = cells
		}
	}
	return grid
}

// legacyRowCells returns the cells of row i with trailing blanks removed.
// xls.WorkSheet.Row panics for rows that have no record.
func legacyRowCells(sheet *xls.WorkSheet, i int) (cells []string, ok bool) {
	defer func() {
		if recover() != nil {
			cells, ok = nil, false
		}
	}()
	row := sheet.Row(i)
	if row == nil {
		return nil, false
	}
	cells = make([]string, 0, row.LastCol()+1)
	for col := 0; col <= row.LastCol(); col++ {
		cells = append(cells, row.Col(col))
	}
	for len(cells) > 0 && strings.TrimSpace(cells[len(cells)-1]) == "" {
		cells = cells[:len(cells)-1]
	}
	return cells, true
}

func blankCells(cells []string) bool {
	for _, cell := range cells {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// rowsFromGrid keys each data row by the first non-blank row, whose names
// are trimmed and made unique.
func rowsFromGrid(grid [][]string) ([]RawRow, error) {
	headerIdx := -1
	for i, cells := range grid {
		if !blankCells(cells) {
			headerIdx = i
			break
		}
	}
	if headerIdx < 0 {
		return nil, ErrNoData
	}

	headers := uniqueHeaders(grid[headerIdx])
	rows := make([]RawRow, 0, len(grid)-headerIdx-1)
	for _, cells := range grid[headerIdx+1:] {
		row := make(RawRow, len(headers))
		for i, header := range headers {
			if i < len(cells) {
				row[header] = cells[i]
			}
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, ErrNoData
	}
	return rows, nil
}

// uniqueHeaders trims names, fills blanks as column_N and suffixes
// repeats. Generated names never reuse a name that appears in the header
// row itself.
func uniqueHeaders(raw []string) []string {
	names := make([]string, len(raw))
	reserved := make(map[string]bool, len(raw))
	for i, name := range raw {
		name = strings.TrimSpace(name)
		if name == "" {
			name = "column_" + strconv.Itoa(i+1)
		}
		names[i] = name
		reserved[name] = true
	}

	used := make(map[string]bool, len(raw))
	headers := make([]string, len(raw))
	for i, name := range names {
		if used[name] {
			base := name
			for n := 1; ; n++ {
				name = base + "_" + strconv.Itoa(n)
				if !used[name] && !reserved[name] {
					break
				}
			}
		}
		used[name] = true
		headers[i] = name
	}
	return headers
}
