package zone

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

const maxCodeLength = 8

var ErrMissingColumns = errors.New("zone sheet missing code or name column")

// ImportOptions names the header columns holding the code and the name.
// Matching is case-insensitive.
type ImportOptions struct {
	CodeColumn string
	NameColumn string
	Comma      rune
}

func DefaultImportOptions() ImportOptions {
	return ImportOptions{CodeColumn: "SYSCOL_Commune", NameColumn: "Commune", Comma: ','}
}

// Import reads a zone sheet exported as CSV. Codes keep their digits
// only, truncated to 8; names are upper-cased; the first row for a code
// wins; the result is sorted by name.
func Import(r io.Reader, opts ImportOptions) ([]Zone, error) {
	reader := csv.NewReader(r)
	if opts.Comma != 0 {
		reader.Comma = opts.Comma
	}
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	codeIndex, nameIndex := -1, -1
	for i, column := range header {
		column = strings.TrimSpace(strings.TrimPrefix(column, "\ufeff"))
		switch {
		case strings.EqualFold(column, opts.CodeColumn):
			codeIndex = i
		case strings.EqualFold(column, opts.NameColumn):
			nameIndex = i
		}
	}
	if codeIndex < 0 || nameIndex < 0 {
		return nil, ErrMissingColumns
	}

	seen := make(map[string]struct{})
	zones := []Zone{}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		if codeIndex >= len(record) || nameIndex >= len(record) {
			continue
		}
		code := normalizeCode(record[codeIndex])
		name := strings.ToUpper(strings.TrimSpace(record[nameIndex]))
		if code == "" || name == "" {
			continue
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		zones = append(zones, Zone{Code: code, Name: name})
	}
	SortByName(zones)
	return zones, nil
}

// WriteCatalog encodes zones in the catalog file format.
func WriteCatalog(w io.Writer, zones []Zone) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	encoder.SetEscapeHTML(false)
	return encoder.Encode(zones)
}

func normalizeCode(raw string) string {
	var builder strings.Builder
	for _, r := range raw {
		if r < '0' || r > '9' {
			continue
		}
		builder.WriteRune(r)
		if builder.Len() == maxCodeLength {
			break
		}
	}
	return builder.String()
}
