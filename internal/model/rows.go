package model

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// InputRow is one raw sensitivity input row as entered by the user. Fields
// hold the raw text: normalization (locale separators, blanks, placeholder
// dashes) happens in the grid builder, so a row is never rejected here.
type InputRow struct {
	Density   string `yaml:"density" json:"density"`
	Sleeve    string `yaml:"sleeve,omitempty" json:"sleeve,omitempty"`
	Depth     string `yaml:"depth" json:"depth"`
	ForceRIH  string `yaml:"foe_rih" json:"foe_rih"`
	ForcePOOH string `yaml:"foe_pooh" json:"foe_pooh"`
}

// ResultRow is one collected simulator result, re-indexed to its global
// position within the full combinatorial sample space.
type ResultRow struct {
	GlobalIndex int               `json:"global_index"`
	Mode        Mode              `json:"mode"`
	BatchIndex  int               `json:"batch_index"` // 1-based within the mode
	Values      map[string]string `json:"values"`      // column label -> cell text
}

// inputHeaderAliases maps normalized CSV header names to InputRow fields.
// Covers both the canonical names and the captions the original worksheet
// exports use ("Density of Pipe Fluid (PPG)", "RIH-WOB", ...).
var inputHeaderAliases = map[string]string{
	"density":               "density",
	"densityofpipefluidppg": "density",
	"pipefluiddensity":      "density",
	"sleeve":                "sleeve",
	"inputsleeve":           "sleeve",
	"sleevenumber":          "sleeve",
	"depth":                 "depth",
	"inputdepthft":          "depth",
	"foerih":                "foe_rih",
	"rihwob":                "foe_rih",
	"stretchfoerih":         "foe_rih",
	"foepooh":               "foe_pooh",
	"poohwob":               "foe_pooh",
	"stretchfoepooh":        "foe_pooh",
	"forceonendrih":         "foe_rih",
	"forceonendpooh":        "foe_pooh",
}

func normalizeHeader(value string) string {
	var b strings.Builder
	for _, ch := range strings.ToLower(value) {
		if ch >= 'a' && ch <= 'z' || ch >= '0' && ch <= '9' {
			b.WriteRune(ch)
		}
	}
	return b.String()
}

// ReadInputCSV parses sensitivity input rows from CSV. The first record is
// treated as a header; unrecognized columns are ignored. Cell values are
// carried through verbatim for the grid builder to normalize.
func ReadInputCSV(r io.Reader) ([]InputRow, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read input csv: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("input csv is empty")
	}

	fields := make(map[int]string)
	for i, header := range records[0] {
		if field, ok := inputHeaderAliases[normalizeHeader(header)]; ok {
			fields[i] = field
		}
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("input csv has no recognized columns (got header %q)", strings.Join(records[0], ","))
	}

	rows := make([]InputRow, 0, len(records)-1)
	for _, record := range records[1:] {
		var row InputRow
		for i, cell := range record {
			switch fields[i] {
			case "density":
				row.Density = strings.TrimSpace(cell)
			case "sleeve":
				row.Sleeve = strings.TrimSpace(cell)
			case "depth":
				row.Depth = strings.TrimSpace(cell)
			case "foe_rih":
				row.ForceRIH = strings.TrimSpace(cell)
			case "foe_pooh":
				row.ForcePOOH = strings.TrimSpace(cell)
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
