// Package grid converts raw sensitivity input rows into the deduplicated,
// sorted per-dimension value sets a scan is planned from.
package grid

import (
	"fmt"
	"sort"
	"strings"

	"github.com/drillops/cerberus/internal/model"
)

// ParameterGrid holds the distinct values for each physical dimension.
// Sequences are ascending-sorted and strictly deduplicated, so two
// permutations of the same input rows always produce the same grid.
type ParameterGrid struct {
	Densities  []float64
	Depths     []float64
	ForceOnEnd map[model.Mode][]float64
}

// ValidationError reports input rows from which no scannable dimension set
// could be recovered. It is raised before any external interaction.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("no numeric values survived normalization for required dimension(s): %s",
		strings.Join(e.Missing, ", "))
}

// Build constructs a grid from raw rows. Missing, blank, or non-numeric
// values are dropped without error; a row contributing no valid values
// simply does not extend any dimension. Build fails only when no mode could
// ever be planned: density or depth empty, or both force-on-end sets empty.
func Build(rows []model.InputRow) (*ParameterGrid, error) {
	var densities, depths, rih, pooh []float64
	for _, row := range rows {
		densities = appendValue(densities, row.Density)
		depths = appendValue(depths, row.Depth)
		rih = appendValue(rih, row.ForceRIH)
		pooh = appendValue(pooh, row.ForcePOOH)
	}
	sort.Float64s(densities)
	sort.Float64s(depths)
	sort.Float64s(rih)
	sort.Float64s(pooh)

	var missing []string
	if len(densities) == 0 {
		missing = append(missing, "density")
	}
	if len(depths) == 0 {
		missing = append(missing, "depth")
	}
	if len(rih) == 0 && len(pooh) == 0 {
		missing = append(missing, "force-on-end (RIH or POOH)")
	}
	if len(missing) > 0 {
		return nil, &ValidationError{Missing: missing}
	}

	return &ParameterGrid{
		Densities: densities,
		Depths:    depths,
		ForceOnEnd: map[model.Mode][]float64{
			model.ModeRIH:  rih,
			model.ModePOOH: pooh,
		},
	}, nil
}

func appendValue(values []float64, raw string) []float64 {
	v, ok := ParseValue(raw)
	if !ok {
		return values
	}
	for _, existing := range values {
		if existing == v {
			return values
		}
	}
	return append(values, v)
}
