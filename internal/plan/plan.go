// Package plan partitions a parameter grid into ordered batches that respect
// the simulator's per-calculation capacity limit.
package plan

import (
	"fmt"

	"github.com/drillops/cerberus/internal/grid"
	"github.com/drillops/cerberus/internal/model"
)

// ConfigurationError reports invalid planner parameters.
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string { return e.Msg }

// PlannedBatch is one configure→populate→calculate→collect cycle, covering a
// contiguous slice of the combinatorial sample space. Immutable once planned.
type PlannedBatch struct {
	Mode       model.Mode
	Densities  []float64
	ForceOnEnd []float64
	Depths     []float64

	// ReloadDensity / ReloadForce are set when the batch's density or
	// force-on-end slice differs from the previous batch of the same mode.
	// In the common case where both dimensions fit a single chunk, only the
	// first batch of each mode carries them: the lists stay resident on the
	// simulator across depth chunks.
	ReloadDensity bool
	ReloadForce   bool

	CombinationCount int
	GlobalOffset     int
}

// EndOffset is the half-open upper bound of the batch's global row range.
func (b PlannedBatch) EndOffset() int { return b.GlobalOffset + b.CombinationCount }

// Combination is one realized parameter tuple.
type Combination struct {
	Density    float64
	ForceOnEnd float64
	Depth      float64
}

// Combinations enumerates the batch's cartesian product in the fixed nesting
// order used everywhere: density outermost, force-on-end middle, depth
// innermost (fastest-varying). Returned table rows are re-associated with
// source combinations under the same order.
func (b PlannedBatch) Combinations() []Combination {
	combos := make([]Combination, 0, b.CombinationCount)
	for _, density := range b.Densities {
		for _, force := range b.ForceOnEnd {
			for _, depth := range b.Depths {
				combos = append(combos, Combination{Density: density, ForceOnEnd: force, Depth: depth})
			}
		}
	}
	return combos
}

// TotalRows is the combined combination count of a batch list.
func TotalRows(batches []PlannedBatch) int {
	if len(batches) == 0 {
		return 0
	}
	last := batches[len(batches)-1]
	return last.EndOffset()
}

// Plan emits the ordered batch list for every selected mode whose required
// dimensions (density, depth, and the mode's force-on-end set) are all
// non-empty. Modes missing a required set are skipped entirely. RIH batches
// always precede POOH batches; GlobalOffset accumulates strictly across the
// whole list starting at 0.
func Plan(g *grid.ParameterGrid, modes model.ModeSet, maxBatchSize int) ([]PlannedBatch, error) {
	if maxBatchSize <= 0 {
		return nil, &ConfigurationError{Msg: fmt.Sprintf("max batch size must be positive, got %d", maxBatchSize)}
	}

	var batches []PlannedBatch
	offset := 0
	for _, mode := range model.AllModes {
		if !modes.Contains(mode) {
			continue
		}
		force := g.ForceOnEnd[mode]
		if len(g.Densities) == 0 || len(g.Depths) == 0 || len(force) == 0 {
			continue
		}
		modeBatches, next := planMode(mode, g.Densities, force, g.Depths, maxBatchSize, offset)
		batches = append(batches, modeBatches...)
		offset = next
	}
	return batches, nil
}

func planMode(mode model.Mode, densities, force, depths []float64, maxBatchSize, offset int) ([]PlannedBatch, int) {
	sizes := chunkSizes([]dimension{
		{name: "density", length: len(densities)},
		{name: "force", length: len(force)},
		{name: "depth", length: len(depths)},
	}, maxBatchSize)

	densityChunks := chunkSlice(densities, sizes["density"])
	forceChunks := chunkSlice(force, sizes["force"])
	depthChunks := chunkSlice(depths, sizes["depth"])

	var batches []PlannedBatch
	var prevDensity, prevForce []float64
	for _, densitySlice := range densityChunks {
		for _, forceSlice := range forceChunks {
			for _, depthSlice := range depthChunks {
				count := len(densitySlice) * len(forceSlice) * len(depthSlice)
				batches = append(batches, PlannedBatch{
					Mode:             mode,
					Densities:        densitySlice,
					ForceOnEnd:       forceSlice,
					Depths:           depthSlice,
					ReloadDensity:    !sameValues(densitySlice, prevDensity),
					ReloadForce:      !sameValues(forceSlice, prevForce),
					CombinationCount: count,
					GlobalOffset:     offset,
				})
				offset += count
				prevDensity = densitySlice
				prevForce = forceSlice
			}
		}
	}
	return batches, offset
}

// dimension pairs a name with its value-set size for chunk balancing.
type dimension struct {
	name   string
	length int
}

// chunkSizes assigns each dimension the largest chunk not exceeding its own
// size such that the running product of assigned chunks stays within
// maxBatchSize (minimum 1). Dimensions are processed in descending order of
// natural size; ties keep the density, force, depth declaration order so the
// result is deterministic.
func chunkSizes(dims []dimension, maxBatchSize int) map[string]int {
	ordered := append([]dimension(nil), dims...)
	// Stable insertion sort by descending length.
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && ordered[j].length > ordered[j-1].length; j-- {
			ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
		}
	}

	sizes := make(map[string]int, len(ordered))
	product := 1
	for _, dim := range ordered {
		allowed := maxBatchSize / product
		if allowed < 1 {
			allowed = 1
		}
		size := dim.length
		if size > allowed {
			size = allowed
		}
		if size < 1 {
			size = 1
		}
		sizes[dim.name] = size
		product *= size
	}
	return sizes
}

func chunkSlice(values []float64, size int) [][]float64 {
	var chunks [][]float64
	for start := 0; start < len(values); start += size {
		end := start + size
		if end > len(values) {
			end = len(values)
		}
		chunks = append(chunks, values[start:end])
	}
	return chunks
}

func sameValues(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
