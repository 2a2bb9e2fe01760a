// Package model defines the data structures for Cerberus' configuration,
// scan inputs, and result rows.
package model

// Mode is one of the two mutually exclusive operating configurations of the
// simulator: running in hole or pulling out of hole. Each mode has its own
// force-on-end dimension and checkbox configuration.
type Mode string

const (
	ModeRIH  Mode = "RIH"
	ModePOOH Mode = "POOH"
)

// AllModes lists the modes in planning order: RIH batches are always emitted
// before POOH batches.
var AllModes = []Mode{ModeRIH, ModePOOH}

// ModeSet selects which modes a scan should cover. The zero value selects
// every mode.
type ModeSet struct {
	modes map[Mode]bool
}

// NewModeSet builds a selector covering exactly the given modes. With no
// arguments the selector covers all modes.
func NewModeSet(modes ...Mode) ModeSet {
	if len(modes) == 0 {
		return ModeSet{}
	}
	set := make(map[Mode]bool, len(modes))
	for _, m := range modes {
		set[m] = true
	}
	return ModeSet{modes: set}
}

// Contains reports whether the selector covers m.
func (s ModeSet) Contains(m Mode) bool {
	if s.modes == nil {
		return true
	}
	return s.modes[m]
}

// Names returns the selected mode names in planning order.
func (s ModeSet) Names() []string {
	var names []string
	for _, m := range AllModes {
		if s.Contains(m) {
			names = append(names, string(m))
		}
	}
	return names
}
