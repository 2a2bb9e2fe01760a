package scan

// State is the orchestrator's current phase. The per-batch cycle of
// PreparingMode through Collecting repeats until the plan is exhausted,
// cancellation is observed between batches, or a scan-fatal error occurs.
type State int

const (
	StateIdle State = iota
	StateInitializing
	StatePreparingMode
	StatePopulatingValues
	StateCalculating
	StateCollecting
	StateCompleted
	StateCancelled
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:             "idle",
	StateInitializing:     "initializing",
	StatePreparingMode:    "preparing_mode",
	StatePopulatingValues: "populating_values",
	StateCalculating:      "calculating",
	StateCollecting:       "collecting",
	StateCompleted:        "completed",
	StateCancelled:        "cancelled",
	StateFailed:           "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether the scan has finished, one way or another.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}
