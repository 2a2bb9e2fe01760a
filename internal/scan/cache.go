package scan

// Logical parameter keys for the value-list identity cache. Force-on-end is
// cached per mode because the two modes load different lists into the same
// on-screen row.
const (
	cacheKeyDensity   = "density"
	cacheKeyDepth     = "depth"
	cacheKeyForceRIH  = "foe_rih"
	cacheKeyForcePOOH = "foe_pooh"
)

// valueCache remembers the last value tuple loaded for each logical
// parameter key so an unchanged list is never re-sent. It lives for exactly
// one scan invocation and is only touched by the orchestrator's own
// goroutine.
type valueCache struct {
	loaded map[string][]float64
}

func newValueCache() *valueCache {
	return &valueCache{loaded: make(map[string][]float64)}
}

// Current reports whether key already holds exactly these values.
func (c *valueCache) Current(key string, values []float64) bool {
	last, ok := c.loaded[key]
	if !ok || len(last) != len(values) {
		return false
	}
	for i := range values {
		if last[i] != values[i] {
			return false
		}
	}
	return true
}

// Store records values as the loaded tuple for key.
func (c *valueCache) Store(key string, values []float64) {
	c.loaded[key] = append([]float64(nil), values...)
}
