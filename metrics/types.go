package metrics

// Policy selects how values reported under one name are aggregated, and
// therefore which prometheus collector backs the name.
type Policy int

const (
	PolicyNone      Policy = iota
	PolicySet              // gauge, last value wins
	PolicySum              // counter
	PolicyStopwatch        // histogram of seconds
)

// String returns the prometheus metric kind for p.
func (p Policy) String() string {
	switch p {
	case PolicySet:
		return "gauge"
	case PolicySum:
		return "counter"
	case PolicyStopwatch:
		return "histogram"
	default:
		return "none"
	}
}

// Value is a metric sample.
type Value float64

// Dimension holds label pairs, e.g. role or error_type.
type Dimension map[string]string

// With returns a copy of d with key set to val.
func (d Dimension) With(key, val string) Dimension {
	out := make(Dimension, len(d)+1)
	for k, v := range d {
		out[k] = v
	}
	out[key] = val
	return out
}
