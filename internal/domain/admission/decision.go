package admission

// Decision is the outcome of an admission check.
type Decision uint8

// Admission outcomes.
const (
	Admit Decision = iota
	Defer
	Drop
)

func (d Decision) String() string {
	switch d {
	case Admit:
		return "admit"
	case Defer:
		return "defer"
	case Drop:
		return "drop"
	default:
		return "unknown"
	}
}

// Level is the estimated load.
type Level uint8

// Load levels, lowest first.
const (
	LevelNormal Level = iota
	LevelElevated
	LevelHigh
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelNormal:
		return "normal"
	case LevelElevated:
		return "elevated"
	case LevelHigh:
		return "high"
	case LevelCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// SampleKind selects which estimator a sample feeds.
type SampleKind uint8

// Sample streams.
const (
	SampleGap SampleKind = iota
	SampleLatency
	SampleOutbound
)

func (k SampleKind) String() string {
	switch k {
	case SampleGap:
		return "gap"
	case SampleLatency:
		return "latency"
	case SampleOutbound:
		return "outbound"
	default:
		return "unknown"
	}
}
