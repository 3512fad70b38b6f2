package neo

type Outcome int

const (
	// Fresh states were normalized from a payload fetched in this cycle.
	Fresh Outcome = iota
	// Cached states are the previous snapshot served in degraded mode.
	Cached
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Fresh:
		return "fresh"
	case Cached:
		return "cached"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result of one refresh cycle. State is set for Fresh and Cached, Err for
// Failed and, as the cause of degradation, for Cached.
type Result struct {
	Outcome Outcome
	State   *State
	Err     error
}

func (r Result) Unwrap() (*State, error) {
	if r.Outcome == Failed {
		return nil, r.Err
	}
	return r.State, nil
}

func (r Result) Degraded() bool {
	return r.Outcome == Cached
}
