package retry

import "time"

// DefaultBackoff is indexed by the retry count after the failed attempt, saturating at the last step.
func DefaultBackoff() []time.Duration {
	return []time.Duration{
		5 * time.Minute,
		15 * time.Minute,
		60 * time.Minute,
		240 * time.Minute,
		1440 * time.Minute,
	}
}

type Planner struct {
	steps []time.Duration
}

// NewPlanner copies steps; empty or non-positive entries fall back to DefaultBackoff.
func NewPlanner(steps []time.Duration) *Planner {
	def := DefaultBackoff()
	if len(steps) == 0 {
		return &Planner{steps: def}
	}
	out := make([]time.Duration, len(steps))
	for i, d := range steps {
		if d <= 0 {
			d = def[min(i, len(def)-1)]
		}
		out[i] = d
	}
	return &Planner{steps: out}
}

// Delay is a pure function of the new retry count.
func (p *Planner) Delay(retryCount int) time.Duration {
	switch {
	case retryCount <= 0:
		return p.steps[0]
	case retryCount >= len(p.steps):
		return p.steps[len(p.steps)-1]
	default:
		return p.steps[retryCount]
	}
}
