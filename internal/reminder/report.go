package reminder

import (
	"time"
)

// Outcome is the result of the single attempt made for one recipient.
type Outcome struct {
	ChatID int64
	Err    error // nil on success; kind DeliveryFailed otherwise
}

func (o Outcome) OK() bool { return o.Err == nil }

// Report summarizes one fan-out run. Outcomes follow the input order.
type Report struct {
	RunID    string
	Attempts int
	Failures int
	Outcomes []Outcome
	Duration time.Duration
}

// Failed returns the outcomes that did not succeed.
func (r Report) Failed() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if !o.OK() {
			out = append(out, o)
		}
	}
	return out
}

func (r Report) Sent() int { return r.Attempts - r.Failures }
