package scheduler

// Outcome is the result of a shutdown attempt.
type Outcome int

const (
	// OutcomeNotEligible means the instance is in the DefaultOn group.
	OutcomeNotEligible Outcome = iota
	// OutcomeStopped means a stop was issued and the policy persisted.
	OutcomeStopped
	// OutcomeDeferred means the deadline has not been reached.
	OutcomeDeferred
	// OutcomeUnknown covers group values outside the known set.
	OutcomeUnknown
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNotEligible:
		return "not-eligible"
	case OutcomeStopped:
		return "stopped"
	case OutcomeDeferred:
		return "deferred"
	default:
		return "unknown"
	}
}

// ShutdownResult carries the outcome and, when deferred or stopped, the
// stored deadline.
type ShutdownResult struct {
	Outcome Outcome `json:"outcome"`
	OffAt   string  `json:"offtime,omitempty"`
}
