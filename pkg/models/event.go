package models

// EventKind discriminates run events.
type EventKind string

const (
	EventProgress  EventKind = "progress"
	EventCompleted EventKind = "completed"
	EventCancelled EventKind = "cancelled"
	EventFailed    EventKind = "failed"
)

// Event is an immutable notification emitted by a simulation run.
// Exactly one of the payload fields is meaningful for each kind.
type Event struct {
	Kind       EventKind        `json:"kind"`
	TrialsDone int              `json:"trials_done,omitempty"`
	Result     *AggregateResult `json:"result,omitempty"`
	Checkpoint *Checkpoint      `json:"checkpoint,omitempty"`
	ErrorKind  ErrorKind        `json:"error_kind,omitempty"`
	Message    string           `json:"message,omitempty"`
}

// IsTerminal reports whether e ends the event stream.
func (e Event) IsTerminal() bool {
	return e.Kind != EventProgress
}

// Status maps a terminal event to the run status it produces.
func (e Event) Status() RunStatus {
	switch e.Kind {
	case EventCompleted:
		return RunStatusCompleted
	case EventCancelled:
		return RunStatusCancelled
	case EventFailed:
		return RunStatusFailed
	default:
		return RunStatusRunning
	}
}

// Outcome is the synchronous result of a simulation: exactly one of Result,
// Checkpoint is set when err is nil.
type Outcome struct {
	Result     *AggregateResult `json:"result,omitempty"`
	Checkpoint *Checkpoint      `json:"checkpoint,omitempty"`
	Seed       int64            `json:"seed"`
	TrialsRun  int              `json:"trials_run"`
	Degenerate int              `json:"degenerate"`
}

// Cancelled reports whether the simulation stopped before exhausting its trials.
func (o *Outcome) Cancelled() bool {
	return o != nil && o.Checkpoint != nil
}
