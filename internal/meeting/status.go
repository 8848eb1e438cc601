package meeting

// Status is the meeting lifecycle state. Transitions are monotonic:
// not-started → in-progress → completed, with no back-transitions; a fresh
// start after completion begins a new meeting rather than rewinding the old
// one.
type Status string

const (
	StatusNotStarted Status = "not-started"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
)
