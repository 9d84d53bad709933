package scheduler

import "time"

// State is a ScanJob lifecycle state.
type State string

const (
	StateQueued    State = "queued"
	StateAdmitted  State = "admitted"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateTimedOut  State = "timed_out"
	StateRetrying  State = "retrying"
	StateDone      State = "done"
)

var transitions = map[State][]State{
	StateQueued:    {StateAdmitted},
	StateAdmitted:  {StateRunning},
	StateRunning:   {StateSucceeded, StateFailed, StateTimedOut},
	StateFailed:    {StateRetrying, StateDone},
	StateTimedOut:  {StateRetrying, StateFailed},
	StateRetrying:  {StateAdmitted},
	StateSucceeded: {StateDone},
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Job is one scan cycle of a search, including its retries.
type Job struct {
	ID         string     `json:"id"`
	SearchID   string     `json:"search_id"`
	State      State      `json:"state"`
	Attempt    int        `json:"attempt"` // failed attempts so far
	Forced     bool       `json:"forced,omitempty"`
	QueuedAt   time.Time  `json:"queued_at"`
	StartedAt  time.Time  `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	RetryAt    time.Time  `json:"retry_at,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
	// Outcome is set once State is done: succeeded or failed.
	Outcome State `json:"outcome,omitempty"`

	seq     uint64
	gen     uint64 // registry generation of the search at admission
	history []State
}

// to advances the job; an illegal step leaves it unchanged and returns false.
func (j *Job) to(s State) bool {
	if !CanTransition(j.State, s) {
		return false
	}
	j.State = s
	j.history = append(j.history, s)
	return true
}

func (j *Job) copy() Job {
	c := *j
	c.history = append([]State(nil), j.history...)
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	return c
}

// History returns the states the job went through, starting with queued.
func (j Job) History() []State { return append([]State(nil), j.history...) }
