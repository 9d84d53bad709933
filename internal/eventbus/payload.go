package eventbus

import "time"

// Candidate is the announced form of a net-new item.
type Candidate struct {
	Fingerprint string            `json:"fingerprint"`
	URL         string            `json:"url,omitempty"`
	Fields      map[string]string `json:"fields,omitempty"`
	FirstSeenAt time.Time         `json:"first_seen_at"`
}

// JobPayload accompanies job_queued, job_started and job_succeeded.
type JobPayload struct {
	Attempt int  `json:"attempt"`
	Forced  bool `json:"forced,omitempty"`
	// Found is the number of raw candidates returned by the agent (job_succeeded only).
	Found int `json:"found,omitempty"`
}

// RetryPayload accompanies job_retrying.
type RetryPayload struct {
	Attempt int           `json:"attempt"`
	After   time.Duration `json:"after"`
	Kind    string        `json:"kind"`
	Error   string        `json:"error"`
}

// FailurePayload accompanies job_failed.
type FailurePayload struct {
	Attempt int    `json:"attempt"`
	Kind    string `json:"kind"`
	Error   string `json:"error"`
}

// CandidatesPayload accompanies candidates_found.
type CandidatesPayload struct {
	SearchName string      `json:"search_name,omitempty"`
	Candidates []Candidate `json:"candidates"`
}

// DeferPayload accompanies search_deferred_idle and search_deferred_concurrency.
type DeferPayload struct {
	Attempt int    `json:"attempt"`
	Reason  string `json:"reason"`
}
