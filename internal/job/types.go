package job

import (
	"time"
)

// RunStatus represents the status of a target run
type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusSucceeded RunStatus = "succeeded"
	StatusFailed    RunStatus = "failed"
	StatusCanceled  RunStatus = "canceled"
)

// Run is one invocation of the target, from the first message to end of input
type Run struct {
	ID            string                  `json:"id"`
	Status        RunStatus               `json:"status"`
	Dedupe        bool                    `json:"dedupe"`
	StartedAt     *time.Time              `json:"startedAt,omitempty"`
	FinishedAt    *time.Time              `json:"finishedAt,omitempty"`
	LastError     string                  `json:"lastError,omitempty"`
	StatesEmitted int64                   `json:"statesEmitted"`
	Streams       map[string]*StreamStats `json:"streams"`
}

// StreamStats holds progress counters for one stream
type StreamStats struct {
	Stream         string `json:"stream"`
	DatabaseID     string `json:"databaseId"`
	RecordsRead    int64  `json:"recordsRead"`
	PagesCreated   int64  `json:"pagesCreated"`
	PagesSkipped   int64  `json:"pagesSkipped"`
	BatchesSent    int64  `json:"batchesSent"`
	CurrentBatchNo int64  `json:"currentBatchNo"`
}

// Finished reports whether the run reached a terminal status
func (r *Run) Finished() bool {
	return r.Status == StatusSucceeded || r.Status == StatusFailed || r.Status == StatusCanceled
}

// clone returns a deep copy safe to hand out of the store
func (r *Run) clone() *Run {
	c := *r
	c.Streams = make(map[string]*StreamStats, len(r.Streams))
	for k, v := range r.Streams {
		s := *v
		c.Streams[k] = &s
	}
	return &c
}
