package job

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type Kind string

const (
	KindSync    Kind = "sync"
	KindRefresh Kind = "refresh"
)

// RefreshSource is the source key of price refresh jobs.
const RefreshSource = "refresh"

// Lifecycle events passed to an EventSink.
const (
	EventStarted   = "started"
	EventCompleted = "completed"
)

type Job struct {
	ID         string     `json:"jobId"`
	SourceKey  string     `json:"sourceKey"`
	SourceName string     `json:"sourceName"`
	Kind       Kind       `json:"kind"`
	Mode       string     `json:"mode,omitempty"`
	Status     Status     `json:"status"`
	StartTime  *time.Time `json:"startTime"`
	EndTime    *time.Time `json:"endTime"`
	Result     any        `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	// After lists jobs that must finish before this one is claimed.
	After      []string   `json:"after,omitempty"`

	seq uint64
}

// Duration is the wall time between start and end, or zero while the job
// has not finished.
func (j *Job) Duration() time.Duration {
	if j.StartTime == nil || j.EndTime == nil {
		return 0
	}
	return j.EndTime.Sub(*j.StartTime)
}

type ListFilter struct {
	Status    Status
	SourceKey string
	Limit     int
	Offset    int
}

type Page struct {
	Jobs   []Job `json:"jobs"`
	Total  int   `json:"total"`
	Offset int   `json:"offset"`
	Limit  int   `json:"limit"`
}

type Stats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}
