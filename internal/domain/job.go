package domain

import (
	"sync"
	"time"
)

// Decision is the reconciliation outcome for one record.
type Decision string

const (
	DecisionCreated   Decision = "created"
	DecisionUpdated   Decision = "updated"
	DecisionUnchanged Decision = "unchanged"
)

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Summary counts per-item outcomes of a batch.
type Summary struct {
	Success   int `json:"success"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
}

func (s Summary) Total() int {
	return s.Success + s.Skipped + s.Errors
}

type Job struct {
	ID         string     `json:"id"`
	Pass       Pass       `json:"pass"`
	Status     JobStatus  `json:"status"`
	Summary    Summary    `json:"summary"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// SummaryCounter accumulates a Summary from concurrent workers.
type SummaryCounter struct {
	mu      sync.Mutex
	summary Summary
}

func (c *SummaryCounter) Success(decision Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.summary.Success++
	switch decision {
	case DecisionCreated:
		c.summary.Created++
	case DecisionUpdated:
		c.summary.Updated++
	case DecisionUnchanged:
		c.summary.Unchanged++
	}
}

func (c *SummaryCounter) Skip() {
	c.mu.Lock()
	c.summary.Skipped++
	c.mu.Unlock()
}

func (c *SummaryCounter) Error() {
	c.mu.Lock()
	c.summary.Errors++
	c.mu.Unlock()
}

func (c *SummaryCounter) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.summary
}
