// internal/models/job.go
package models

import "time"

// Job is one Execution Scheduler entry.
type Job struct {
	ID         string            `json:"id"`
	TaskType   string            `json:"taskType"`
	ContractID string            `json:"contractId"`
	NotBefore  time.Time         `json:"notBefore"`
	Attempt    int               `json:"attempt"`
	Payload    map[string]string `json:"payload,omitempty"`
	EnqueuedAt time.Time         `json:"enqueuedAt"`
}
