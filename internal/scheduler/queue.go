// Package scheduler runs delayed jobs: contract execution rechecks and loan
// repayments. Jobs are ordered by (notBefore, enqueue order).
package scheduler

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"settlement-engine/internal/models"
)

// Queue stores jobs until they are due.
type Queue interface {
	Push(ctx context.Context, job models.Job) error
	// PopDue removes and returns up to max jobs with NotBefore <= now.
	PopDue(ctx context.Context, now time.Time, max int) ([]models.Job, error)
	Len(ctx context.Context) (int, error)
	// Scheduled returns the contract ids with a queued job of taskType.
	Scheduled(ctx context.Context, taskType string) (map[string]struct{}, error)
}

type queued struct {
	job models.Job
	seq uint64
}

type jobHeap []queued

func (h jobHeap) Len() int { return len(h) }
func (h jobHeap) Less(i, j int) bool {
	if !h[i].job.NotBefore.Equal(h[j].job.NotBefore) {
		return h[i].job.NotBefore.Before(h[j].job.NotBefore)
	}
	return h[i].seq < h[j].seq
}
func (h jobHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *jobHeap) Push(x interface{}) { *h = append(*h, x.(queued)) }
func (h *jobHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// MemoryQueue is a process-local Queue. Jobs do not survive a restart.
type MemoryQueue struct {
	mu   sync.Mutex
	jobs jobHeap
	seq  uint64
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Push(_ context.Context, job models.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	heap.Push(&q.jobs, queued{job: cloneJob(job), seq: q.seq})
	return nil
}

func (q *MemoryQueue) PopDue(_ context.Context, now time.Time, max int) ([]models.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []models.Job
	for len(q.jobs) > 0 && len(out) < max && !q.jobs[0].job.NotBefore.After(now) {
		out = append(out, heap.Pop(&q.jobs).(queued).job)
	}
	return out, nil
}

func (q *MemoryQueue) Len(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs), nil
}

func (q *MemoryQueue) Scheduled(_ context.Context, taskType string) (map[string]struct{}, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[string]struct{})
	for _, item := range q.jobs {
		if item.job.TaskType == taskType {
			out[item.job.ContractID] = struct{}{}
		}
	}
	return out, nil
}

func cloneJob(job models.Job) models.Job {
	if job.Payload != nil {
		payload := make(map[string]string, len(job.Payload))
		for k, v := range job.Payload {
			payload[k] = v
		}
		job.Payload = payload
	}
	return job
}
