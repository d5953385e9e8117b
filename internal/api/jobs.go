package api

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"pdfnotes/internal/models"
)

const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusComplete   = "complete"
	JobStatusFailed     = "failed"
)

// AnalysisJob tracks a background analysis that the frontend polls.
type AnalysisJob struct {
	ID         string           `json:"jobId"`
	DocumentID int64            `json:"documentId"`
	Status     string           `json:"status"`
	CreatedAt  time.Time        `json:"createdAt"`
	UpdatedAt  time.Time        `json:"updatedAt"`
	Result     *models.Analysis `json:"result,omitempty"`
	Error      string           `json:"error,omitempty"`
}

type JobManager struct {
	mu   sync.RWMutex
	jobs map[string]*AnalysisJob
	now  func() time.Time
}

func NewJobManager() *JobManager {
	return &JobManager{
		jobs: make(map[string]*AnalysisJob),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (m *JobManager) CreateJob(documentID int64) (string, *AnalysisJob) {
	now := m.now()
	job := &AnalysisJob{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		Status:     JobStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	return job.ID, job.clone()
}

func (m *JobManager) GetJob(id string) (*AnalysisJob, bool) {
	m.mu.RLock()
	job, ok := m.jobs[id]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return job.clone(), true
}

func (m *JobManager) MarkProcessing(id string) {
	m.withJob(id, func(job *AnalysisJob) {
		job.Status = JobStatusProcessing
	})
}

func (m *JobManager) MarkCompleted(id string, result models.Analysis) {
	m.withJob(id, func(job *AnalysisJob) {
		job.Status = JobStatusComplete
		job.Result = &result
		job.Error = ""
	})
}

func (m *JobManager) MarkFailed(id string, msg string) {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		msg = "analysis failed"
	}
	m.withJob(id, func(job *AnalysisJob) {
		job.Status = JobStatusFailed
		job.Error = msg
	})
}

// Prune drops finished jobs last updated before the cutoff and returns how
// many were removed. Pending and running jobs are kept.
func (m *JobManager) Prune(olderThan time.Duration) int {
	cutoff := m.now().Add(-olderThan)

	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, job := range m.jobs {
		if job.Status != JobStatusComplete && job.Status != JobStatusFailed {
			continue
		}
		if job.UpdatedAt.Before(cutoff) {
			delete(m.jobs, id)
			removed++
		}
	}
	return removed
}

func (m *JobManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.jobs)
}

func (m *JobManager) withJob(id string, fn func(job *AnalysisJob)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return
	}
	fn(job)
	job.UpdatedAt = m.now()
}

func (job *AnalysisJob) clone() *AnalysisJob {
	if job == nil {
		return nil
	}
	copyJob := *job
	if job.Result != nil {
		res := *job.Result
		copyJob.Result = &res
	}
	return &copyJob
}
