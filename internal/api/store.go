package api

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/samcharles93/tileflow/internal/postprocess"
)

// JobRecord is one completed or failed inference job.
type JobRecord struct {
	ID         string                  `json:"id"`
	Object     string                  `json:"object"`
	Status     string                  `json:"status"`
	CreatedAt  int64                   `json:"created_at"`
	DurationMS int64                   `json:"duration_ms,omitempty"`
	Detections []postprocess.Detection `json:"detections,omitempty"`
	Error      string                  `json:"error,omitempty"`
}

// JobStore keeps finished job records in memory.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*JobRecord
}

func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]*JobRecord)}
}

func (s *JobStore) Create(now time.Time) *JobRecord {
	rec := &JobRecord{
		ID:        "job_" + uuid.NewString(),
		Object:    "inference.job",
		Status:    "in_progress",
		CreatedAt: now.Unix(),
	}
	s.mu.Lock()
	s.jobs[rec.ID] = rec
	s.mu.Unlock()
	return rec
}

func (s *JobStore) Update(rec *JobRecord) {
	s.mu.Lock()
	s.jobs[rec.ID] = rec
	s.mu.Unlock()
}

func (s *JobStore) Get(id string) (*JobRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[id]
	return rec, ok
}
