package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store keeps runs in memory. The processor writes to it while the status server reads.
type Store struct {
	mu      sync.RWMutex
	runs    map[string]*Run
	current string
	cancels map[string]context.CancelFunc
}

// NewStore creates a new run store
func NewStore() *Store {
	return &Store{
		runs:    make(map[string]*Run),
		cancels: make(map[string]context.CancelFunc),
	}
}

// Start registers a new running run and makes it current. Returns its ID.
func (s *Store) Start(dedupe bool) string {
	now := time.Now()
	r := &Run{
		ID:        uuid.New().String(),
		Status:    StatusRunning,
		Dedupe:    dedupe,
		StartedAt: &now,
		Streams:   make(map[string]*StreamStats),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[r.ID] = r
	s.current = r.ID
	return r.ID
}

// Get returns a copy of a run by ID
func (s *Store) Get(id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	return r.clone(), nil
}

// Current returns a copy of the most recently started run
func (s *Store) Current() (*Run, error) {
	s.mu.RLock()
	id := s.current
	s.mu.RUnlock()

	if id == "" {
		return nil, fmt.Errorf("no run started")
	}
	return s.Get(id)
}

// ErrRunFinished is returned when a finished run would change status
var ErrRunFinished = errors.New("run already finished")

// UpdateStatus updates run status and sets FinishedAt on terminal statuses.
// A finished run keeps its status; repeating the same status is a no-op.
func (s *Store) UpdateStatus(id string, status RunStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[id]
	if !ok {
		return fmt.Errorf("run not found: %s", id)
	}
	if r.Finished() {
		if r.Status == status {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrRunFinished, r.Status)
	}

	r.Status = status
	if r.Finished() && r.FinishedAt == nil {
		now := time.Now()
		r.FinishedAt = &now
	}
	return nil
}

// UpdateError updates run error message
func (s *Store) UpdateError(id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[id]
	if !ok {
		return
	}

	if err != nil {
		r.LastError = err.Error()
	} else {
		r.LastError = ""
	}
}

// RegisterStream records the database a stream is written to
func (s *Store) RegisterStream(id, stream, databaseID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st := s.stream(id, stream); st != nil {
		st.DatabaseID = databaseID
	}
}

// AddRecordsRead increments the records read for a stream
func (s *Store) AddRecordsRead(id, stream string, n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st := s.stream(id, stream); st != nil {
		st.RecordsRead += n
	}
}

// AddPages adds created and skipped pages for a stream
func (s *Store) AddPages(id, stream string, created, skipped int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st := s.stream(id, stream); st != nil {
		st.PagesCreated += created
		st.PagesSkipped += skipped
	}
}

// UpdateBatchProgress records that batchNo of a stream was started (sent=false) or finished
func (s *Store) UpdateBatchProgress(id, stream string, batchNo int64, sent bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stream(id, stream)
	if st == nil {
		return
	}
	st.CurrentBatchNo = batchNo
	if sent {
		st.BatchesSent++
	}
}

// IncStatesEmitted counts a state message written to stdout
func (s *Store) IncStatesEmitted(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.runs[id]; ok {
		r.StatesEmitted++
	}
}

// stream returns the stats for a stream, creating them on first use. Caller holds mu.
func (s *Store) stream(id, stream string) *StreamStats {
	r, ok := s.runs[id]
	if !ok {
		return nil
	}
	st, ok := r.Streams[stream]
	if !ok {
		st = &StreamStats{Stream: stream}
		r.Streams[stream] = st
	}
	return st
}

// SetCancel registers a cancel function for a run
func (s *Store) SetCancel(id string, cf context.CancelFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[id]; !ok {
		return fmt.Errorf("run not found: %s", id)
	}

	s.cancels[id] = cf
	return nil
}

// ClearCancel removes cancel function for a run
func (s *Store) ClearCancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.cancels, id)
}

// Cancel cancels a running run
func (s *Store) Cancel(id string) error {
	var cf context.CancelFunc

	s.mu.Lock()
	r, ok := s.runs[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("run not found: %s", id)
	}

	if r.Finished() {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrRunFinished, r.Status)
	}

	if cancelFunc, exists := s.cancels[id]; exists {
		cf = cancelFunc
	}

	r.Status = StatusCanceled
	now := time.Now()
	r.FinishedAt = &now
	s.mu.Unlock()

	// Call cancel function outside of lock
	if cf != nil {
		cf()
	}

	return nil
}
