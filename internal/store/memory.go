package store

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-memory ClaimStore and JobStore implementing the same
// conditional-write contract as DynamoStore. It backs unit tests and the
// local one-shot CLI mode; nothing survives the process.
type MemoryStore struct {
	mu      sync.Mutex
	claims  map[string]*Claim
	jobs    map[string]*Job
	history map[string][]HistoryEntry
}

// Compile-time interface checks.
var (
	_ ClaimStore = (*MemoryStore)(nil)
	_ JobStore   = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		claims:  make(map[string]*Claim),
		jobs:    make(map[string]*Job),
		history: make(map[string][]HistoryEntry),
	}
}

// --- Claim operations ---

func (s *MemoryStore) InsertClaim(_ context.Context, claim *Claim) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.claims[claim.FingerprintKey]; exists {
		return ErrClaimExists
	}

	c := *claim
	if c.ClaimedAt == 0 {
		c.ClaimedAt = time.Now().UnixMilli()
	}
	if c.State == "" {
		c.State = ClaimClaimed
	}
	s.claims[claim.FingerprintKey] = &c
	return nil
}

func (s *MemoryStore) GetClaim(_ context.Context, fingerprintKey string) (*Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.claims[fingerprintKey]
	if !ok {
		return nil, nil
	}
	out := *c
	return &out, nil
}

func (s *MemoryStore) MarkProcessed(_ context.Context, fingerprintKey, resultKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.claims[fingerprintKey]
	if !ok {
		return fmt.Errorf("mark claim %s processed: no such claim", fingerprintKey)
	}
	c.State = ClaimProcessed
	c.ResultKey = resultKey
	c.ProcessedAt = time.Now().UnixMilli()
	return nil
}

func (s *MemoryStore) TakeOverClaim(_ context.Context, fingerprintKey, previousJobID, newJobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.claims[fingerprintKey]
	if !ok || c.State != ClaimClaimed || c.JobID != previousJobID {
		return ErrClaimConflict
	}
	c.JobID = newJobID
	c.ClaimedAt = time.Now().UnixMilli()
	return nil
}

// --- Job operations ---

func (s *MemoryStore) CreateJob(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return ErrJobExists
	}

	j := *job
	now := time.Now().UnixMilli()
	if j.CreatedAt == 0 {
		j.CreatedAt = now
	}
	if j.UpdatedAt == 0 {
		j.UpdatedAt = now
	}
	if j.Status == "" {
		j.Status = StatusQueued
	}
	s.jobs[job.ID] = &j
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, jobID string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return nil, nil
	}
	out := *j
	return &out, nil
}

func (s *MemoryStore) TransitionJob(_ context.Context, jobID string, from, to JobStatus, errMsg string) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("illegal job transition %s -> %s for %s", from, to, jobID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok || j.Status != from {
		return ErrStatusConflict
	}

	now := time.Now().UnixMilli()
	j.Status = to
	j.UpdatedAt = now
	if errMsg != "" {
		j.Error = errMsg
	}

	s.history[jobID] = append(s.history[jobID], HistoryEntry{
		Seq:   len(s.history[jobID]) + 1,
		From:  from,
		To:    to,
		Error: errMsg,
		At:    now,
	})
	return nil
}

func (s *MemoryStore) SetJobResult(_ context.Context, jobID, resultKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("set job %s result: no such job", jobID)
	}
	j.ResultKey = resultKey
	j.UpdatedAt = time.Now().UnixMilli()
	return nil
}

func (s *MemoryStore) GetJobHistory(_ context.Context, jobID string) ([]HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]HistoryEntry, len(s.history[jobID]))
	copy(entries, s.history[jobID])
	return entries, nil
}
