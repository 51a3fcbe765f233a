package blocker

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryService is an in-process Service used when no database is configured.
type MemoryService struct {
	mu       sync.Mutex
	blockers map[string]*Blocker
}

// NewMemoryService creates an empty in-memory blocker service.
func NewMemoryService() *MemoryService {
	return &MemoryService{blockers: make(map[string]*Blocker)}
}

// CreateBlocker records a new open blocker for a task.
func (s *MemoryService) CreateBlocker(taskID, reason, details string) (*Blocker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := &Blocker{
		ID:        uuid.New().String()[:8],
		TaskID:    taskID,
		Reason:    reason,
		Details:   details,
		Status:    StatusOpen,
		CreatedAt: time.Now(),
	}
	s.blockers[b.ID] = b
	copied := *b
	return &copied, nil
}

// ResolveBlocker marks an open blocker resolved.
func (s *MemoryService) ResolveBlocker(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.blockers[id]
	if !ok {
		return fmt.Errorf("blocker %s not found", id)
	}
	if b.Status != StatusOpen {
		return fmt.Errorf("blocker %s is not open", id)
	}
	now := time.Now()
	b.Status = StatusResolved
	b.ResolvedAt = &now
	return nil
}

// ListOpenBlockers returns all open blockers, newest first.
func (s *MemoryService) ListOpenBlockers() ([]Blocker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var open []Blocker
	for _, b := range s.blockers {
		if b.Status == StatusOpen {
			open = append(open, *b)
		}
	}
	sort.Slice(open, func(i, j int) bool {
		if !open[i].CreatedAt.Equal(open[j].CreatedAt) {
			return open[i].CreatedAt.After(open[j].CreatedAt)
		}
		return open[i].ID < open[j].ID
	})
	return open, nil
}

var _ Service = (*MemoryService)(nil)
