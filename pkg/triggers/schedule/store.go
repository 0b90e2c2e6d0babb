package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"
)

// Store persists materialized schedules.
type Store interface {
	SaveSchedule(ctx context.Context, schedule *Schedule) error
	ScheduleByWorkflowID(ctx context.Context, workflowID string) (*Schedule, error)
	DueSchedules(ctx context.Context, now time.Time) ([]*Schedule, error)
	DeleteByWorkflowID(ctx context.Context, workflowID string) error
}

// NewStore builds a schedule store from a URL. Supported schemes are
// memory:// and file://.
func NewStore(storeURL string) (Store, error) {
	switch {
	case storeURL == "" || strings.HasPrefix(storeURL, "memory://"):
		return NewMemoryStore(), nil
	case strings.HasPrefix(storeURL, "file://"):
		return NewFileStore(strings.TrimPrefix(storeURL, "file://")), nil
	default:
		return nil, fmt.Errorf("unsupported schedule store url: %s", storeURL)
	}
}

// MemoryStore keeps schedules in a map, keyed by workflow id.
type MemoryStore struct {
	mu        sync.RWMutex
	schedules map[string]*Schedule
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{schedules: make(map[string]*Schedule)}
}

func (s *MemoryStore) SaveSchedule(_ context.Context, schedule *Schedule) error {
	if err := schedule.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *schedule
	s.schedules[schedule.WorkflowID] = &copied

	return nil
}

func (s *MemoryStore) ScheduleByWorkflowID(_ context.Context, workflowID string) (*Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	schedule, exists := s.schedules[workflowID]
	if !exists {
		return nil, nil
	}

	copied := *schedule

	return &copied, nil
}

func (s *MemoryStore) DueSchedules(_ context.Context, now time.Time) ([]*Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	due := make([]*Schedule, 0)

	for _, schedule := range s.schedules {
		if schedule.IsDue(now) {
			copied := *schedule
			due = append(due, &copied)
		}
	}

	sort.Slice(due, func(i, j int) bool {
		return due[i].NextDueAt.Before(due[j].NextDueAt)
	})

	return due, nil
}

func (s *MemoryStore) DeleteByWorkflowID(_ context.Context, workflowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.schedules, workflowID)

	return nil
}

// FileStore keeps one JSON file per schedule under root/schedules.
type FileStore struct {
	root string
	mu   sync.Mutex
}

func NewFileStore(root string) *FileStore {
	return &FileStore{root: root}
}

func (s *FileStore) dir() string {
	return path.Join(s.root, "schedules")
}

func (s *FileStore) SaveSchedule(_ context.Context, schedule *Schedule) error {
	if err := schedule.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir(), 0750); err != nil {
		return fmt.Errorf("failed to create schedules directory: %w", err)
	}

	data, err := json.MarshalIndent(schedule, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal schedule for workflow %s: %w", schedule.WorkflowID, err)
	}

	return os.WriteFile(path.Join(s.dir(), schedule.WorkflowID+".json"), data, 0600)
}

func (s *FileStore) ScheduleByWorkflowID(_ context.Context, workflowID string) (*Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.read(workflowID)
}

func (s *FileStore) read(workflowID string) (*Schedule, error) {
	body, err := os.ReadFile(path.Join(s.dir(), workflowID+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read schedule for workflow %s: %w", workflowID, err)
	}

	var schedule Schedule
	if err := json.Unmarshal(body, &schedule); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schedule for workflow %s: %w", workflowID, err)
	}

	return &schedule, nil
}

func (s *FileStore) DueSchedules(_ context.Context, now time.Time) ([]*Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}

	due := make([]*Schedule, 0)

	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		schedule, err := s.read(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			return nil, err
		}

		if schedule != nil && schedule.IsDue(now) {
			due = append(due, schedule)
		}
	}

	sort.Slice(due, func(i, j int) bool {
		return due[i].NextDueAt.Before(due[j].NextDueAt)
	})

	return due, nil
}

func (s *FileStore) DeleteByWorkflowID(_ context.Context, workflowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(path.Join(s.dir(), workflowID+".json"))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete schedule for workflow %s: %w", workflowID, err)
	}

	return nil
}
