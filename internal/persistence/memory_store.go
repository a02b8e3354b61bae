package persistence

import (
	"context"
	"sync"

	"github.com/mlaakso/orka/pkg/api"
)

// InMemoryStore is a goroutine-safe implementation of InstanceStore,
// HistoryStore and EventStore backed by maps. It is not durable and is
// intended for tests and the local runner.
type InMemoryStore struct {
	mu        sync.RWMutex
	instances map[string]*api.WorkflowInstance
	history   map[string][]api.HistoryEvent
	waiters   map[string]map[string]struct{}
	buffered  map[string]map[string][]any
}

// NewInMemoryStore creates a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		instances: make(map[string]*api.WorkflowInstance),
		history:   make(map[string][]api.HistoryEvent),
		waiters:   make(map[string]map[string]struct{}),
		buffered:  make(map[string]map[string][]any),
	}
}

// Ensure InMemoryStore implements the interfaces.
var _ InstanceStore = (*InMemoryStore)(nil)

var _ HistoryStore = (*InMemoryStore)(nil)

var _ EventStore = (*InMemoryStore)(nil)

// Bundle returns a Persistence backed entirely by this store.
func (s *InMemoryStore) Bundle() Persistence {
	return Persistence{Instances: s, History: s, Events: s}
}

func (s *InMemoryStore) CreateInstance(inst *api.WorkflowInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.instances[inst.ID]; ok {
		return ErrDuplicateInstance
	}

	copied := *inst
	s.instances[inst.ID] = &copied
	return nil
}

func (s *InMemoryStore) UpdateInstance(inst *api.WorkflowInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.instances[inst.ID]; !ok {
		return ErrInstanceNotFound
	}

	copied := *inst
	s.instances[inst.ID] = &copied
	return nil
}

func (s *InMemoryStore) GetInstance(id string) (*api.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.instances[id]
	if !ok {
		return nil, ErrInstanceNotFound
	}

	copied := *inst
	return &copied, nil
}

func (s *InMemoryStore) ListInstances(filter InstanceFilter) ([]*api.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*api.WorkflowInstance

	for _, inst := range s.instances {
		if filter.Workflow != "" && inst.Workflow != filter.Workflow {
			continue
		}
		if filter.Status != "" && inst.Status != filter.Status {
			continue
		}
		copied := *inst
		result = append(result, &copied)
	}

	return result, nil
}

func (s *InMemoryStore) AppendEvents(ctx context.Context, instanceID string, events []api.HistoryEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history[instanceID] = append(s.history[instanceID], events...)
	return nil
}

func (s *InMemoryStore) ListEvents(ctx context.Context, instanceID string) ([]api.HistoryEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.history[instanceID]
	out := make([]api.HistoryEvent, len(events))
	copy(out, events)
	return out, nil
}

func (s *InMemoryStore) RegisterWaiter(ctx context.Context, instanceID, eventName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byName := s.waiters[instanceID]
	if byName == nil {
		byName = make(map[string]struct{})
		s.waiters[instanceID] = byName
	}
	byName[eventName] = struct{}{}
	return nil
}

func (s *InMemoryStore) RemoveWaiter(ctx context.Context, instanceID, eventName string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byName := s.waiters[instanceID]
	if _, ok := byName[eventName]; !ok {
		return false, nil
	}
	delete(byName, eventName)
	return true, nil
}

func (s *InMemoryStore) BufferEvent(ctx context.Context, instanceID, eventName string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byName := s.buffered[instanceID]
	if byName == nil {
		byName = make(map[string][]any)
		s.buffered[instanceID] = byName
	}
	byName[eventName] = append(byName[eventName], payload)
	return nil
}

func (s *InMemoryStore) TakeBufferedEvent(ctx context.Context, instanceID, eventName string) (any, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byName := s.buffered[instanceID]
	queue := byName[eventName]
	if len(queue) == 0 {
		return nil, false, nil
	}
	payload := queue[0]
	byName[eventName] = queue[1:]
	return payload, true, nil
}
