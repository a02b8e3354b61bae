package engine

import (
	"fmt"
	"sync"

	"github.com/mlaakso/orka/pkg/api"
)

// registry maps orchestration and activity type names to their code. It is
// populated at startup and read-only thereafter; the lock exists only to
// keep concurrent registration during init safe.
type registry struct {
	mu             sync.RWMutex
	orchestrations map[string]api.OrchestrationDefinition
	activities     map[string]api.ActivityDefinition
}

func newRegistry() *registry {
	return &registry{
		orchestrations: make(map[string]api.OrchestrationDefinition),
		activities:     make(map[string]api.ActivityDefinition),
	}
}

func (r *registry) RegisterOrchestration(def api.OrchestrationDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("orchestration name is required")
	}
	if def.Fn == nil {
		return fmt.Errorf("orchestration %q has nil function", def.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.orchestrations[def.Name]; exists {
		return fmt.Errorf("orchestration already registered: %s", def.Name)
	}
	r.orchestrations[def.Name] = def
	return nil
}

func (r *registry) RegisterActivity(def api.ActivityDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("activity name is required")
	}
	if def.Fn == nil {
		return fmt.Errorf("activity %q has nil function", def.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.activities[def.Name]; exists {
		return fmt.Errorf("activity already registered: %s", def.Name)
	}
	r.activities[def.Name] = def
	return nil
}

func (r *registry) Orchestration(name string) (api.OrchestrationDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.orchestrations[name]
	if !ok {
		return api.OrchestrationDefinition{}, fmt.Errorf("unknown orchestration: %s", name)
	}
	return def, nil
}

func (r *registry) Activity(name string) (api.ActivityDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.activities[name]
	if !ok {
		return api.ActivityDefinition{}, fmt.Errorf("unknown activity: %s", name)
	}
	return def, nil
}
