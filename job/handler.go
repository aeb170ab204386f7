package job

import (
	"context"
	"fmt"
	"sync"
)

// ItemProcessor defines the interface for executing one work item of a
// specific job kind. Domain packages implement this interface, allowing
// the queue and worker infrastructure to stay decoupled from what an
// item actually is.
//
// The worker drives the loop: it calls ProcessItem once per item, in
// order, starting from the job's next unprocessed index.
type ItemProcessor interface {
	// ProcessItem handles the work item at index and records its outcome
	// on the job via RecordSuccess, RecordSkip, or RecordError.
	//
	// A returned error is systemic and fails the whole job. Failures
	// scoped to the single item must be recorded with RecordError and
	// return nil so the job keeps going.
	//
	// Context cancellation: implementations MUST respect ctx and return
	// ctx.Err() promptly when cancelled, leaving the item unrecorded.
	ProcessItem(ctx context.Context, j *Job, index int, item WorkItem) error

	// Kind returns the job kind this processor handles
	// (e.g., "company.enrich"). Used for registration and job routing.
	Kind() string
}

// ProcessorRegistry manages item processors by job kind.
// Thread-safe for concurrent registration and lookup.
type ProcessorRegistry struct {
	processors map[string]ItemProcessor // Job kind -> processor
	mu         sync.RWMutex
}

// NewProcessorRegistry creates an empty processor registry.
func NewProcessorRegistry() *ProcessorRegistry {
	return &ProcessorRegistry{
		processors: make(map[string]ItemProcessor),
	}
}

// Register adds a processor using its kind.
// Panics if a processor is already registered for that kind.
func (r *ProcessorRegistry) Register(p ItemProcessor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kind := p.Kind()
	if _, exists := r.processors[kind]; exists {
		panic(fmt.Sprintf("processor already registered for kind: %s", kind))
	}
	r.processors[kind] = p
}

// Get retrieves the processor for a job kind.
// Returns nil if no processor is registered.
func (r *ProcessorRegistry) Get(kind string) ItemProcessor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.processors[kind]
}

// Has checks if a processor is registered for a kind.
func (r *ProcessorRegistry) Has(kind string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.processors[kind]
	return exists
}

// Kinds returns all registered job kinds.
func (r *ProcessorRegistry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.processors))
	for kind := range r.processors {
		kinds = append(kinds, kind)
	}
	return kinds
}
