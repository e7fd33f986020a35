package async

import (
	"context"
	"sort"
	"sync"

	"github.com/teranos/vidscope/errors"
)

// JobHandler executes one kind of job, routed by Job.HandlerName.
//
// Execute must watch ctx: the pool cancels it on shutdown and re-queues
// the job instead of failing it.
type JobHandler interface {
	Execute(ctx context.Context, job *Job) error
	Name() string
}

// HandlerFunc adapts a function to JobHandler under a fixed name
func HandlerFunc(name string, fn func(ctx context.Context, job *Job) error) JobHandler {
	return funcHandler{name: name, fn: fn}
}

type funcHandler struct {
	name string
	fn   func(ctx context.Context, job *Job) error
}

func (h funcHandler) Name() string                                { return h.name }
func (h funcHandler) Execute(ctx context.Context, job *Job) error { return h.fn(ctx, job) }

// HandlerRegistry maps handler names to handlers and dispatches jobs to them
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]JobHandler
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]JobHandler)}
}

// Register panics on a duplicate name; registration happens at startup.
func (r *HandlerRegistry) Register(handler JobHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := handler.Name()
	if _, exists := r.handlers[name]; exists {
		panic("async: handler already registered: " + name)
	}
	r.handlers[name] = handler
}

// Get returns nil for an unknown name
func (r *HandlerRegistry) Get(name string) JobHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[name]
}

func (r *HandlerRegistry) Has(name string) bool {
	return r.Get(name) != nil
}

// Names is sorted
func (r *HandlerRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute dispatches job to its registered handler
func (r *HandlerRegistry) Execute(ctx context.Context, job *Job) error {
	if job.HandlerName == "" {
		return errors.New("job missing handler_name")
	}
	handler := r.Get(job.HandlerName)
	if handler == nil {
		return errors.Newf("no handler registered for %s", job.HandlerName)
	}
	return handler.Execute(ctx, job)
}
