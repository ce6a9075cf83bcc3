package events

import (
	"context"
	"sync"

	"taskmanager/internal/domain"
)

const systemActor = "system"

// Scope identifies who caused the events published under a context.
type Scope struct {
	ProjectID string
	ActorID   string
}

type scopeKey struct{}

// WithScope attaches a publishing scope to ctx.
func WithScope(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// ScopeFrom returns the scope attached to ctx, defaulting the actor to "system".
func ScopeFrom(ctx context.Context) Scope {
	s, _ := ctx.Value(scopeKey{}).(Scope)
	if s.ActorID == "" {
		s.ActorID = systemActor
	}
	return s
}

// Listener observes published domain events in-process.
type Listener func(ctx context.Context, evt domain.Event)

// Registry publishes domain events by appending them to the event log and then
// handing them to in-process listeners. There is no delivery guarantee beyond that.
type Registry struct {
	writer    Writer
	listeners *listenerSet
}

type listenerSet struct {
	mu   sync.RWMutex
	list []Listener
}

func NewRegistry(w Writer) *Registry {
	return &Registry{writer: w, listeners: &listenerSet{}}
}

// With returns a registry appending through w that shares r's listeners.
func (r *Registry) With(w Writer) *Registry {
	return &Registry{writer: w, listeners: r.listeners}
}

// Subscribe registers a listener invoked synchronously after every publish.
func (r *Registry) Subscribe(l Listener) {
	r.listeners.mu.Lock()
	r.listeners.list = append(r.listeners.list, l)
	r.listeners.mu.Unlock()
}

func (r *Registry) Publish(ctx context.Context, evt domain.Event) error {
	scope := ScopeFrom(ctx)
	if _, err := r.writer.Append(ctx, nil, evt.Type(), scope.ProjectID, evt.EntityKind(), evt.EntityID(), scope.ActorID, evt); err != nil {
		return err
	}
	r.listeners.mu.RLock()
	listeners := append([]Listener(nil), r.listeners.list...)
	r.listeners.mu.RUnlock()
	for _, l := range listeners {
		l(ctx, evt)
	}
	return nil
}
