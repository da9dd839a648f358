// Package fetch provides the request lifecycle controller used by every data
// view. A controller owns one resource slot: each Issue supersedes the
// previous one, and only the most recently issued request may commit.
package fetch

import (
	"context"
	"fmt"
	"sync"

	"github.com/aristath/gridlens/internal/domain"
	"github.com/rs/zerolog"
)

// Status is the lifecycle state of a controller
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Descriptor identifies a requested resource (URL or cache key plus credentials)
type Descriptor struct {
	Key   string
	Token string
}

// Loader performs the asynchronous read for a descriptor
type Loader[T any] interface {
	Load(ctx context.Context, d Descriptor) (T, error)
}

// LoaderFunc adapts a function to the Loader interface
type LoaderFunc[T any] func(ctx context.Context, d Descriptor) (T, error)

// Load calls f(ctx, d)
func (f LoaderFunc[T]) Load(ctx context.Context, d Descriptor) (T, error) {
	return f(ctx, d)
}

// State is a snapshot of a controller. Data is retained across refetches and
// errors; it is only cleared when the descriptor is reset to nil.
type State[T any] struct {
	Data       *T                 `json:"data"`
	Status     Status             `json:"status"`
	Err        *domain.FetchError `json:"error"`
	Generation uint64             `json:"generation"`
}

// Loading reports whether a request is in flight
func (s State[T]) Loading() bool {
	return s.Status == StatusLoading
}

// Controller manages one resource slot
type Controller[T any] struct {
	name   string
	loader Loader[T]
	log    zerolog.Logger

	mu         sync.Mutex
	generation uint64
	version    uint64
	state      State[T]
	descriptor *Descriptor
	current    *Subscription
	listeners  map[int]func(State[T])
	nextID     int

	notifyMu      sync.Mutex
	lastDelivered uint64
}

// NewController creates an idle controller
func NewController[T any](name string, loader Loader[T], log zerolog.Logger) *Controller[T] {
	return &Controller[T]{
		name:      name,
		loader:    loader,
		log:       log.With().Str("controller", name).Logger(),
		state:     State[T]{Status: StatusIdle},
		listeners: make(map[int]func(State[T])),
	}
}

// Name returns the controller name used in logs
func (c *Controller[T]) Name() string {
	return c.name
}

// State returns the current snapshot
func (c *Controller[T]) State() State[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Descriptor returns the descriptor of the latest Issue, or nil
func (c *Controller[T]) Descriptor() *Descriptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.descriptor == nil {
		return nil
	}
	d := *c.descriptor
	return &d
}

// OnChange registers fn to receive state changes. Listeners see the latest
// state, never an older one after a newer one: a snapshot overtaken by a
// later transition before delivery is skipped. The returned func removes the
// listener.
func (c *Controller[T]) OnChange(fn func(State[T])) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// Issue starts a request for d, superseding any request in flight.
// A nil descriptor issues nothing and resets the controller to idle with no data.
func (c *Controller[T]) Issue(ctx context.Context, d *Descriptor) *Subscription {
	c.mu.Lock()
	c.generation++
	g := c.generation
	sub := newSubscription(g)
	c.current = sub

	if d == nil {
		c.descriptor = nil
		c.state = State[T]{Status: StatusIdle, Generation: g}
		snapshot, version := c.transitionLocked()
		c.mu.Unlock()

		c.log.Debug().Uint64("generation", g).Msg("Descriptor cleared, controller idle")
		c.notify(snapshot, version)
		sub.finish(true)
		return sub
	}

	desc := *d
	c.descriptor = &desc
	c.state.Status = StatusLoading
	c.state.Err = nil
	c.state.Generation = g
	snapshot, version := c.transitionLocked()
	c.mu.Unlock()

	c.log.Debug().
		Str("request_id", sub.ID).
		Str("key", desc.Key).
		Uint64("generation", g).
		Msg("Request issued")
	c.notify(snapshot, version)

	go c.run(ctx, desc, sub)
	return sub
}

// Refetch re-issues the latest descriptor under the same generation discipline
func (c *Controller[T]) Refetch(ctx context.Context) *Subscription {
	return c.Issue(ctx, c.Descriptor())
}

// Ensure issues d only when it differs from the latest descriptor, otherwise it
// returns the latest subscription. This mirrors a dependent effect that only
// re-runs when its inputs change.
func (c *Controller[T]) Ensure(ctx context.Context, d *Descriptor) *Subscription {
	c.mu.Lock()
	same := c.current != nil && c.state.Status != StatusError && sameDescriptor(c.descriptor, d)
	current := c.current
	c.mu.Unlock()

	if same {
		return current
	}
	return c.Issue(ctx, d)
}

func (c *Controller[T]) run(ctx context.Context, desc Descriptor, sub *Subscription) {
	data, err := c.load(ctx, desc)

	c.mu.Lock()
	if c.generation != sub.Generation {
		latest := c.generation
		c.mu.Unlock()

		c.log.Debug().
			Str("request_id", sub.ID).
			Str("key", desc.Key).
			Uint64("generation", sub.Generation).
			Uint64("latest_generation", latest).
			Msg("Discarding superseded response")
		sub.finish(false)
		return
	}

	if err != nil {
		c.state.Status = StatusError
		c.state.Err = domain.AsFetchError(err)
	} else {
		c.state.Data = &data
		c.state.Status = StatusSuccess
		c.state.Err = nil
	}
	snapshot, version := c.transitionLocked()
	c.mu.Unlock()

	if err != nil {
		c.log.Warn().
			Err(err).
			Str("request_id", sub.ID).
			Str("key", desc.Key).
			Msg("Request failed")
	} else {
		c.log.Debug().
			Str("request_id", sub.ID).
			Str("key", desc.Key).
			Msg("Request committed")
	}

	c.notify(snapshot, version)
	sub.finish(true)
}

func (c *Controller[T]) load(ctx context.Context, desc Descriptor) (data T, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = domain.NewParseError(desc.Key, fmt.Errorf("loader panicked: %v", p))
		}
	}()
	return c.loader.Load(ctx, desc)
}

// transitionLocked must be called with c.mu held
func (c *Controller[T]) transitionLocked() (State[T], uint64) {
	c.version++
	return c.state, c.version
}

func (c *Controller[T]) notify(snapshot State[T], version uint64) {
	c.mu.Lock()
	listeners := make([]func(State[T]), 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()

	if len(listeners) == 0 {
		return
	}

	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	// A newer transition may already have been delivered
	if version <= c.lastDelivered {
		return
	}
	c.lastDelivered = version

	for _, fn := range listeners {
		fn(snapshot)
	}
}

func sameDescriptor(a, b *Descriptor) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
