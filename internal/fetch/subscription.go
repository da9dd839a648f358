package fetch

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Subscription tracks one issued request
type Subscription struct {
	ID         string
	Generation uint64

	once      sync.Once
	done      chan struct{}
	committed bool
}

func newSubscription(generation uint64) *Subscription {
	return &Subscription{
		ID:         uuid.NewString(),
		Generation: generation,
		done:       make(chan struct{}),
	}
}

// Done is closed once the request has resolved, whether committed or discarded
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the request resolves or ctx is done
func (s *Subscription) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Committed reports whether the result was written to the controller state.
// It is false for superseded requests and must only be read after Done.
func (s *Subscription) Committed() bool {
	<-s.done
	return s.committed
}

func (s *Subscription) finish(committed bool) {
	s.once.Do(func() {
		s.committed = committed
		close(s.done)
	})
}
