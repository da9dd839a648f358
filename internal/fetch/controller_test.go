package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aristath/gridlens/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type loadResult struct {
	data string
	err  error
}

// gatedLoader blocks every Load until the test releases its key
type gatedLoader struct {
	mu    sync.Mutex
	gates map[string]chan loadResult
	calls []string
}

func newGatedLoader() *gatedLoader {
	return &gatedLoader{gates: make(map[string]chan loadResult)}
}

func (l *gatedLoader) gate(key string) chan loadResult {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.gates[key]
	if !ok {
		ch = make(chan loadResult, 1)
		l.gates[key] = ch
	}
	return ch
}

func (l *gatedLoader) release(key, data string, err error) {
	l.gate(key) <- loadResult{data: data, err: err}
}

func (l *gatedLoader) Load(ctx context.Context, d Descriptor) (string, error) {
	l.mu.Lock()
	l.calls = append(l.calls, d.Key)
	l.mu.Unlock()

	r := <-l.gate(d.Key)
	return r.data, r.err
}

func (l *gatedLoader) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.calls)
}

func testLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

func waitFor(t *testing.T, sub *Subscription) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, sub.Wait(ctx))
}

func TestController_InitialState(t *testing.T) {
	c := NewController[string]("test", newGatedLoader(), testLogger())

	state := c.State()
	assert.Equal(t, StatusIdle, state.Status)
	assert.Nil(t, state.Data)
	assert.Nil(t, state.Err)
	assert.Equal(t, uint64(0), state.Generation)
	assert.Nil(t, c.Descriptor())
}

func TestController_LaterRequestWinsWhenEarlierResolvesLast(t *testing.T) {
	loader := newGatedLoader()
	c := NewController[string]("test", loader, testLogger())
	ctx := context.Background()

	first := c.Issue(ctx, &Descriptor{Key: "first"})
	second := c.Issue(ctx, &Descriptor{Key: "second"})
	assert.Equal(t, uint64(1), first.Generation)
	assert.Equal(t, uint64(2), second.Generation)

	loader.release("second", "fresh", nil)
	waitFor(t, second)
	assert.True(t, second.Committed())

	loader.release("first", "stale", nil)
	waitFor(t, first)
	assert.False(t, first.Committed(), "superseded response must be discarded")

	state := c.State()
	require.NotNil(t, state.Data)
	assert.Equal(t, "fresh", *state.Data)
	assert.Equal(t, StatusSuccess, state.Status)
	assert.Equal(t, uint64(2), state.Generation)
}

func TestController_EarlierResolvingFirstNeverCommits(t *testing.T) {
	loader := newGatedLoader()
	c := NewController[string]("test", loader, testLogger())
	ctx := context.Background()

	first := c.Issue(ctx, &Descriptor{Key: "first"})
	second := c.Issue(ctx, &Descriptor{Key: "second"})

	loader.release("first", "stale", nil)
	waitFor(t, first)
	assert.False(t, first.Committed())
	assert.Equal(t, StatusLoading, c.State().Status)
	assert.Nil(t, c.State().Data)

	loader.release("second", "fresh", nil)
	waitFor(t, second)
	assert.Equal(t, "fresh", *c.State().Data)
}

func TestController_ManyRequestsResolvedInReverseOrder(t *testing.T) {
	loader := newGatedLoader()
	c := NewController[string]("test", loader, testLogger())
	ctx := context.Background()

	const n = 20
	subs := make([]*Subscription, n)
	for i := 0; i < n; i++ {
		subs[i] = c.Issue(ctx, &Descriptor{Key: fmt.Sprintf("k%d", i)})
	}

	for i := n - 1; i >= 0; i-- {
		loader.release(fmt.Sprintf("k%d", i), fmt.Sprintf("v%d", i), nil)
		waitFor(t, subs[i])
	}

	committed := 0
	for _, s := range subs {
		if s.Committed() {
			committed++
		}
	}
	assert.Equal(t, 1, committed, "exactly one in-flight request may commit")
	assert.Equal(t, fmt.Sprintf("v%d", n-1), *c.State().Data)
	assert.Equal(t, uint64(n), c.State().Generation)
}

func TestController_LoadingRetainsPreviousData(t *testing.T) {
	loader := newGatedLoader()
	c := NewController[string]("test", loader, testLogger())
	ctx := context.Background()

	sub := c.Issue(ctx, &Descriptor{Key: "a"})
	loader.release("a", "one", nil)
	waitFor(t, sub)

	c.Issue(ctx, &Descriptor{Key: "b"})
	state := c.State()
	assert.Equal(t, StatusLoading, state.Status)
	require.NotNil(t, state.Data)
	assert.Equal(t, "one", *state.Data)
	assert.Nil(t, state.Err)
}

func TestController_ErrorKeepsStaleData(t *testing.T) {
	loader := newGatedLoader()
	c := NewController[string]("test", loader, testLogger())
	ctx := context.Background()

	sub := c.Issue(ctx, &Descriptor{Key: "a"})
	loader.release("a", "one", nil)
	waitFor(t, sub)

	sub = c.Issue(ctx, &Descriptor{Key: "b"})
	loader.release("b", "", domain.NewResponseError("/b", 500, "Failed to fetch data"))
	waitFor(t, sub)

	state := c.State()
	assert.Equal(t, StatusError, state.Status)
	require.NotNil(t, state.Data)
	assert.Equal(t, "one", *state.Data)
	require.NotNil(t, state.Err)
	assert.Equal(t, domain.KindResponse, state.Err.Kind)
	assert.Equal(t, "Failed to fetch data", state.Err.Message)
	assert.Equal(t, 500, state.Err.StatusCode)
}

func TestController_UnclassifiedErrorBecomesNetworkFailure(t *testing.T) {
	loader := newGatedLoader()
	c := NewController[string]("test", loader, testLogger())

	sub := c.Issue(context.Background(), &Descriptor{Key: "a"})
	loader.release("a", "", errors.New("connection refused"))
	waitFor(t, sub)

	require.NotNil(t, c.State().Err)
	assert.Equal(t, domain.KindNetwork, c.State().Err.Kind)
}

func TestController_NilDescriptorResetsToIdle(t *testing.T) {
	loader := newGatedLoader()
	c := NewController[string]("test", loader, testLogger())
	ctx := context.Background()

	sub := c.Issue(ctx, &Descriptor{Key: "a"})
	loader.release("a", "one", nil)
	waitFor(t, sub)

	inFlight := c.Issue(ctx, &Descriptor{Key: "b"})
	reset := c.Issue(ctx, nil)
	waitFor(t, reset)
	assert.True(t, reset.Committed())

	state := c.State()
	assert.Equal(t, StatusIdle, state.Status)
	assert.Nil(t, state.Data)
	assert.Nil(t, c.Descriptor())

	loader.release("b", "late", nil)
	waitFor(t, inFlight)
	assert.False(t, inFlight.Committed())
	assert.Equal(t, StatusIdle, c.State().Status)
	assert.Equal(t, 2, loader.callCount(), "nil descriptor must not issue a request")
}

func TestController_Refetch(t *testing.T) {
	loader := newGatedLoader()
	c := NewController[string]("test", loader, testLogger())
	ctx := context.Background()

	sub := c.Issue(ctx, &Descriptor{Key: "a", Token: "jwt"})
	loader.release("a", "one", nil)
	waitFor(t, sub)

	again := c.Refetch(ctx)
	assert.Equal(t, uint64(2), again.Generation)
	loader.release("a", "two", nil)
	waitFor(t, again)

	assert.Equal(t, "two", *c.State().Data)
	assert.Equal(t, &Descriptor{Key: "a", Token: "jwt"}, c.Descriptor())
	assert.Equal(t, 2, loader.callCount())
}

func TestController_RefetchWithoutDescriptorStaysIdle(t *testing.T) {
	loader := newGatedLoader()
	c := NewController[string]("test", loader, testLogger())

	sub := c.Refetch(context.Background())
	waitFor(t, sub)
	assert.Equal(t, StatusIdle, c.State().Status)
	assert.Equal(t, 0, loader.callCount())
}

func TestController_EnsureSkipsSameDescriptor(t *testing.T) {
	loader := newGatedLoader()
	c := NewController[string]("test", loader, testLogger())
	ctx := context.Background()

	first := c.Ensure(ctx, &Descriptor{Key: "a"})
	same := c.Ensure(ctx, &Descriptor{Key: "a"})
	assert.Same(t, first, same)

	loader.release("a", "one", nil)
	waitFor(t, first)

	other := c.Ensure(ctx, &Descriptor{Key: "b"})
	assert.NotSame(t, first, other)
	loader.release("b", "two", nil)
	waitFor(t, other)
	assert.Equal(t, 2, loader.callCount())
}

func TestController_EnsureRetriesAfterError(t *testing.T) {
	loader := newGatedLoader()
	c := NewController[string]("test", loader, testLogger())
	ctx := context.Background()

	sub := c.Ensure(ctx, &Descriptor{Key: "a"})
	loader.release("a", "", errors.New("down"))
	waitFor(t, sub)

	retry := c.Ensure(ctx, &Descriptor{Key: "a"})
	assert.NotSame(t, sub, retry)
	loader.release("a", "up", nil)
	waitFor(t, retry)
	assert.Equal(t, StatusSuccess, c.State().Status)
}

func TestController_ListenersSeeTransitionsInOrder(t *testing.T) {
	loader := newGatedLoader()
	c := NewController[string]("test", loader, testLogger())

	var mu sync.Mutex
	var seen []Status
	unsubscribe := c.OnChange(func(s State[string]) {
		mu.Lock()
		seen = append(seen, s.Status)
		mu.Unlock()
	})

	sub := c.Issue(context.Background(), &Descriptor{Key: "a"})
	loader.release("a", "one", nil)
	waitFor(t, sub)

	unsubscribe()
	c.Issue(context.Background(), nil)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Status{StatusLoading, StatusSuccess}, seen)
}

func TestController_ListenersNeverSeeOlderState(t *testing.T) {
	loader := LoaderFunc[string](func(ctx context.Context, d Descriptor) (string, error) {
		return d.Key, nil
	})
	c := NewController[string]("test", loader, testLogger())

	var mu sync.Mutex
	var generations []uint64
	defer c.OnChange(func(s State[string]) {
		mu.Lock()
		generations = append(generations, s.Generation)
		mu.Unlock()
	})()

	var wg sync.WaitGroup
	subs := make([]*Subscription, 20)
	for i := range subs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			subs[i] = c.Issue(context.Background(), &Descriptor{Key: fmt.Sprintf("k%d", i)})
		}(i)
	}
	wg.Wait()
	for _, sub := range subs {
		waitFor(t, sub)
	}

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, generations)
	for i := 1; i < len(generations); i++ {
		assert.GreaterOrEqual(t, generations[i], generations[i-1], "delivery %d went back in time", i)
	}
	assert.Equal(t, c.State().Generation, generations[len(generations)-1])
}

func TestController_LoaderPanicBecomesError(t *testing.T) {
	loader := LoaderFunc[int](func(ctx context.Context, d Descriptor) (int, error) {
		panic("bad payload")
	})
	c := NewController[int]("test", loader, testLogger())

	sub := c.Issue(context.Background(), &Descriptor{Key: "a"})
	waitFor(t, sub)

	state := c.State()
	assert.Equal(t, StatusError, state.Status)
	require.NotNil(t, state.Err)
	assert.Equal(t, domain.KindParse, state.Err.Kind)
}

func TestSubscription_WaitHonoursContext(t *testing.T) {
	loader := newGatedLoader()
	c := NewController[string]("test", loader, testLogger())
	sub := c.Issue(context.Background(), &Descriptor{Key: "never"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sub.Wait(ctx), context.Canceled)
	assert.NotEmpty(t, sub.ID)

	loader.release("never", "x", nil)
	waitFor(t, sub)
}
