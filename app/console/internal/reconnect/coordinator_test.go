package reconnect

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	crdb "github.com/cockroachdb/errors"
	"github.com/lk2023060901/xdooria-interlock/app/console/internal/auth"
	"github.com/lk2023060901/xdooria-interlock/app/console/internal/prompt"
	"github.com/lk2023060901/xdooria-interlock/app/console/internal/remote"
	"github.com/lk2023060901/xdooria-interlock/app/console/internal/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type connectResult struct {
	actionNeeded bool
	connected    bool
	err          error
}

type fakeRemote struct {
	mu        sync.Mutex
	results   []connectResult
	block     chan struct{}
	connected bool
	inits     []token.Token
	connects  int
	disposes  int
	registers int
	ended     int
}

func (r *fakeRemote) Initialize(tok token.Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inits = append(r.inits, tok)
	return nil
}

func (r *fakeRemote) ConnectAndWaitReady(ctx context.Context) (bool, error) {
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.connects++
	res := connectResult{connected: true}
	if len(r.results) > 0 {
		res, r.results = r.results[0], r.results[1:]
	}
	r.connected = res.connected
	return res.actionNeeded, res.err
}

func (r *fakeRemote) RegisterHandlers() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registers++
	return nil
}

func (r *fakeRemote) DisposeAndStop(context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disposes++
	r.connected = false
}

func (r *fakeRemote) IsConnected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

func (r *fakeRemote) EndReconnect() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended++
}

type fakeRefresher struct {
	mu    sync.Mutex
	calls int
	next  token.Token
	err   error
}

func (f *fakeRefresher) Refresh(_ context.Context, tok token.Token) (token.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return token.Token{}, f.err
	}
	return f.next, nil
}

var epoch = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

func newCoordinator(t *testing.T, store *token.Store, r Remote, f Refresher, opts ...Option) *Coordinator {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return epoch })}, opts...)
	c, err := New(&Config{Interval: time.Millisecond, Margin: time.Minute}, store, r, f, opts...)
	require.NoError(t, err)
	return c
}

func storeWith(expiresIn time.Duration) *token.Store {
	s := token.NewStore()
	s.Set(token.Token{AccessToken: "at", RefreshToken: "rt", ExpiresAt: epoch.Add(expiresIn)})
	return s
}

func TestDecideMarginBoundary(t *testing.T) {
	c := newCoordinator(t, token.NewStore(), &fakeRemote{}, &fakeRefresher{})

	tests := []struct {
		name string
		tok  token.Token
		want State
	}{
		{"beyond margin", token.Token{AccessToken: "a", ExpiresAt: epoch.Add(61 * time.Second)}, StateAttemptingResume},
		{"one nanosecond beyond", token.Token{AccessToken: "a", ExpiresAt: epoch.Add(time.Minute + 1)}, StateAttemptingResume},
		{"exactly margin", token.Token{AccessToken: "a", ExpiresAt: epoch.Add(time.Minute)}, StateAttemptingRefreshThenResume},
		{"inside margin", token.Token{AccessToken: "a", ExpiresAt: epoch.Add(30 * time.Second)}, StateAttemptingRefreshThenResume},
		{"expired", token.Token{AccessToken: "a", ExpiresAt: epoch.Add(-time.Hour)}, StateAttemptingRefreshThenResume},
		{"no token", token.Token{}, StateAttemptingRefreshThenResume},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Decide(tt.tok, epoch))
		})
	}
}

func TestResumeWithCurrentToken(t *testing.T) {
	r := &fakeRemote{}
	f := &fakeRefresher{}
	c := newCoordinator(t, storeWith(time.Hour), r, f)

	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, 1, r.connects)
	assert.Equal(t, 1, r.registers)
	assert.Zero(t, r.disposes)
	assert.Zero(t, f.calls)
	assert.Zero(t, r.ended)
	assert.Equal(t, StateIdle, c.State())
}

func TestRefreshThenResume(t *testing.T) {
	r := &fakeRemote{}
	renewed := token.Token{AccessToken: "at2", RefreshToken: "rt", ExpiresAt: epoch.Add(time.Hour)}
	f := &fakeRefresher{next: renewed}
	c := newCoordinator(t, storeWith(30*time.Second), r, f)

	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, 1, f.calls)
	assert.Equal(t, 1, r.disposes)
	assert.Equal(t, []token.Token{renewed}, r.inits)
	assert.Equal(t, 1, r.connects)
	assert.Equal(t, 1, r.registers)
}

func TestActionNeededStops(t *testing.T) {
	r := &fakeRemote{results: []connectResult{{actionNeeded: true}}}
	c := newCoordinator(t, storeWith(time.Hour), r, &fakeRefresher{})

	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, 1, r.connects)
	assert.Zero(t, r.registers)
	assert.Equal(t, 1, r.ended)
}

func TestOperatorAbortStops(t *testing.T) {
	r := &fakeRemote{results: []connectResult{{}}}
	c := newCoordinator(t, storeWith(time.Hour), r, &fakeRefresher{})

	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, 1, r.connects)
	assert.Equal(t, 1, r.ended)
}

func TestInvalidGrantFallsBackToReauth(t *testing.T) {
	r := &fakeRemote{}
	f := &fakeRefresher{err: crdb.Mark(errors.New("grant revoked"), auth.ErrInvalidGrant)}

	var reauths int
	c := newCoordinator(t, storeWith(10*time.Second), r, f,
		WithPrompter(prompt.Static{Reauth: true}),
		WithReauth(func(ctx context.Context) error {
			reauths++
			_, err := r.ConnectAndWaitReady(ctx)
			return err
		}))

	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, 1, reauths)
	assert.True(t, r.IsConnected())
	assert.Zero(t, r.ended)
}

func TestReauthDeclined(t *testing.T) {
	r := &fakeRemote{}
	f := &fakeRefresher{err: crdb.Mark(errors.New("grant revoked"), auth.ErrInvalidGrant)}

	called := false
	c := newCoordinator(t, storeWith(0), r, f,
		WithPrompter(prompt.Static{Reauth: false}),
		WithReauth(func(context.Context) error { called = true; return nil }))

	require.NoError(t, c.Run(context.Background()))
	assert.False(t, called)
	assert.Zero(t, r.connects)
	assert.Equal(t, 1, r.ended)
}

func TestFatalRefreshErrorPropagates(t *testing.T) {
	r := &fakeRemote{}
	f := &fakeRefresher{err: crdb.Mark(errors.New("boom"), auth.ErrServerFault)}
	c := newCoordinator(t, storeWith(0), r, f)

	err := c.Run(context.Background())
	require.Error(t, err)
	assert.True(t, crdb.Is(err, auth.ErrServerFault))
	assert.Equal(t, 1, f.calls)
	assert.Zero(t, r.connects)
}

func TestMarginReevaluatedEachCycle(t *testing.T) {
	r := &fakeRemote{results: []connectResult{{err: errors.New("transient")}}}
	renewed := token.Token{AccessToken: "at2", RefreshToken: "rt", ExpiresAt: epoch.Add(time.Hour)}
	f := &fakeRefresher{next: renewed}

	// 第一个周期仍在 margin 之外，第二个周期已进入 margin
	var mu sync.Mutex
	now := epoch
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		cur := now
		now = now.Add(30 * time.Second)
		return cur
	}
	c := newCoordinator(t, storeWith(90*time.Second), r, f, WithClock(clock))

	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, 2, r.connects)
	assert.Equal(t, 1, f.calls)
	assert.Equal(t, []token.Token{renewed}, r.inits)
}

func TestNotInitializedResumeInitializes(t *testing.T) {
	r := &fakeRemote{results: []connectResult{{err: remote.ErrNotInitialized}}}
	store := storeWith(time.Hour)
	c := newCoordinator(t, store, r, &fakeRefresher{})

	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, []token.Token{store.Get()}, r.inits)
	assert.Equal(t, 2, r.connects)
	assert.True(t, r.IsConnected())
}

func TestSecondRunRejected(t *testing.T) {
	r := &fakeRemote{block: make(chan struct{})}
	c := newCoordinator(t, storeWith(time.Hour), r, &fakeRefresher{})

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()
	require.Eventually(t, c.Running, time.Second, time.Millisecond)

	assert.True(t, errors.Is(c.Run(context.Background()), ErrAlreadyRunning))
	close(r.block)
	assert.NoError(t, <-done)
	assert.False(t, c.Running())
}

func TestCancelStopsLoop(t *testing.T) {
	r := &fakeRemote{block: make(chan struct{})}
	c := newCoordinator(t, storeWith(time.Hour), r, &fakeRefresher{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	require.Eventually(t, c.Running, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("run did not stop")
	}
	assert.Equal(t, 1, r.ended)
}
