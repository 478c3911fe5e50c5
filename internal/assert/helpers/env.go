package helpers

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/kode4food/timebox"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/tollgate/internal/archive"
	"github.com/kode4food/tollgate/internal/config"
	"github.com/kode4food/tollgate/internal/engine"
	"github.com/kode4food/tollgate/internal/journal"
	"github.com/kode4food/tollgate/internal/notify"
)

type (
	// TestEngineEnv holds all the components needed for engine testing
	TestEngineEnv struct {
		Engine   *engine.Engine
		Redis    *miniredis.Miniredis
		Config   *config.Config
		Store    *timebox.Store
		Index    *journal.Index
		Archiver *archive.BlobArchiver
		Notifier *RecordingNotifier
		Clock    *TestClock
		Cleanup  func()
		extra    []*engine.Engine
		mu       sync.Mutex
	}

	// TestClock is a wall clock that tests can move forward
	TestClock struct {
		offset time.Duration
		mu     sync.Mutex
	}

	// RecordingNotifier keeps every approval request it is asked to send
	RecordingNotifier struct {
		requests []*notify.ApprovalRequest
		err      error
		mu       sync.Mutex
	}
)

var _ notify.Notifier = (*RecordingNotifier)(nil)

// NewTestConfig creates a default configuration with debug logging and
// timings short enough for tests
func NewTestConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.LogLevel = "debug"
	cfg.Mode = config.ModeEphemeral
	cfg.StepLease = 2 * time.Second
	cfg.PollInterval = 50 * time.Millisecond
	cfg.SweepInterval = 50 * time.Millisecond
	cfg.MaxInlineBackoff = 200 * time.Millisecond
	cfg.ExecutionTimeout = time.Hour
	cfg.Retry.BaseDelay = 10 * time.Millisecond
	cfg.Retry.MaxDelay = 100 * time.Millisecond
	cfg.ShutdownTimeout = 2 * time.Second
	cfg.ArchiveInterval = time.Hour
	return cfg
}

// NewTestEngine creates a test engine environment with an in-memory Redis
// backend, a memory archive bucket, and a recording notifier
func NewTestEngine(t *testing.T) *TestEngineEnv {
	t.Helper()
	return NewTestEngineWithConfig(t, NewTestConfig())
}

// NewTestEngineWithConfig creates a test engine environment using cfg.
// The journal address and prefix are replaced with the test Redis
func NewTestEngineWithConfig(
	t *testing.T, cfg *config.Config,
) *TestEngineEnv {
	t.Helper()

	server, err := miniredis.Run()
	require.NoError(t, err)

	tb, err := timebox.NewTimebox(timebox.Config{
		MaxRetries: timebox.DefaultMaxRetries,
		CacheSize:  100,
		Workers:    true,
	})
	require.NoError(t, err)

	cfg.Journal.Addr = server.Addr()
	cfg.Journal.Prefix = "test-journal"

	store, err := tb.NewStore(cfg.Journal)
	require.NoError(t, err)

	arch, err := archive.NewBlobArchiver(
		context.Background(), "mem://", "test/",
	)
	require.NoError(t, err)

	env := &TestEngineEnv{
		Redis:    server,
		Config:   cfg,
		Store:    store,
		Index:    journal.NewIndex(cfg.Journal),
		Archiver: arch,
		Notifier: &RecordingNotifier{},
		Clock:    &TestClock{},
	}
	env.Engine = env.NewEngineInstance()

	env.Cleanup = func() {
		env.mu.Lock()
		extra := env.extra
		env.mu.Unlock()
		for _, eng := range extra {
			_ = eng.Stop()
		}
		_ = env.Engine.Stop()
		_ = arch.Close()
		_ = env.Index.Close()
		_ = tb.Close()
		server.Close()
	}
	return env
}

// NewEngineInstance creates a new engine sharing the same stores, clock,
// and notifier. Used to simulate a process restart after a crash. Every
// instance is stopped by Cleanup
func (e *TestEngineEnv) NewEngineInstance() *engine.Engine {
	eng, err := engine.New(e.Config, engine.Dependencies{
		Store:    e.Store,
		Index:    e.Index,
		Notifier: e.Notifier,
		Archiver: e.Archiver,
		Clock:    e.Clock.Now,
	})
	if err != nil {
		panic(err)
	}
	if e.Engine != nil {
		e.mu.Lock()
		e.extra = append(e.extra, eng)
		e.mu.Unlock()
	}
	return eng
}

// WithTestEnv creates a test engine environment, executes the provided
// function with it, and ensures cleanup happens automatically
func WithTestEnv(t *testing.T, fn func(*TestEngineEnv)) {
	t.Helper()
	testEnv := NewTestEngine(t)
	defer testEnv.Cleanup()
	fn(testEnv)
}

// WithEngine creates a test engine, executes the provided function with it,
// and ensures cleanup happens automatically
func WithEngine(t *testing.T, fn func(*engine.Engine)) {
	t.Helper()
	WithTestEnv(t, func(env *TestEngineEnv) {
		fn(env.Engine)
	})
}

// WithStartedEngine creates a test engine, starts it, executes the provided
// function with the engine, and ensures cleanup happens automatically
func WithStartedEngine(t *testing.T, fn func(*engine.Engine)) {
	t.Helper()
	WithEngine(t, func(eng *engine.Engine) {
		require.NoError(t, eng.Start())
		fn(eng)
	})
}

// Now returns the wall time moved forward by every Advance
func (c *TestClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Now().Add(c.offset)
}

// Advance moves the clock forward by d
func (c *TestClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset += d
}

// SendApproval records the request, failing when an error was set
func (n *RecordingNotifier) SendApproval(
	_ context.Context, req *notify.ApprovalRequest,
) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.requests = append(n.requests, req)
	return nil
}

// SetError makes subsequent deliveries fail with err. A nil err clears it
func (n *RecordingNotifier) SetError(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.err = err
}

// Requests returns a copy of every delivered request
func (n *RecordingNotifier) Requests() []*notify.ApprovalRequest {
	n.mu.Lock()
	defer n.mu.Unlock()
	res := make([]*notify.ApprovalRequest, len(n.requests))
	copy(res, n.requests)
	return res
}

// Last returns the most recent request, or nil if none was delivered
func (n *RecordingNotifier) Last() *notify.ApprovalRequest {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.requests) == 0 {
		return nil
	}
	return n.requests[len(n.requests)-1]
}
