// Package local runs submitted jobs inside the current process.
package local

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/pg-sharding/bulkload/pkg/config"
	"github.com/pg-sharding/bulkload/pkg/engine"
	"github.com/pg-sharding/bulkload/pkg/etljob"
	"github.com/pg-sharding/bulkload/pkg/loadlog"
	"github.com/pg-sharding/bulkload/pkg/models/loaderror"
	"github.com/pg-sharding/bulkload/pkg/storage"
)

const killedReason = "killed"

type app struct {
	handle engine.AppHandle
	state  *atomic.String
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	manifest map[string]int64
	reason   string
}

// fail moves a running app to FAILED. Later failures are ignored.
func (a *app) fail(reason string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state.Load() != string(engine.AppRunning) {
		return false
	}
	a.reason = reason
	a.state.Store(string(engine.AppFailed))
	return true
}

func (a *app) finish(manifest map[string]int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state.Load() != string(engine.AppRunning) {
		return
	}
	a.manifest = manifest
	a.state.Store(string(engine.AppFinished))
}

func (a *app) status() *engine.Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := &engine.Status{
		State:      engine.AppState(a.state.Load()),
		FailReason: a.reason,
	}
	if st.State != engine.AppRunning {
		st.Progress = 100
	}
	if a.manifest != nil {
		st.Manifest = make(map[string]int64, len(a.manifest))
		for k, v := range a.manifest {
			st.Manifest[k] = v
		}
	}
	return st
}

type Engine struct {
	store *storage.Store
	opts  config.Engine

	mu     sync.Mutex
	apps   map[string]*app
	closed bool
	wg     sync.WaitGroup
}

var _ engine.Submitter = &Engine{}

// New returns an engine reading configs and writing output through store.
func New(store *storage.Store, opts config.Engine) *Engine {
	return &Engine{
		store: store,
		opts:  opts,
		apps:  map[string]*app{},
	}
}

func (e *Engine) Submit(ctx context.Context, req *engine.Request) (*engine.AppHandle, error) {
	cfg, err := etljob.LoadConfig(ctx, e.store, req.ConfigPath)
	if err != nil {
		return nil, loaderror.Newf(loaderror.LOAD_SUBMIT, "load job config %s: %w", req.ConfigPath, err)
	}
	job, err := etljob.New(cfg, e.store, e.opts)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, loaderror.New(loaderror.LOAD_SUBMIT, "local engine is closed")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	a := &app{
		handle: engine.AppHandle{
			AppID:      "local_" + uuid.NewString(),
			ConfigPath: req.ConfigPath,
			OutputPath: cfg.OutputPath,
		},
		state:  atomic.NewString(string(engine.AppRunning)),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	e.apps[a.handle.AppID] = a

	e.wg.Add(1)
	go e.run(runCtx, a, job)

	loadlog.Zero.Info().
		Str("app", a.handle.AppID).
		Str("label", cfg.Label).
		Msg("local engine: app started")
	h := a.handle
	return &h, nil
}

func (e *Engine) run(ctx context.Context, a *app, job *etljob.Job) {
	defer e.wg.Done()
	defer close(a.done)
	defer a.cancel()

	res, err := job.Run(ctx)
	if err != nil {
		if a.fail(err.Error()) {
			loadlog.Zero.Warn().Err(err).Str("app", a.handle.AppID).Msg("local engine: app failed")
		}
		return
	}
	a.finish(res.Manifest)
	loadlog.Zero.Info().
		Str("app", a.handle.AppID).
		Int("files", len(res.Manifest)).
		Msg("local engine: app finished")
}

func (e *Engine) lookup(h *engine.AppHandle) (*app, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.apps[h.AppID]
	if !ok {
		return nil, loaderror.Newf(loaderror.LOAD_NOT_FOUND, "app %s does not exist", h.AppID)
	}
	return a, nil
}

func (e *Engine) Poll(ctx context.Context, h *engine.AppHandle) (*engine.Status, error) {
	a, err := e.lookup(h)
	if err != nil {
		return nil, err
	}
	return a.status(), nil
}

// Kill stops a running app and waits for it. Killing a completed app is
// a no-op.
func (e *Engine) Kill(ctx context.Context, h *engine.AppHandle) error {
	a, err := e.lookup(h)
	if err != nil {
		return err
	}
	if a.fail(killedReason) {
		loadlog.Zero.Info().Str("app", h.AppID).Msg("local engine: app killed")
	}
	a.cancel()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until the app completes.
func (e *Engine) Wait(ctx context.Context, h *engine.AppHandle) (*engine.Status, error) {
	a, err := e.lookup(h)
	if err != nil {
		return nil, err
	}
	select {
	case <-a.done:
		return a.status(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close kills every running app and refuses new submissions.
func (e *Engine) Close() error {
	e.mu.Lock()
	e.closed = true
	for _, a := range e.apps {
		a.fail(killedReason)
		a.cancel()
	}
	e.mu.Unlock()

	e.wg.Wait()
	return nil
}
