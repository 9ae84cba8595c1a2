// Package lifecycle owns the embedded engine: it starts it off the UI
// goroutine, announces readiness exactly once and stops it on request.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/illarion/vaultshell/internal/metrics"
	"github.com/rs/zerolog"
)

// DefaultStartupTimeout bounds the wait for the engine's ready signal.
const DefaultStartupTimeout = 30 * time.Second

var (
	ErrAlreadyStarted = errors.New("engine already started")
	ErrStartupTimeout = errors.New("engine did not become ready in time")
)

// LaunchError reports that the engine failed to start or exited abnormally.
type LaunchError struct {
	Err error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("engine launch failed: %v", e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// State is the engine lifecycle state.
type State int

const (
	NotStarted State = iota
	Starting
	Running
	Stopped
	Failed
)

var stateNames = []string{"not_started", "starting", "running", "stopped", "failed"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Launcher runs an engine instance. Launch blocks while the engine runs,
// calls onStarted once it accepts connections, and returns when ctx is
// cancelled or the engine fails.
type Launcher interface {
	Launch(ctx context.Context, dataDir string, onStarted func(url string)) error
}

// Poster schedules callbacks on the UI goroutine.
type Poster interface {
	Post(task func()) bool
}

// Option configures a Handle.
type Option func(*Handle)

// WithStartupTimeout sets how long Start waits for the ready signal.
// Zero disables the bound.
func WithStartupTimeout(d time.Duration) Option {
	return func(h *Handle) { h.timeout = d }
}

// WithLogger sets the handle logger.
func WithLogger(l zerolog.Logger) Option {
	return func(h *Handle) { h.logger = l }
}

// WithOnExit sets a hook run on the poster when a Running engine exits on
// its own. It is never called for a start that failed or was stopped.
func WithOnExit(fn func(error)) Option {
	return func(h *Handle) { h.onExit = fn }
}

// Handle controls at most one engine instance.
type Handle struct {
	launcher Launcher
	poster   Poster
	timeout  time.Duration
	logger   zerolog.Logger
	onExit   func(error)
	engines  sync.WaitGroup

	mu     sync.Mutex
	state  State
	gen    uint64
	cancel context.CancelFunc
	timer  *time.Timer
	url    string
	// live is closed when the most recent launch goroutine returns.
	live chan struct{}
}

// New creates a handle in the NotStarted state.
func New(launcher Launcher, poster Poster, opts ...Option) *Handle {
	h := &Handle{
		launcher: launcher,
		poster:   poster,
		timeout:  DefaultStartupTimeout,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.setState(NotStarted)
	return h
}

// setState must be called with mu held, or before the handle is shared.
func (h *Handle) setState(s State) {
	h.state = s
	metrics.SetEngineState(s.String(), stateNames)
}

// State returns the current state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// URL returns the engine address once Running.
func (h *Handle) URL() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.url
}

// Start launches the engine on a new goroutine and returns immediately.
// Exactly one of onReady and onError is later invoked through the poster,
// unless Stop is called first, in which case neither is. When a previous
// engine is still shutting down, the launch waits for it to return.
func (h *Handle) Start(dataDir string, onReady func(url string), onError func(error)) error {
	h.mu.Lock()
	if h.state == Starting || h.state == Running {
		h.mu.Unlock()
		metrics.EngineStarts.WithLabelValues("rejected").Inc()
		return ErrAlreadyStarted
	}

	h.gen++
	gen := h.gen
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.url = ""
	prev := h.live
	done := make(chan struct{})
	h.live = done
	h.setState(Starting)
	if h.timeout > 0 {
		h.timer = time.AfterFunc(h.timeout, func() {
			h.poster.Post(func() { h.fail(gen, ErrStartupTimeout, onError) })
		})
	}
	h.mu.Unlock()

	h.logger.Info().Str("data_dir", dataDir).Msg("starting engine")

	h.engines.Add(1)
	go func() {
		defer h.engines.Done()
		defer close(done)
		if prev != nil {
			<-prev
		}
		if ctx.Err() != nil {
			return
		}
		err := h.launcher.Launch(ctx, dataDir, func(url string) {
			h.poster.Post(func() { h.ready(gen, url, onReady) })
		})
		if err == nil {
			err = errors.New("engine exited")
		}
		h.poster.Post(func() { h.exited(gen, &LaunchError{Err: err}, onError) })
	}()
	return nil
}

// current reports whether gen is the live start attempt. mu must be held.
func (h *Handle) current(gen uint64) bool {
	return gen == h.gen
}

func (h *Handle) stopTimer() {
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
}

func (h *Handle) ready(gen uint64, url string, onReady func(string)) {
	h.mu.Lock()
	if !h.current(gen) || h.state != Starting {
		h.mu.Unlock()
		h.logger.Debug().Str("url", url).Msg("discarding stale ready signal")
		return
	}
	h.stopTimer()
	h.url = url
	h.setState(Running)
	h.mu.Unlock()

	metrics.EngineStarts.WithLabelValues("ready").Inc()
	h.logger.Info().Str("url", url).Msg("engine ready")
	onReady(url)
}

// fail moves a Starting attempt to Failed and reports err.
func (h *Handle) fail(gen uint64, err error, onError func(error)) {
	h.mu.Lock()
	if !h.current(gen) || h.state != Starting {
		h.mu.Unlock()
		return
	}
	h.stopTimer()
	h.cancel()
	h.setState(Failed)
	h.mu.Unlock()

	outcome := "failed"
	if errors.Is(err, ErrStartupTimeout) {
		outcome = "timeout"
	}
	metrics.EngineStarts.WithLabelValues(outcome).Inc()
	h.logger.Error().Err(err).Msg("engine start failed")
	onError(err)
}

// exited handles the launcher returning. Before ready it is a start failure;
// after ready the engine died on its own: the handle records Failed and
// reports through the exit hook rather than a second start callback.
func (h *Handle) exited(gen uint64, err error, onError func(error)) {
	h.mu.Lock()
	if !h.current(gen) {
		h.mu.Unlock()
		return
	}
	switch h.state {
	case Starting:
		h.mu.Unlock()
		h.fail(gen, err, onError)
	case Running:
		h.cancel()
		h.setState(Failed)
		h.url = ""
		h.mu.Unlock()
		h.logger.Error().Err(err).Msg("engine exited unexpectedly")
		if h.onExit != nil {
			h.onExit(err)
		}
	default:
		h.mu.Unlock()
	}
}

// Stop terminates the engine if it is Starting or Running. Pending ready or
// error signals from that start are discarded.
func (h *Handle) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != Starting && h.state != Running {
		return
	}
	h.stopTimer()
	h.cancel()
	h.gen++
	h.url = ""
	h.setState(Stopped)
	h.logger.Info().Msg("engine stopped")
}

// Wait blocks until every launched engine has returned.
func (h *Handle) Wait() {
	h.engines.Wait()
}
