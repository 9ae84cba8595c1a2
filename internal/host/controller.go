// Package host wires the engine, the UI surface and the transfer broker
// together and owns startup, back navigation and teardown.
package host

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/illarion/vaultshell/internal/transfer"
	"github.com/rs/zerolog"
)

const (
	// DataSubdir is the engine data directory under the files directory.
	DataSubdir = "vault"

	// DefaultBackTimeout bounds the back-navigation round trip to content.
	DefaultBackTimeout = 2 * time.Second

	backPressedFn    = "backPressedListener"
	importCompleteFn = "onImportComplete"
)

// Engine is the lifecycle handle of the embedded engine.
type Engine interface {
	Start(dataDir string, onReady func(url string), onError func(error)) error
	Stop()
}

// Surface displays UI content and injects calls into it.
type Surface interface {
	Load(url string) error
	Invoke(ctx context.Context, fn string, args ...any) (string, error)
}

// Shell is the window or process hosting the surface.
type Shell interface {
	Dismiss()
}

// PlatformPicker shows a system document picker. The chosen document (nil
// when cancelled) is later handed to Controller.Deliver with the same token.
type PlatformPicker interface {
	Launch(token uint64, req transfer.PickRequest) error
}

// Scheduler runs tasks on the UI goroutine and work on background goroutines.
type Scheduler interface {
	Post(task func()) bool
	Go(fn func())
}

// Notifier shows a transient message to the user.
type Notifier interface {
	Notify(message string, long bool)
}

// Deps are the collaborators of a Controller.
type Deps struct {
	FilesDir    string
	Engine      Engine
	Surface     Surface
	Shell       Shell
	Picker      PlatformPicker
	Notifier    Notifier
	UI          Scheduler
	BackTimeout time.Duration
	Logger      zerolog.Logger
}

// Validate reports every missing dependency.
func (d Deps) Validate() error {
	var errs []error
	if d.FilesDir == "" {
		errs = append(errs, errors.New("files directory is required"))
	}
	if d.Engine == nil {
		errs = append(errs, errors.New("engine is required"))
	}
	if d.Surface == nil {
		errs = append(errs, errors.New("surface is required"))
	}
	if d.Shell == nil {
		errs = append(errs, errors.New("shell is required"))
	}
	if d.Picker == nil {
		errs = append(errs, errors.New("picker is required"))
	}
	if d.Notifier == nil {
		errs = append(errs, errors.New("notifier is required"))
	}
	if d.UI == nil {
		errs = append(errs, errors.New("ui scheduler is required"))
	}
	if d.BackTimeout < 0 {
		errs = append(errs, fmt.Errorf("invalid back timeout %s", d.BackTimeout))
	}
	return errors.Join(errs...)
}

// Controller sequences the shell. Apart from New, Deliver and Teardown its
// methods must be called on the UI goroutine.
type Controller struct {
	deps Deps
	log  zerolog.Logger

	nextToken uint64
	pending   map[uint64]func(transfer.Document)
}

// New validates deps and creates a Controller.
func New(deps Deps) (*Controller, error) {
	if err := deps.Validate(); err != nil {
		return nil, fmt.Errorf("invalid host dependencies: %w", err)
	}
	if deps.BackTimeout == 0 {
		deps.BackTimeout = DefaultBackTimeout
	}
	return &Controller{
		deps:    deps,
		log:     deps.Logger,
		pending: make(map[uint64]func(transfer.Document)),
	}, nil
}

// DataDir is the private engine data directory.
func (c *Controller) DataDir() string {
	return filepath.Join(c.deps.FilesDir, DataSubdir)
}

// Start launches the engine. On ready the surface loads the engine URL; on
// failure the user is told and the surface stays unloaded.
func (c *Controller) Start() error {
	dataDir := c.DataDir()
	c.log.Info().Str("data_dir", dataDir).Msg("starting shell")
	return c.deps.Engine.Start(dataDir, c.engineReady, c.engineFailed)
}

func (c *Controller) engineReady(url string) {
	if err := c.deps.Surface.Load(url); err != nil {
		c.log.Error().Err(err).Str("url", url).Msg("failed to load surface")
		c.deps.Notifier.Notify("Could not open the vault UI: "+err.Error(), true)
	}
}

func (c *Controller) engineFailed(err error) {
	c.log.Error().Err(err).Msg("engine failed to start")
	c.deps.Notifier.Notify("Vault engine failed to start: "+err.Error(), true)
}

// EngineExited tells the user that a running engine stopped on its own. The
// surface is left as is; content can no longer reach the engine.
func (c *Controller) EngineExited(err error) {
	c.log.Error().Err(err).Msg("engine exited while running")
	c.deps.Notifier.Notify("Vault engine stopped unexpectedly: "+err.Error(), true)
}

// Pick implements transfer.Picker. Each token resolves at most once.
func (c *Controller) Pick(req transfer.PickRequest, resolve func(transfer.Document)) error {
	c.nextToken++
	token := c.nextToken
	c.pending[token] = resolve
	if err := c.deps.Picker.Launch(token, req); err != nil {
		delete(c.pending, token)
		return err
	}
	return nil
}

// Deliver routes a picker result to its continuation on the UI goroutine.
// doc is nil when the user cancelled. Safe to call from any goroutine.
func (c *Controller) Deliver(token uint64, doc transfer.Document) {
	posted := c.deps.UI.Post(func() {
		resolve, ok := c.pending[token]
		if !ok {
			c.log.Warn().Uint64("token", token).Msg("dropping picker result with unknown token")
			return
		}
		delete(c.pending, token)
		resolve(doc)
	})
	if !posted {
		c.log.Debug().Uint64("token", token).Msg("picker result after shutdown")
	}
}

// PendingPicks returns the number of unresolved picker requests.
func (c *Controller) PendingPicks() int {
	return len(c.pending)
}

// ImportComplete implements transfer.ImportSink by injecting
// onImportComplete(path|null) into the surface.
func (c *Controller) ImportComplete(path *string) {
	c.deps.UI.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.deps.BackTimeout)
		defer cancel()
		if _, err := c.deps.Surface.Invoke(ctx, importCompleteFn, path); err != nil {
			c.log.Warn().Err(err).Msg("failed to deliver import result to content")
		}
	})
}

// BackPressed asks content whether it handles back navigation. A "true"
// reply, no reply or an error finishes the shell; any other reply means
// content handled it.
func (c *Controller) BackPressed() {
	c.deps.UI.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.deps.BackTimeout)
		reply, err := c.deps.Surface.Invoke(ctx, backPressedFn)
		cancel()
		c.deps.UI.Post(func() {
			switch {
			case err != nil:
				c.log.Debug().Err(err).Msg("back navigation fell back to default dismissal")
				c.finish()
			case reply == "true":
				c.finish()
			}
		})
	})
}

func (c *Controller) finish() {
	c.deps.Engine.Stop()
	c.deps.Shell.Dismiss()
}

// Teardown stops the engine unconditionally and forgets pending pickers.
func (c *Controller) Teardown() {
	c.deps.Engine.Stop()
	c.deps.UI.Post(func() {
		clear(c.pending)
	})
}

// ShellFunc adapts a function to Shell.
type ShellFunc func()

// Dismiss calls f.
func (f ShellFunc) Dismiss() { f() }
