package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/illarion/vaultshell/internal/bridge"
	"github.com/illarion/vaultshell/internal/engine"
	"github.com/illarion/vaultshell/internal/host"
	"github.com/illarion/vaultshell/internal/lifecycle"
	"github.com/illarion/vaultshell/internal/log"
	"github.com/illarion/vaultshell/internal/security"
	"github.com/illarion/vaultshell/internal/surface"
	"github.com/illarion/vaultshell/internal/terminal"
	"github.com/illarion/vaultshell/internal/transfer"
	"github.com/illarion/vaultshell/internal/uithread"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Start the engine and open the vault UI",
	Long: `Starts the embedded engine, opens the vault UI in the browser and serves
the host capabilities to it: notifications, clipboard, LAN address lookup and
file export and import through terminal prompts.

Ctrl-C acts as back navigation: the UI locks first, a second Ctrl-C exits.`,
	Args:        cobra.NoArgs,
	Annotations: map[string]string{annotationOwnInterrupt: ""},
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runShell(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(shellCmd)
}

// lateController forwards to a Controller that is created after the broker
// it serves.
type lateController struct {
	ctrl *host.Controller
}

func (l *lateController) Pick(req transfer.PickRequest, resolve func(transfer.Document)) error {
	return l.ctrl.Pick(req, resolve)
}

func (l *lateController) ImportComplete(path *string) {
	l.ctrl.ImportComplete(path)
}

func runShell(parent context.Context) error {
	logger := log.WithComponent("shell")

	ctx, dismiss := context.WithCancel(parent)
	defer dismiss()

	cache, err := security.New(cfg.Data.CacheDir)
	if err != nil {
		return fmt.Errorf("cache directory: %w", err)
	}
	defer cache.Close()

	loop := uithread.New()
	notifier := terminal.NewNotifier(os.Stderr)
	late := &lateController{}

	broker := transfer.New(transfer.Config{
		CacheDir:    cache.Dir(),
		ExportLabel: cfg.Transfer.ExportLabel,
		Logger:      log.WithComponent("transfer"),
	}, late, loop, notifier, late)

	br := bridge.New(bridge.Deps{
		Notifier:  notifier,
		Clipboard: terminal.NewClipboard(os.Stdout),
		Transfers: broker,
		CacheDir:  cache,
		UI:        loop,
		Logger:    log.WithComponent("bridge"),
	})

	var open func(string) error
	if cfg.Shell.OpenBrowser {
		open = terminal.OpenBrowser
	}
	surf := surface.New(surface.Config{
		Bridge: br,
		Open:   open,
		Logger: log.WithComponent("surface"),
	})

	var ctrl *host.Controller
	handle := lifecycle.New(engine.Launcher{
		Addr:    cfg.Engine.Addr,
		Options: []engine.ServerOption{engine.WithServiceOptions(engine.WithLogger(log.WithComponent("service")))},
	}, loop,
		lifecycle.WithStartupTimeout(cfg.Engine.StartupTimeout),
		lifecycle.WithLogger(log.WithComponent("lifecycle")),
		lifecycle.WithOnExit(func(err error) { ctrl.EngineExited(err) }),
	)

	picker := terminal.NewPicker(os.Stdin, os.Stderr, func(token uint64, doc transfer.Document) {
		ctrl.Deliver(token, doc)
	})
	ctrl, err = host.New(host.Deps{
		FilesDir:    cfg.Data.FilesDir,
		Engine:      handle,
		Surface:     surf,
		Shell:       host.ShellFunc(dismiss),
		Picker:      picker,
		Notifier:    notifier,
		UI:          loop,
		BackTimeout: cfg.Shell.BackTimeout,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	late.ctrl = ctrl

	ln, err := surf.Listen(cfg.Shell.BridgeAddr)
	if err != nil {
		return err
	}

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return loop.Run(gctx)
	})
	g.Go(func() error {
		return surf.Serve(gctx, ln)
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-interrupts:
				loop.Post(ctrl.BackPressed)
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		ctrl.Teardown()
		picker.Close()
		handle.Wait()
		return nil
	})

	loop.Post(func() {
		if err := ctrl.Start(); err != nil {
			notifier.Notify("Could not start the vault engine: "+err.Error(), true)
		}
	})
	logger.Info().Str("bridge", surf.BaseURL()).Msg("shell started")

	return g.Wait()
}
