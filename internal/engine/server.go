package engine

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/illarion/vaultshell/internal/log"
	"github.com/illarion/vaultshell/internal/storage"
)

// DatabaseFile is the vault database name inside the data directory.
const DatabaseFile = "database"

// NetworkAddr is where the LAN listener binds.
const NetworkAddr = "0.0.0.0:0"

const shutdownTimeout = 5 * time.Second

//go:embed web/index.html
var indexHTML []byte

// ServerOption configures Run.
type ServerOption func(*serverOptions)

type serverOptions struct {
	svcOpts     []Option
	networkAddr string
}

// WithServiceOptions passes options through to the vault service.
func WithServiceOptions(opts ...Option) ServerOption {
	return func(o *serverOptions) { o.svcOpts = append(o.svcOpts, opts...) }
}

// WithNetworkAddr overrides the LAN listener address.
func WithNetworkAddr(addr string) ServerOption {
	return func(o *serverOptions) { o.networkAddr = addr }
}

// OpenVault creates dataDir if needed and opens the vault database in it.
func OpenVault(dataDir string) (*storage.Storage, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	db, err := storage.Open(filepath.Join(dataDir, DatabaseFile))
	if err != nil {
		return nil, err
	}
	if err := db.Initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return db, nil
}

// NewRouter builds the engine HTTP handler.
func NewRouter(rpc http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(indexHTML)
	})
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Post("/rpc", rpc.ServeHTTP)
	return r
}

// Run opens the vault under dataDir, binds addr and serves the engine until
// ctx is cancelled. onStarted is called once with the bound address.
func Run(ctx context.Context, addr, dataDir string, onStarted func(net.Addr), opts ...ServerOption) error {
	logger := log.WithComponent("engine")
	o := serverOptions{networkAddr: NetworkAddr}
	for _, opt := range opts {
		opt(&o)
	}

	db, err := OpenVault(dataDir)
	if err != nil {
		return err
	}
	defer db.Close()

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	svc := NewService(db, append([]Option{WithLogger(logger)}, o.svcOpts...)...)
	network := NewNetwork(o.networkAddr, logger)
	handler := NewRouter(NewDispatcher(svc, network, logger))
	network.Handle(handler)
	defer network.Close()

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	logger.Info().Str("addr", ln.Addr().String()).Str("data_dir", dataDir).Msg("engine started")
	if onStarted != nil {
		onStarted(ln.Addr())
	}

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("engine server: %w", err)
	case <-ctx.Done():
		logger.Info().Msg("engine stopping")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("engine shutdown: %w", err)
		}
		return nil
	}
}

// Launcher runs the engine on a fixed loopback address.
type Launcher struct {
	Addr    string
	Options []ServerOption
}

// Launch implements lifecycle.Launcher. It blocks while the engine runs.
func (l Launcher) Launch(ctx context.Context, dataDir string, onStarted func(url string)) error {
	return Run(ctx, l.Addr, dataDir, func(addr net.Addr) {
		if onStarted != nil {
			onStarted("http://" + addr.String())
		}
	}, l.Options...)
}
