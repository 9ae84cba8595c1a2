package engine

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"
)

// Network requests allowed per client address and window on the LAN listener.
const (
	NetworkRequestLimit = 60
	NetworkWindow       = time.Minute
)

// Network is the optional TLS listener that exposes the engine to the local
// network. At most one listener exists at a time.
type Network struct {
	addr   string
	logger zerolog.Logger

	mu      sync.Mutex
	handler http.Handler
	server  *http.Server
	port    int
}

// NewNetwork creates a stopped LAN listener bound to addr when started.
func NewNetwork(addr string, logger zerolog.Logger) *Network {
	return &Network{addr: addr, logger: logger}
}

// Handle sets the handler served to LAN clients.
func (n *Network) Handle(h http.Handler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handler = h
}

func rateLimit(next http.Handler) http.Handler {
	return httprate.Limit(
		NetworkRequestLimit,
		NetworkWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", strconv.Itoa(int(NetworkWindow.Seconds())))
			http.Error(w, "too many requests", http.StatusTooManyRequests)
		}),
	)(next)
}

// Listen starts the listener if needed and returns its port.
func (n *Network) Listen(ctx context.Context) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.server != nil {
		return n.port, nil
	}
	if n.handler == nil {
		return 0, ErrUnavailable
	}

	ips, err := networkIPs()
	if err != nil {
		n.logger.Warn().Err(err).Msg("certificate will only cover loopback")
	}
	cert, err := selfSignedCertificate(ips)
	if err != nil {
		return 0, err
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", n.addr)
	if err != nil {
		return 0, fmt.Errorf("listen %s: %w", n.addr, err)
	}
	port := ln.Addr().(*net.TCPAddr).Port

	srv := &http.Server{
		Handler:           rateLimit(n.handler),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		TLSConfig: &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		},
	}
	go func() {
		if err := srv.Serve(tls.NewListener(ln, srv.TLSConfig)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			n.logger.Error().Err(err).Msg("network listener failed")
		}
	}()

	n.server = srv
	n.port = port
	n.logger.Info().Int("port", port).Msg("network access enabled")
	return port, nil
}

// Port returns the listener port, if listening.
func (n *Network) Port() (int, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.port, n.server != nil
}

// Close stops the listener. Closing a stopped listener is a no-op.
func (n *Network) Close() error {
	n.mu.Lock()
	srv := n.server
	n.server = nil
	n.port = 0
	n.mu.Unlock()

	if srv == nil {
		return nil
	}
	n.logger.Info().Msg("network access disabled")
	return srv.Close()
}
