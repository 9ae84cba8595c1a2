// Package surface is the shell side of the UI content. It opens the engine
// page in a browser, serves the bridge to it and injects calls into it over
// a long poll.
package surface

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/illarion/vaultshell/internal/metrics"
	"github.com/rs/zerolog"
)

const (
	// DefaultPollTimeout is how long GET /surface/calls waits for a call.
	DefaultPollTimeout = 25 * time.Second

	outboxSize   = 16
	maxReplyBody = 64 << 10
)

var (
	// ErrNotLoaded is returned by Invoke before content has been loaded.
	ErrNotLoaded = errors.New("surface: content not loaded")
	// ErrNotServing is returned by Load before Serve has started.
	ErrNotServing = errors.New("surface: not serving")
)

// Call is a function invocation delivered to content.
type Call struct {
	ID   string `json:"id"`
	Fn   string `json:"fn"`
	Args []any  `json:"args"`
}

type reply struct {
	Value *string `json:"value"`
}

// Config configures a Surface.
type Config struct {
	// Bridge serves the capability calls of content.
	Bridge interface{ Routes(chi.Router) }
	// Open displays a URL, typically in the system browser. Nil disables it.
	Open        func(url string) error
	PollTimeout time.Duration
	Logger      zerolog.Logger
}

// Surface implements host.Surface.
type Surface struct {
	cfg    Config
	log    zerolog.Logger
	router chi.Router
	outbox chan Call

	mu      sync.Mutex
	base    string
	url     string
	origin  string
	waiting map[string]chan reply
}

// New creates a Surface.
func New(cfg Config) *Surface {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	s := &Surface{
		cfg:     cfg,
		log:     cfg.Logger,
		outbox:  make(chan Call, outboxSize),
		waiting: make(map[string]chan reply),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.cors)
	r.Get("/surface/calls", s.handlePoll)
	r.Post("/surface/replies/{id}", s.handleReply)
	r.Handle("/metrics", metrics.Handler())
	if cfg.Bridge != nil {
		cfg.Bridge.Routes(r)
	}
	s.router = r
	return s
}

// Handler returns the HTTP handler of the surface.
func (s *Surface) Handler() http.Handler {
	return s.router
}

// Listen binds addr and records it as the base URL, so Load works before
// Serve is scheduled.
func (s *Surface) Listen(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("surface: listen: %w", err)
	}
	s.setBase(ln.Addr())
	return ln, nil
}

func (s *Surface) setBase(addr net.Addr) {
	s.mu.Lock()
	s.base = "http://" + addr.String()
	s.mu.Unlock()
}

// Serve serves the surface on ln until ctx is done.
func (s *Surface) Serve(ctx context.Context, ln net.Listener) error {
	s.setBase(ln.Addr())

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.log.Info().Str("addr", ln.Addr().String()).Msg("surface listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
		}
		<-errCh
		return nil
	}
}

// BaseURL is the origin content uses to reach the shell, empty before Serve.
func (s *Surface) BaseURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.base
}

// URL is the loaded content URL, empty before Load.
func (s *Surface) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

// Load points the surface at the engine page and opens it.
func (s *Surface) Load(pageURL string) error {
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("surface: invalid content url %q", pageURL)
	}

	s.mu.Lock()
	base := s.base
	if base == "" {
		s.mu.Unlock()
		return ErrNotServing
	}
	s.url = pageURL
	s.origin = u.Scheme + "://" + u.Host
	s.mu.Unlock()

	target := pageURL + "/?bridge=" + url.QueryEscape(base)
	s.log.Info().Str("url", target).Msg("loading content")
	if s.cfg.Open == nil {
		return nil
	}
	return s.cfg.Open(target)
}

// Invoke calls window[fn](args...) in content and returns its reply. A null
// reply is returned as the empty string.
func (s *Surface) Invoke(ctx context.Context, fn string, args ...any) (string, error) {
	if s.URL() == "" {
		return "", ErrNotLoaded
	}
	if args == nil {
		args = []any{}
	}
	call := Call{ID: uuid.NewString(), Fn: fn, Args: args}
	ch := make(chan reply, 1)

	s.mu.Lock()
	s.waiting[call.ID] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.waiting, call.ID)
		s.mu.Unlock()
	}()

	select {
	case s.outbox <- call:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	select {
	case r := <-ch:
		if r.Value == nil {
			return "", nil
		}
		return *r.Value, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// handlePoll hands the next live call to content. Calls whose Invoke has
// already returned are dropped so content never runs them late.
func (s *Surface) handlePoll(w http.ResponseWriter, r *http.Request) {
	timer := time.NewTimer(s.cfg.PollTimeout)
	defer timer.Stop()

	for {
		select {
		case call := <-s.outbox:
			if !s.awaiting(call.ID) {
				s.log.Debug().Str("id", call.ID).Str("fn", call.Fn).Msg("dropping expired call")
				continue
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Cache-Control", "no-store")
			if err := json.NewEncoder(w).Encode(call); err != nil {
				s.log.Warn().Err(err).Str("fn", call.Fn).Msg("failed to deliver call")
			}
			return
		case <-timer.C:
			w.WriteHeader(http.StatusNoContent)
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Surface) awaiting(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.waiting[id]
	return ok
}

func (s *Surface) handleReply(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var rep reply
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxReplyBody)).Decode(&rep); err != nil {
		http.Error(w, "malformed reply", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	ch, ok := s.waiting[id]
	s.mu.Unlock()
	if !ok {
		s.log.Debug().Str("id", id).Msg("reply for unknown or expired call")
		http.NotFound(w, r)
		return
	}
	select {
	case ch <- rep:
	default:
	}
	w.WriteHeader(http.StatusNoContent)
}

// cors admits the loaded content origin only. Requests without an Origin
// header pass through unchanged.
func (s *Surface) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			s.mu.Lock()
			allowed := origin == s.origin
			s.mu.Unlock()
			if !allowed {
				http.Error(w, "origin not allowed", http.StatusForbidden)
				return
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Set("Access-Control-Max-Age", "600")
			w.Header().Set("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
