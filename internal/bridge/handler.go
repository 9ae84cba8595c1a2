package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/illarion/vaultshell/internal/metrics"
)

const maxCallBody = 1 << 20

type callRequest struct {
	Args []json.RawMessage `json:"args"`
}

type callResponse struct {
	Result any    `json:"result"`
	Error  string `json:"error,omitempty"`
}

var errBadArgs = errors.New("bad arguments")

type handlerFunc func(b *Bridge, args []json.RawMessage) (any, error)

func arg(args []json.RawMessage, i int, v any) error {
	if i >= len(args) {
		return fmt.Errorf("%w: missing argument %d", errBadArgs, i)
	}
	if err := json.Unmarshal(args[i], v); err != nil {
		return fmt.Errorf("%w: argument %d: %v", errBadArgs, i, err)
	}
	return nil
}

var methods = map[string]handlerFunc{
	"notify": func(b *Bridge, args []json.RawMessage) (any, error) {
		var message string
		var long bool
		if err := arg(args, 0, &message); err != nil {
			return nil, err
		}
		if len(args) > 1 {
			if err := arg(args, 1, &long); err != nil {
				return nil, err
			}
		}
		b.Notify(message, long)
		return nil, nil
	},
	"copyToClipboard": func(b *Bridge, args []json.RawMessage) (any, error) {
		var text string
		if err := arg(args, 0, &text); err != nil {
			return nil, err
		}
		return nil, b.CopyToClipboard(text)
	},
	"getLocalIPv4": func(b *Bridge, _ []json.RawMessage) (any, error) {
		ip, ok := b.GetLocalIPv4()
		if !ok {
			return nil, nil
		}
		return ip, nil
	},
	"getCacheDirectory": func(b *Bridge, _ []json.RawMessage) (any, error) {
		return b.GetCacheDirectory(), nil
	},
	"requestExport": func(b *Bridge, args []json.RawMessage) (any, error) {
		var path string
		if err := arg(args, 0, &path); err != nil {
			return nil, err
		}
		return nil, b.RequestExport(path)
	},
	"requestImport": func(b *Bridge, _ []json.RawMessage) (any, error) {
		return nil, b.RequestImport()
	},
}

// Routes registers POST /bridge/{method} on r. Each call runs on the UI
// goroutine.
func (b *Bridge) Routes(r chi.Router) {
	r.Post("/bridge/{method}", b.serveCall)
}

// Handler serves the bridge routes alone.
func (b *Bridge) Handler() http.Handler {
	r := chi.NewRouter()
	b.Routes(r)
	return r
}

func (b *Bridge) serveCall(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "method")
	fn, ok := methods[name]
	if !ok {
		http.NotFound(w, r)
		return
	}
	metrics.BridgeCalls.WithLabelValues(name).Inc()

	var req callRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCallBody)).Decode(&req); err != nil {
			writeResponse(w, http.StatusBadRequest, callResponse{Error: "malformed request body"})
			return
		}
	}

	var result any
	err := b.deps.UI.Call(r.Context(), func() error {
		var err error
		result, err = fn(b, req.Args)
		return err
	})
	if err != nil {
		status := http.StatusOK
		if errors.Is(err, errBadArgs) {
			status = http.StatusBadRequest
		}
		writeResponse(w, status, callResponse{Error: err.Error()})
		return
	}
	writeResponse(w, http.StatusOK, callResponse{Result: result})
}

func writeResponse(w http.ResponseWriter, status int, resp callResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
