package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/illarion/vaultshell/internal/crypto"
	"github.com/illarion/vaultshell/internal/metrics"
	"github.com/rs/zerolog"
)

// JSON-RPC 2.0 error codes
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
)

const maxRequestBody = 4 << 20

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcError struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result"`
	Error   *rpcError       `json:"error,omitempty"`
}

// args holds call parameters by name. Positional params are mapped to names
// in method declaration order.
type args map[string]json.RawMessage

func (a args) decode(name string, v any) error {
	raw, ok := a[name]
	if !ok || bytes.Equal(raw, []byte("null")) {
		return fmt.Errorf("%w: missing %s", ErrInvalidArgument, name)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidArgument, name, err)
	}
	return nil
}

// optional leaves v untouched when name is absent or null.
func (a args) optional(name string, v any) error {
	raw, ok := a[name]
	if !ok || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidArgument, name, err)
	}
	return nil
}

type method struct {
	params []string
	call   func(ctx context.Context, a args) (any, error)
}

// Dispatcher routes JSON-RPC calls to the vault service and the LAN listener.
type Dispatcher struct {
	svc     *Service
	net     *Network
	methods map[string]method
	logger  zerolog.Logger
}

// NewDispatcher registers the RPC methods. network may be nil, in which case
// the network methods report ErrUnavailable.
func NewDispatcher(svc *Service, network *Network, logger zerolog.Logger) *Dispatcher {
	d := &Dispatcher{svc: svc, net: network, logger: logger}
	d.methods = map[string]method{
		"is_master_password_set": {nil, d.isMasterPasswordSet},
		"set_master_password":    {[]string{"master_password"}, d.setMasterPassword},
		"verify_master_password": {[]string{"master_password"}, d.verifyMasterPassword},
		"list_password":          {[]string{"master_password"}, d.listPassword},
		"get_password":           {[]string{"master_password", "id"}, d.getPassword},
		"make_password":          {[]string{"option"}, d.makePassword},
		"add_password":           {[]string{"master_password", "name", "password"}, d.addPassword},
		"update_password":        {[]string{"master_password", "id", "name", "password"}, d.updatePassword},
		"delete_password":        {[]string{"master_password", "id"}, d.deletePassword},
		"change_password":        {[]string{"master_password", "new_password"}, d.changePassword},
		"import_password":        {[]string{"master_password", "decrypt_password", "source"}, d.importPassword},
		"export_password":        {[]string{"master_password", "file"}, d.exportPassword},
		"listen_network":         {[]string{"master_password"}, d.listenNetwork},
		"close_network":          {[]string{"master_password"}, d.closeNetwork},
		"get_network_port":       {[]string{"master_password"}, d.getNetworkPort},
	}
	return d
}

// ServeHTTP handles a single JSON-RPC request.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(&req); err != nil {
		d.write(w, rpcResponse{Error: &rpcError{Code: codeParseError, Message: "parse error"}})
		return
	}
	d.write(w, d.call(r.Context(), req))
}

// call executes one decoded request.
func (d *Dispatcher) call(ctx context.Context, req rpcRequest) rpcResponse {
	resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}
	if req.JSONRPC != "2.0" || req.Method == "" {
		resp.Error = &rpcError{Code: codeInvalidRequest, Message: "invalid request"}
		return resp
	}

	m, ok := d.methods[req.Method]
	if !ok {
		resp.Error = &rpcError{Code: codeMethodNotFound, Message: "method not found: " + req.Method}
		return resp
	}

	a, err := m.bind(req.Params)
	if err != nil {
		resp.Error = &rpcError{Code: codeInvalidParams, Message: err.Error()}
		return resp
	}

	result, err := m.call(ctx, a)
	metrics.RPCCalls.WithLabelValues(req.Method, outcome(err)).Inc()
	if err != nil {
		if errors.Is(err, ErrInvalidArgument) {
			resp.Error = &rpcError{Code: codeInvalidParams, Message: err.Error(), Data: map[string]any{"kind": Kind(err)}}
			return resp
		}
		kind := Kind(err)
		if kind == "InternalError" {
			d.logger.Error().Err(err).Str("method", req.Method).Msg("rpc call failed")
		}
		resp.Error = &rpcError{Code: codeServerError, Message: err.Error(), Data: map[string]any{"kind": kind}}
		return resp
	}
	resp.Result = result
	return resp
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return Kind(err)
}

func (m method) bind(raw json.RawMessage) (args, error) {
	raw = bytes.TrimSpace(raw)
	a := args{}
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return a, nil
	}
	if raw[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, err
		}
		if len(list) > len(m.params) {
			return nil, fmt.Errorf("too many params: got %d, want at most %d", len(list), len(m.params))
		}
		for i, v := range list {
			a[m.params[i]] = v
		}
		return a, nil
	}
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, err
	}
	return a, nil
}

func (d *Dispatcher) write(w http.ResponseWriter, resp rpcResponse) {
	if resp.JSONRPC == "" {
		resp.JSONRPC = "2.0"
	}
	if resp.ID == nil {
		resp.ID = json.RawMessage("null")
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		d.logger.Warn().Err(err).Msg("failed to write rpc response")
	}
}

func (d *Dispatcher) isMasterPasswordSet(_ context.Context, _ args) (any, error) {
	return d.svc.IsMasterPasswordSet()
}

func (d *Dispatcher) setMasterPassword(_ context.Context, a args) (any, error) {
	var pw string
	if err := a.decode("master_password", &pw); err != nil {
		return nil, err
	}
	return nil, d.svc.SetMasterPassword(pw)
}

func (d *Dispatcher) verifyMasterPassword(_ context.Context, a args) (any, error) {
	var pw string
	if err := a.decode("master_password", &pw); err != nil {
		return nil, err
	}
	return d.svc.VerifyMasterPassword(pw)
}

func (d *Dispatcher) listPassword(_ context.Context, a args) (any, error) {
	var pw string
	if err := a.decode("master_password", &pw); err != nil {
		return nil, err
	}
	return d.svc.ListPasswords(pw)
}

func (d *Dispatcher) getPassword(_ context.Context, a args) (any, error) {
	var pw string
	var id uint64
	if err := a.decode("master_password", &pw); err != nil {
		return nil, err
	}
	if err := a.decode("id", &id); err != nil {
		return nil, err
	}
	return d.svc.GetPassword(pw, id)
}

func (d *Dispatcher) makePassword(_ context.Context, a args) (any, error) {
	var opts crypto.PasswordOptions
	if err := a.decode("option", &opts); err != nil {
		return nil, err
	}
	return d.svc.MakePassword(opts)
}

func (d *Dispatcher) addPassword(_ context.Context, a args) (any, error) {
	var pw, name, password string
	if err := a.decode("master_password", &pw); err != nil {
		return nil, err
	}
	if err := a.decode("name", &name); err != nil {
		return nil, err
	}
	if err := a.decode("password", &password); err != nil {
		return nil, err
	}
	if _, err := d.svc.AddPassword(pw, name, password); err != nil {
		return nil, err
	}
	return nil, nil
}

func (d *Dispatcher) updatePassword(_ context.Context, a args) (any, error) {
	var pw, name, password string
	var id uint64
	if err := a.decode("master_password", &pw); err != nil {
		return nil, err
	}
	if err := a.decode("id", &id); err != nil {
		return nil, err
	}
	if err := a.decode("name", &name); err != nil {
		return nil, err
	}
	if err := a.decode("password", &password); err != nil {
		return nil, err
	}
	return nil, d.svc.UpdatePassword(pw, id, name, password)
}

func (d *Dispatcher) deletePassword(_ context.Context, a args) (any, error) {
	var pw string
	var id uint64
	if err := a.decode("master_password", &pw); err != nil {
		return nil, err
	}
	if err := a.decode("id", &id); err != nil {
		return nil, err
	}
	return nil, d.svc.DeletePassword(pw, id)
}

func (d *Dispatcher) changePassword(_ context.Context, a args) (any, error) {
	var pw, newPw string
	if err := a.decode("master_password", &pw); err != nil {
		return nil, err
	}
	if err := a.decode("new_password", &newPw); err != nil {
		return nil, err
	}
	return nil, d.svc.ChangePassword(pw, newPw)
}

func (d *Dispatcher) importPassword(_ context.Context, a args) (any, error) {
	var pw, decryptPw string
	var src ImportSource
	if err := a.decode("master_password", &pw); err != nil {
		return nil, err
	}
	if err := a.optional("decrypt_password", &decryptPw); err != nil {
		return nil, err
	}
	if err := a.decode("source", &src); err != nil {
		return nil, err
	}
	return d.svc.ImportPasswords(pw, decryptPw, src)
}

func (d *Dispatcher) exportPassword(_ context.Context, a args) (any, error) {
	var pw, file string
	if err := a.decode("master_password", &pw); err != nil {
		return nil, err
	}
	if err := a.optional("file", &file); err != nil {
		return nil, err
	}
	pairs, err := d.svc.ExportPasswords(pw, file)
	if err != nil || file != "" {
		return nil, err
	}
	return pairs, nil
}

// authorize checks the master password before a network operation.
func (d *Dispatcher) authorize(a args) error {
	var pw string
	if err := a.decode("master_password", &pw); err != nil {
		return err
	}
	ok, err := d.svc.VerifyMasterPassword(pw)
	if err != nil {
		return err
	}
	if !ok {
		return ErrWrongPassword
	}
	if d.net == nil {
		return ErrUnavailable
	}
	return nil
}

func (d *Dispatcher) listenNetwork(ctx context.Context, a args) (any, error) {
	if err := d.authorize(a); err != nil {
		return nil, err
	}
	return d.net.Listen(ctx)
}

func (d *Dispatcher) closeNetwork(_ context.Context, a args) (any, error) {
	if err := d.authorize(a); err != nil {
		return nil, err
	}
	return nil, d.net.Close()
}

func (d *Dispatcher) getNetworkPort(_ context.Context, a args) (any, error) {
	if err := d.authorize(a); err != nil {
		return nil, err
	}
	port, ok := d.net.Port()
	if !ok {
		return nil, nil
	}
	return port, nil
}
