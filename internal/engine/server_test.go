package engine

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rpcReply struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int               `json:"code"`
		Message string            `json:"message"`
		Data    map[string]string `json:"data"`
	} `json:"error"`
}

func postRPC(t *testing.T, url, method string, params any) rpcReply {
	t.Helper()
	body, err := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": 1, "method": method, "params": params})
	require.NoError(t, err)

	resp, err := http.Post(url+"/rpc", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var reply rpcReply
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reply))
	return reply
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	svc := newTestService(t)
	srv := httptest.NewServer(NewRouter(NewDispatcher(svc, nil, zerolog.Nop())))
	t.Cleanup(srv.Close)
	return srv
}

func TestRPCPositionalAndNamedParams(t *testing.T) {
	srv := newTestServer(t)

	reply := postRPC(t, srv.URL, "is_master_password_set", nil)
	require.Nil(t, reply.Error)
	assert.JSONEq(t, "false", string(reply.Result))

	reply = postRPC(t, srv.URL, "set_master_password", []any{"master"})
	require.Nil(t, reply.Error)

	reply = postRPC(t, srv.URL, "add_password", map[string]any{
		"master_password": "master", "name": "mail", "password": "pw",
	})
	require.Nil(t, reply.Error)

	reply = postRPC(t, srv.URL, "list_password", []any{"master"})
	require.Nil(t, reply.Error)
	var items []Item
	require.NoError(t, json.Unmarshal(reply.Result, &items))
	require.Len(t, items, 1)
	assert.Equal(t, "mail", items[0].Name)

	reply = postRPC(t, srv.URL, "get_password", []any{"master", items[0].ID})
	require.Nil(t, reply.Error)
	assert.JSONEq(t, `{"name":"mail","password":"pw"}`, string(reply.Result))

	reply = postRPC(t, srv.URL, "make_password", []any{map[string]any{"len": 8, "lowercase": true}})
	require.Nil(t, reply.Error)
	var generated string
	require.NoError(t, json.Unmarshal(reply.Result, &generated))
	assert.Len(t, generated, 8)
}

func TestRPCErrors(t *testing.T) {
	srv := newTestServer(t)

	reply := postRPC(t, srv.URL, "list_password", []any{"master"})
	require.NotNil(t, reply.Error)
	assert.Equal(t, codeServerError, reply.Error.Code)
	assert.Equal(t, "NotInitialized", reply.Error.Data["kind"])

	postRPC(t, srv.URL, "set_master_password", []any{"master"})

	reply = postRPC(t, srv.URL, "list_password", []any{"wrong"})
	require.NotNil(t, reply.Error)
	assert.Equal(t, "WrongPassword", reply.Error.Data["kind"])

	reply = postRPC(t, srv.URL, "no_such_method", nil)
	require.NotNil(t, reply.Error)
	assert.Equal(t, codeMethodNotFound, reply.Error.Code)

	reply = postRPC(t, srv.URL, "get_password", []any{"master", 1, "extra"})
	require.NotNil(t, reply.Error)
	assert.Equal(t, codeInvalidParams, reply.Error.Code)

	reply = postRPC(t, srv.URL, "get_password", []any{"master"})
	require.NotNil(t, reply.Error)
	assert.Equal(t, codeInvalidParams, reply.Error.Code)

	reply = postRPC(t, srv.URL, "listen_network", []any{"master"})
	require.NotNil(t, reply.Error)
	assert.Equal(t, "Unavailable", reply.Error.Data["kind"])

	resp, err := http.Post(srv.URL+"/rpc", "application/json", bytes.NewBufferString("{"))
	require.NoError(t, err)
	defer resp.Body.Close()
	var parseReply rpcReply
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&parseReply))
	require.NotNil(t, parseReply.Error)
	assert.Equal(t, codeParseError, parseReply.Error.Code)
}

func TestIndexAndHealth(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, string(body), "<title>Vault</title>")

	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRunServesUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dataDir := filepath.Join(t.TempDir(), "vault")
	started := make(chan net.Addr, 1)
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, "127.0.0.1:0", dataDir, func(addr net.Addr) { started <- addr },
			WithServiceOptions(WithKDFIterations(testIters)))
	}()

	var addr net.Addr
	select {
	case addr = <-started:
	case err := <-done:
		t.Fatalf("Run returned early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not start")
	}

	resp, err := http.Get("http://" + addr.String() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.FileExists(t, filepath.Join(dataDir, DatabaseFile))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("engine did not stop")
	}
}

func TestLauncherReportsURL(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	urls := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- Launcher{Addr: "127.0.0.1:0"}.Launch(ctx, t.TempDir(), func(url string) { urls <- url })
	}()

	select {
	case url := <-urls:
		assert.Regexp(t, `^http://127\.0\.0\.1:\d+$`, url)
	case <-time.After(5 * time.Second):
		t.Fatal("no URL reported")
	}
	cancel()
	assert.NoError(t, <-done)
}

func TestNetworkListener(t *testing.T) {
	n := NewNetwork("127.0.0.1:0", zerolog.Nop())

	_, err := n.Listen(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable, "no handler yet")

	n.Handle(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("hello"))
	}))

	port, err := n.Listen(context.Background())
	require.NoError(t, err)
	require.NotZero(t, port)

	again, err := n.Listen(context.Background())
	require.NoError(t, err)
	assert.Equal(t, port, again, "second listen reuses the listener")

	got, ok := n.Port()
	assert.True(t, ok)
	assert.Equal(t, port, got)

	client := &http.Client{Transport: &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // self-signed test certificate
	}}
	resp, err := client.Get("https://" + net.JoinHostPort("127.0.0.1", strconv.Itoa(port)) + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "hello", string(body))

	require.NoError(t, n.Close())
	_, ok = n.Port()
	assert.False(t, ok)
	require.NoError(t, n.Close())
}

func TestSelfSignedCertificateCoversIPs(t *testing.T) {
	cert, err := selfSignedCertificate([]net.IP{net.ParseIP("192.0.2.10")})
	require.NoError(t, err)
	require.Len(t, cert.Certificate, 1)

	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	var ips []string
	for _, ip := range leaf.IPAddresses {
		ips = append(ips, ip.String())
	}
	assert.Contains(t, ips, "127.0.0.1")
	assert.Contains(t, ips, "192.0.2.10")
}
