package terminal

import (
	"bytes"
	"encoding/base64"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/illarion/vaultshell/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type result struct {
	token uint64
	doc   transfer.Document
}

func pick(t *testing.T, input string, req transfer.PickRequest) (result, string) {
	t.Helper()
	var out bytes.Buffer
	got := make(chan result, 1)
	p := NewPicker(strings.NewReader(input), &out, func(token uint64, doc transfer.Document) {
		got <- result{token, doc}
	})
	t.Cleanup(p.Close)
	require.NoError(t, p.Launch(7, req))
	r := <-got
	p.mu.Lock()
	defer p.mu.Unlock()
	return r, out.String()
}

func TestPickerCreateInDirectory(t *testing.T) {
	dir := t.TempDir()
	r, prompt := pick(t, dir+"\n", transfer.PickRequest{Kind: transfer.CreateDocument, SuggestedName: "vault_20240102_030405.txt"})

	assert.Equal(t, uint64(7), r.token)
	assert.Equal(t, transfer.FileDocument(filepath.Join(dir, "vault_20240102_030405.txt")), r.doc)
	assert.Contains(t, prompt, "vault_20240102_030405.txt")
}

func TestPickerCreateNamedFile(t *testing.T) {
	target := filepath.Join(t.TempDir(), "backup.txt")
	r, _ := pick(t, "  "+target+"  \n", transfer.PickRequest{Kind: transfer.CreateDocument, SuggestedName: "vault.txt"})
	assert.Equal(t, transfer.FileDocument(target), r.doc)
}

func TestPickerOpenWithoutNewline(t *testing.T) {
	r, prompt := pick(t, "/tmp/export.txt", transfer.PickRequest{Kind: transfer.OpenDocument})
	assert.Equal(t, transfer.FileDocument("/tmp/export.txt"), r.doc)
	assert.Contains(t, prompt, "Open file")
}

func TestPickerCancel(t *testing.T) {
	for name, input := range map[string]string{"empty line": "\n", "eof": "", "blank": "   \n"} {
		t.Run(name, func(t *testing.T) {
			r, _ := pick(t, input, transfer.PickRequest{Kind: transfer.OpenDocument})
			assert.Equal(t, uint64(7), r.token)
			assert.Nil(t, r.doc)
		})
	}
}

func TestPickerHomeExpansion(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	r, _ := pick(t, "~/exports/v.txt\n", transfer.PickRequest{Kind: transfer.OpenDocument})
	assert.Equal(t, transfer.FileDocument(filepath.Join(home, "exports", "v.txt")), r.doc)
}

func TestPickerNotInteractive(t *testing.T) {
	p := &Picker{interactive: false}
	assert.ErrorIs(t, p.Launch(1, transfer.PickRequest{}), ErrNotInteractive)
}

func TestPickerCloseAbandonsPrompt(t *testing.T) {
	r, w := io.Pipe()
	t.Cleanup(func() { _ = w.Close() })

	got := make(chan result, 1)
	p := NewPicker(r, io.Discard, func(token uint64, doc transfer.Document) {
		got <- result{token, doc}
	})
	require.NoError(t, p.Launch(3, transfer.PickRequest{Kind: transfer.OpenDocument}))

	p.Close()
	p.Close()
	assert.ErrorIs(t, p.Launch(4, transfer.PickRequest{}), ErrClosed)

	// A late line is not delivered to the abandoned prompt, and the reader
	// exits on it instead of blocking on the hand-off.
	go func() { _, _ = w.Write([]byte("/tmp/late.txt\n")) }()
	select {
	case r := <-got:
		t.Fatalf("delivered after close: %v", r)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNotifier(t *testing.T) {
	var out bytes.Buffer
	n := NewNotifier(&out)
	n.Notify("Export succeeded", false)
	n.Notify("Export failed: disk full", true)
	assert.Equal(t, "Export succeeded\n! Export failed: disk full\n", out.String())
}

func TestClipboardOSC52(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, NewClipboard(&out).Copy("s3cret!"))
	want := "\x1b]52;c;" + base64.StdEncoding.EncodeToString([]byte("s3cret!")) + "\a"
	assert.Equal(t, want, out.String())
}

func TestPasswordFromEnv(t *testing.T) {
	t.Setenv(PasswordEnv, "")
	assert.Nil(t, PasswordFromEnv())

	t.Setenv(PasswordEnv, "hunter2")
	assert.Equal(t, []byte("hunter2"), PasswordFromEnv())
}
