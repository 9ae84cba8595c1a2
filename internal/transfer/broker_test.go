package transfer

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// testScheduler queues posted tasks for the test to run as the UI goroutine.
type testScheduler struct {
	tasks   chan func()
	workers sync.WaitGroup
	closed  bool
}

func newTestScheduler() *testScheduler {
	return &testScheduler{tasks: make(chan func(), 8)}
}

func (s *testScheduler) Post(task func()) bool {
	if s.closed {
		return false
	}
	s.tasks <- task
	return true
}

func (s *testScheduler) Go(fn func()) {
	s.workers.Add(1)
	go func() {
		defer s.workers.Done()
		fn()
	}()
}

func (s *testScheduler) runNext(t *testing.T) {
	t.Helper()
	select {
	case task := <-s.tasks:
		task()
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not post back")
	}
	s.workers.Wait()
}

type fakePicker struct {
	requests []PickRequest
	resolve  func(Document)
	err      error
}

func (p *fakePicker) Pick(req PickRequest, resolve func(Document)) error {
	if p.err != nil {
		return p.err
	}
	p.requests = append(p.requests, req)
	p.resolve = resolve
	return nil
}

type message struct {
	text string
	long bool
}

type fakeNotifier struct {
	messages []message
}

func (n *fakeNotifier) Notify(text string, long bool) {
	n.messages = append(n.messages, message{text, long})
}

type fakeSink struct {
	calls []*string
}

func (s *fakeSink) ImportComplete(path *string) {
	s.calls = append(s.calls, path)
}

// countingDocument records every writer it hands out.
type countingDocument struct {
	name    string
	opened  int
	written bytes.Buffer
	readErr error
	content string
}

func (d *countingDocument) Name() string { return d.name }

func (d *countingDocument) OpenReader() (io.ReadCloser, error) {
	if d.readErr != nil {
		return nil, d.readErr
	}
	return io.NopCloser(strings.NewReader(d.content)), nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func (d *countingDocument) OpenWriter() (io.WriteCloser, error) {
	d.opened++
	return nopWriteCloser{&d.written}, nil
}

type fixture struct {
	broker   *Broker
	picker   *fakePicker
	sched    *testScheduler
	notifier *fakeNotifier
	sink     *fakeSink
	cacheDir string
}

var fixedNow = time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		picker:   &fakePicker{},
		sched:    newTestScheduler(),
		notifier: &fakeNotifier{},
		sink:     &fakeSink{},
		cacheDir: filepath.Join(t.TempDir(), "cache"),
	}
	f.broker = New(Config{
		CacheDir: f.cacheDir,
		Now:      func() time.Time { return fixedNow },
		Logger:   zerolog.Nop(),
	}, f.picker, f.sched, f.notifier, f.sink)
	return f
}

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plain.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestExportFileName(t *testing.T) {
	assert.Equal(t, "vault_20240309_140507.txt", ExportFileName("vault", fixedNow))
}

func TestExportCopiesThenDeletes(t *testing.T) {
	f := newFixture(t)
	content := strings.Repeat("x", 37)
	source := writeTemp(t, content)

	require.NoError(t, f.broker.BeginExport(source))
	require.Len(t, f.picker.requests, 1)
	assert.Equal(t, PickRequest{Kind: CreateDocument, MIME: "text/plain", SuggestedName: "vault_20240309_140507.txt"}, f.picker.requests[0])
	export, _ := f.broker.Pending()
	assert.True(t, export)

	dst := &countingDocument{name: "out.txt"}
	f.picker.resolve(dst)
	f.sched.runNext(t)

	assert.Equal(t, 1, dst.opened, "exactly one write stream")
	assert.Equal(t, content, dst.written.String())
	assert.NoFileExists(t, source)
	assert.Equal(t, []message{{"Export succeeded", false}}, f.notifier.messages)
	export, _ = f.broker.Pending()
	assert.False(t, export)
}

func TestExportLargerThanBuffer(t *testing.T) {
	f := newFixture(t)
	content := strings.Repeat("0123456789", 5000)
	source := writeTemp(t, content)
	dstPath := filepath.Join(t.TempDir(), "dest.txt")

	require.NoError(t, f.broker.BeginExport(source))
	f.picker.resolve(FileDocument(dstPath))
	f.sched.runNext(t)

	got, err := os.ReadFile(dstPath)
	require.NoError(t, err)
	assert.Equal(t, content, string(got))
	assert.NoFileExists(t, source)
}

func TestExportCancelledDeletesTemp(t *testing.T) {
	f := newFixture(t)
	source := writeTemp(t, "secret")

	require.NoError(t, f.broker.BeginExport(source))
	f.picker.resolve(nil)

	assert.NoFileExists(t, source)
	assert.Empty(t, f.notifier.messages)
	export, _ := f.broker.Pending()
	assert.False(t, export)
}

func TestExportFailureNotifiesAndDeletes(t *testing.T) {
	f := newFixture(t)
	source := writeTemp(t, "secret")

	require.NoError(t, f.broker.BeginExport(source))
	f.picker.resolve(FileDocument(filepath.Join(t.TempDir(), "missing", "dest.txt")))
	f.sched.runNext(t)

	assert.NoFileExists(t, source)
	require.Len(t, f.notifier.messages, 1)
	assert.True(t, f.notifier.messages[0].long)
	assert.Contains(t, f.notifier.messages[0].text, "open destination")
}

func TestSecondExportRejected(t *testing.T) {
	f := newFixture(t)
	first := writeTemp(t, "first")
	second := writeTemp(t, "second")

	require.NoError(t, f.broker.BeginExport(first))
	assert.ErrorIs(t, f.broker.BeginExport(second), ErrTransferPending)
	assert.Len(t, f.picker.requests, 1)
	assert.FileExists(t, first, "pending export untouched")
	assert.FileExists(t, second, "rejected source is the caller's")

	dst := &countingDocument{name: "out"}
	f.picker.resolve(dst)
	f.sched.runNext(t)
	assert.Equal(t, "first", dst.written.String())
	assert.NoFileExists(t, first)
}

func TestExportPickerLaunchFailure(t *testing.T) {
	f := newFixture(t)
	f.picker.err = errors.New("no display")
	source := writeTemp(t, "secret")

	err := f.broker.BeginExport(source)
	require.Error(t, err)
	assert.NoFileExists(t, source)
	export, _ := f.broker.Pending()
	assert.False(t, export)
}

func TestImportCopiesIntoCache(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.broker.BeginImport())
	assert.Equal(t, PickRequest{Kind: OpenDocument, MIME: "text/plain"}, f.picker.requests[0])
	assert.ErrorIs(t, f.broker.BeginImport(), ErrTransferPending)

	f.picker.resolve(&countingDocument{name: "in.txt", content: "[[\"a\",\"b\"]]"})
	f.sched.runNext(t)

	require.Len(t, f.sink.calls, 1)
	require.NotNil(t, f.sink.calls[0])
	path := *f.sink.calls[0]
	assert.Equal(t, f.cacheDir, filepath.Dir(path))
	assert.Regexp(t, `^\d+-[0-9a-f-]{36}$`, filepath.Base(path))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[[\"a\",\"b\"]]", string(got))

	entries, err := os.ReadDir(f.cacheDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files left behind")

	_, importing := f.broker.Pending()
	assert.False(t, importing)
}

func TestImportCancelled(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.broker.BeginImport())
	f.picker.resolve(nil)

	require.Len(t, f.sink.calls, 1)
	assert.Nil(t, f.sink.calls[0])
	assert.NoDirExists(t, f.cacheDir)
	assert.Empty(t, f.notifier.messages)
}

func TestImportReadFailure(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.broker.BeginImport())
	f.picker.resolve(&countingDocument{name: "in.txt", readErr: errors.New("permission denied")})
	f.sched.runNext(t)

	require.Len(t, f.notifier.messages, 1)
	assert.True(t, f.notifier.messages[0].long)
	require.Len(t, f.sink.calls, 1)
	assert.Nil(t, f.sink.calls[0])

	entries, err := os.ReadDir(f.cacheDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestImportAfterLoopStoppedLeavesNoFile(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.broker.BeginImport())

	f.sched.closed = true
	f.picker.resolve(&countingDocument{name: "in.txt", content: "data"})
	f.sched.workers.Wait()

	entries, err := os.ReadDir(f.cacheDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Empty(t, f.sink.calls)
}

func TestStreamErrorUnwraps(t *testing.T) {
	cause := errors.New("disk full")
	err := error(&StreamError{Op: "copy", Err: cause})
	assert.ErrorIs(t, err, cause)
	var se *StreamError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "copy", se.Op)
	assert.Equal(t, "copy: disk full", err.Error())
}
