// Package transfer moves export and import files between the app cache
// directory and locations the user picks.
//
// Broker state is owned by the UI goroutine: every method and every picker
// continuation must run there. Byte copies run on worker goroutines and
// report back by posting to the UI goroutine.
package transfer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"
	"github.com/illarion/vaultshell/internal/metrics"
	"github.com/rs/zerolog"
)

const (
	// DefaultExportLabel prefixes suggested export file names.
	DefaultExportLabel = "vault"
	// MIMEType is the document type offered to and requested from the picker.
	MIMEType = "text/plain"

	copyBufferSize = 8 * 1024
)

// ErrTransferPending rejects a request while one of the same kind is open.
var ErrTransferPending = errors.New("transfer already in progress")

// StreamError reports a failed open, read, write or close during a copy.
type StreamError struct {
	Op  string
	Err error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
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

// ImportSink receives the cache path of an imported file, or nil when the
// import was cancelled or failed.
type ImportSink interface {
	ImportComplete(path *string)
}

// Config configures a Broker.
type Config struct {
	CacheDir    string
	ExportLabel string
	Now         func() time.Time
	Logger      zerolog.Logger
}

type pendingExport struct {
	source      string
	requestedAt time.Time
}

// Broker mediates export and import file transfers. At most one export and
// one import are pending at any time.
type Broker struct {
	cfg      Config
	picker   Picker
	sched    Scheduler
	notifier Notifier
	sink     ImportSink

	export    *pendingExport
	importing bool
}

// New creates a Broker.
func New(cfg Config, picker Picker, sched Scheduler, notifier Notifier, sink ImportSink) *Broker {
	if cfg.ExportLabel == "" {
		cfg.ExportLabel = DefaultExportLabel
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Broker{
		cfg:      cfg,
		picker:   picker,
		sched:    sched,
		notifier: notifier,
		sink:     sink,
	}
}

// ExportFileName is the suggested name for an export created at t.
func ExportFileName(label string, t time.Time) string {
	return fmt.Sprintf("%s_%s.txt", label, t.Format("20060102_150405"))
}

// Pending reports whether an export or an import is in flight.
func (b *Broker) Pending() (export bool, importing bool) {
	return b.export != nil, b.importing
}

// BeginExport hands sourcePath, a temporary file already written by the
// engine, to the user. The file is deleted once the request resolves,
// whatever the outcome.
func (b *Broker) BeginExport(sourcePath string) error {
	if b.export != nil {
		metrics.TransfersTotal.WithLabelValues("export", "rejected").Inc()
		return ErrTransferPending
	}

	now := b.cfg.Now()
	b.export = &pendingExport{source: sourcePath, requestedAt: now}
	req := PickRequest{
		Kind:          CreateDocument,
		MIME:          MIMEType,
		SuggestedName: ExportFileName(b.cfg.ExportLabel, now),
	}
	if err := b.picker.Pick(req, b.resolveExport); err != nil {
		b.finishExport()
		metrics.TransfersTotal.WithLabelValues("export", "failed").Inc()
		return fmt.Errorf("launch picker: %w", err)
	}
	b.cfg.Logger.Debug().Str("suggested", req.SuggestedName).Msg("export requested")
	return nil
}

func (b *Broker) resolveExport(dst Document) {
	p := b.export
	if p == nil {
		b.cfg.Logger.Warn().Msg("export resolved with nothing pending")
		return
	}
	if dst == nil {
		metrics.TransfersTotal.WithLabelValues("export", "cancelled").Inc()
		b.finishExport()
		return
	}

	b.sched.Go(func() {
		n, err := copyToDocument(p.source, dst)
		done := func() {
			if err != nil {
				metrics.TransfersTotal.WithLabelValues("export", "failed").Inc()
				b.cfg.Logger.Error().Err(err).Str("destination", dst.Name()).Msg("export failed")
				b.notifier.Notify("Export failed: "+err.Error(), true)
			} else {
				metrics.TransfersTotal.WithLabelValues("export", "ok").Inc()
				metrics.TransferBytes.WithLabelValues("export").Add(float64(n))
				b.cfg.Logger.Info().Int64("bytes", n).Str("destination", dst.Name()).Msg("export finished")
				b.notifier.Notify("Export succeeded", false)
			}
			b.finishExport()
		}
		if !b.sched.Post(done) {
			removeFile(b.cfg.Logger, p.source)
		}
	})
}

// finishExport deletes the temporary source and clears the pending export.
func (b *Broker) finishExport() {
	if b.export == nil {
		return
	}
	removeFile(b.cfg.Logger, b.export.source)
	b.export = nil
}

func removeFile(logger zerolog.Logger, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn().Err(err).Str("path", path).Msg("failed to remove temporary file")
	}
}

func copyToDocument(source string, dst Document) (int64, error) {
	src, err := os.Open(source)
	if err != nil {
		return 0, &StreamError{Op: "open source", Err: err}
	}
	defer src.Close()

	w, err := dst.OpenWriter()
	if err != nil {
		return 0, &StreamError{Op: "open destination", Err: err}
	}
	n, err := io.CopyBuffer(w, src, make([]byte, copyBufferSize))
	if err != nil {
		w.Close()
		return n, &StreamError{Op: "copy", Err: err}
	}
	if err := w.Close(); err != nil {
		return n, &StreamError{Op: "close destination", Err: err}
	}
	return n, nil
}

// BeginImport asks the user for a file to import. The sink is told the
// resulting cache path, or nil.
func (b *Broker) BeginImport() error {
	if b.importing {
		metrics.TransfersTotal.WithLabelValues("import", "rejected").Inc()
		return ErrTransferPending
	}

	b.importing = true
	req := PickRequest{Kind: OpenDocument, MIME: MIMEType}
	if err := b.picker.Pick(req, b.resolveImport); err != nil {
		b.importing = false
		metrics.TransfersTotal.WithLabelValues("import", "failed").Inc()
		return fmt.Errorf("launch picker: %w", err)
	}
	return nil
}

func (b *Broker) resolveImport(src Document) {
	if !b.importing {
		b.cfg.Logger.Warn().Msg("import resolved with nothing pending")
		return
	}
	if src == nil {
		b.importing = false
		metrics.TransfersTotal.WithLabelValues("import", "cancelled").Inc()
		b.sink.ImportComplete(nil)
		return
	}

	path := filepath.Join(b.cfg.CacheDir, fmt.Sprintf("%d-%s", b.cfg.Now().UnixMilli(), uuid.New().String()))
	b.sched.Go(func() {
		n, err := copyFromDocument(src, path)
		done := func() {
			b.importing = false
			if err != nil {
				metrics.TransfersTotal.WithLabelValues("import", "failed").Inc()
				b.cfg.Logger.Error().Err(err).Str("source", src.Name()).Msg("import failed")
				b.notifier.Notify("Import failed: "+err.Error(), true)
				b.sink.ImportComplete(nil)
				return
			}
			metrics.TransfersTotal.WithLabelValues("import", "ok").Inc()
			metrics.TransferBytes.WithLabelValues("import").Add(float64(n))
			b.cfg.Logger.Info().Int64("bytes", n).Msg("import copied to cache")
			b.sink.ImportComplete(&path)
		}
		if !b.sched.Post(done) && err == nil {
			removeFile(b.cfg.Logger, path)
		}
	})
}

// copyFromDocument writes src to path atomically; on failure nothing is
// left at path.
func copyFromDocument(src Document, path string) (int64, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return 0, &StreamError{Op: "create cache directory", Err: err}
	}

	r, err := src.OpenReader()
	if err != nil {
		return 0, &StreamError{Op: "open source", Err: err}
	}
	defer r.Close()

	pending, err := renameio.NewPendingFile(path, renameio.WithTempDir(dir), renameio.WithPermissions(0600))
	if err != nil {
		return 0, &StreamError{Op: "create cache file", Err: err}
	}
	defer func() { _ = pending.Cleanup() }()

	n, err := io.CopyBuffer(pending, r, make([]byte, copyBufferSize))
	if err != nil {
		return n, &StreamError{Op: "copy", Err: err}
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return n, &StreamError{Op: "commit cache file", Err: err}
	}
	return n, nil
}
