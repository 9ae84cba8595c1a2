package transfer

import (
	"io"
	"os"
	"path/filepath"
)

// PickKind selects the system picker mode.
type PickKind int

const (
	// CreateDocument asks the user for a destination to write.
	CreateDocument PickKind = iota
	// OpenDocument asks the user for an existing source to read.
	OpenDocument
)

func (k PickKind) String() string {
	if k == CreateDocument {
		return "create"
	}
	return "open"
}

// PickRequest describes a picker invocation.
type PickRequest struct {
	Kind          PickKind
	MIME          string
	SuggestedName string
}

// Document is a user-chosen location. Handles are opened by the transfer
// worker and always closed by it.
type Document interface {
	Name() string
	OpenReader() (io.ReadCloser, error)
	OpenWriter() (io.WriteCloser, error)
}

// Picker shows the platform document picker. resolve is invoked on the UI
// goroutine exactly once, with nil when the user cancelled. An error means
// the picker could not be launched and resolve is never called.
type Picker interface {
	Pick(req PickRequest, resolve func(Document)) error
}

type fileDocument struct {
	path string
}

// FileDocument returns a Document backed by a filesystem path.
func FileDocument(path string) Document {
	return fileDocument{path: path}
}

func (d fileDocument) Name() string {
	return filepath.Base(d.path)
}

func (d fileDocument) OpenReader() (io.ReadCloser, error) {
	return os.Open(d.path)
}

func (d fileDocument) OpenWriter() (io.WriteCloser, error) {
	return os.OpenFile(d.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
}
