// Package terminal implements the shell's platform services on a text
// terminal: document picking, notifications, clipboard and password input.
package terminal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/illarion/vaultshell/internal/transfer"
	"golang.org/x/term"
)

var (
	// ErrNotInteractive is returned by Launch when input is not a terminal.
	ErrNotInteractive = errors.New("terminal: input is not interactive")
	// ErrClosed is returned by Launch after Close.
	ErrClosed = errors.New("terminal: picker closed")
)

// Picker asks for document paths on the terminal. Results are delivered
// asynchronously by token.
//
// A single goroutine reads lines from the input. Close abandons pending
// prompts, but that goroutine stays blocked in Read until the input yields
// a line or closes, since a read on stdin cannot be interrupted.
type Picker struct {
	in          *bufio.Reader
	out         io.Writer
	deliver     func(token uint64, doc transfer.Document)
	interactive bool

	lines     chan string
	done      chan struct{}
	readOnce  sync.Once
	closeOnce sync.Once

	mu sync.Mutex
}

// NewPicker creates a Picker reading paths from in. deliver receives each
// result, nil when the user entered an empty line.
func NewPicker(in io.Reader, out io.Writer, deliver func(token uint64, doc transfer.Document)) *Picker {
	interactive := true
	if f, ok := in.(*os.File); ok {
		interactive = term.IsTerminal(int(f.Fd()))
	}
	return &Picker{
		in:          bufio.NewReader(in),
		out:         out,
		deliver:     deliver,
		interactive: interactive,
		lines:       make(chan string),
		done:        make(chan struct{}),
	}
}

// Launch prompts for a path and returns immediately.
func (p *Picker) Launch(token uint64, req transfer.PickRequest) error {
	if !p.interactive {
		return ErrNotInteractive
	}
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	p.readOnce.Do(func() { go p.readLines() })
	go func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if doc, ok := p.prompt(req); ok {
			p.deliver(token, doc)
		}
	}()
	return nil
}

// Close abandons pending prompts without delivering them. It is safe to
// call more than once.
func (p *Picker) Close() {
	p.closeOnce.Do(func() { close(p.done) })
}

func (p *Picker) readLines() {
	defer close(p.lines)
	for {
		line, err := p.in.ReadString('\n')
		if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
			return
		}
		select {
		case p.lines <- line:
		case <-p.done:
			return
		}
		if err != nil {
			return
		}
	}
}

// prompt returns false when the picker was closed before an answer arrived.
func (p *Picker) prompt(req transfer.PickRequest) (transfer.Document, bool) {
	switch req.Kind {
	case transfer.CreateDocument:
		fmt.Fprintf(p.out, "Save to (file or directory, default name %s; empty to cancel): ", req.SuggestedName)
	default:
		fmt.Fprint(p.out, "Open file (empty to cancel): ")
	}

	var line string
	select {
	case l, ok := <-p.lines:
		if !ok {
			return nil, true
		}
		line = l
	case <-p.done:
		return nil, false
	}

	path := strings.TrimSpace(line)
	if path == "" {
		return nil, true
	}
	path = expandHome(path)

	if req.Kind == transfer.CreateDocument && req.SuggestedName != "" {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			path = filepath.Join(path, req.SuggestedName)
		}
	}
	return transfer.FileDocument(path), true
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
