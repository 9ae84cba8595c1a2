package terminal

import (
	"encoding/base64"
	"fmt"
	"io"
	"sync"
)

// Notifier prints user notifications, one per line. Long notifications are
// marked with a leading "!".
type Notifier struct {
	mu  sync.Mutex
	out io.Writer
}

// NewNotifier creates a Notifier writing to out.
func NewNotifier(out io.Writer) *Notifier {
	return &Notifier{out: out}
}

// Notify prints message.
func (n *Notifier) Notify(message string, long bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if long {
		fmt.Fprintf(n.out, "! %s\n", message)
		return
	}
	fmt.Fprintln(n.out, message)
}

// Clipboard sets the system clipboard through the OSC 52 terminal escape,
// which also works over SSH.
type Clipboard struct {
	mu  sync.Mutex
	out io.Writer
}

// NewClipboard creates a Clipboard writing escapes to out.
func NewClipboard(out io.Writer) *Clipboard {
	return &Clipboard{out: out}
}

// Copy places text on the clipboard.
func (c *Clipboard) Copy(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.out, "\x1b]52;c;%s\a", base64.StdEncoding.EncodeToString([]byte(text)))
	return err
}
