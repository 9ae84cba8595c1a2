// Package bridge is the capability surface exposed to untrusted UI content.
// It offers a fixed set of narrow operations and nothing else: no generic
// filesystem access and no engine internals.
package bridge

import (
	"context"
	"fmt"
	"net"

	"github.com/illarion/vaultshell/internal/security"
	"github.com/rs/zerolog"
)

// Notifier shows a transient message to the user.
type Notifier interface {
	Notify(message string, long bool)
}

// Clipboard places text on the system clipboard.
type Clipboard interface {
	Copy(text string) error
}

// Transfers starts export and import flows. Implemented by transfer.Broker.
type Transfers interface {
	BeginExport(sourcePath string) error
	BeginImport() error
}

// Caller runs fn on the UI goroutine and waits for it.
type Caller interface {
	Call(ctx context.Context, fn func() error) error
}

// Interface is the subset of a network interface GetLocalIPv4 inspects.
type Interface struct {
	Name  string
	Flags net.Flags
	Addrs []net.Addr
}

// SystemInterfaces lists the host's network interfaces. Interfaces whose
// addresses cannot be read are returned without addresses.
func SystemInterfaces() ([]Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	out := make([]Interface, 0, len(ifaces))
	for _, iface := range ifaces {
		addrs, _ := iface.Addrs()
		out = append(out, Interface{Name: iface.Name, Flags: iface.Flags, Addrs: addrs})
	}
	return out, nil
}

// Deps are the collaborators of a Bridge.
type Deps struct {
	Notifier   Notifier
	Clipboard  Clipboard
	Transfers  Transfers
	CacheDir   *security.PathValidator
	UI         Caller
	Interfaces func() ([]Interface, error)
	Logger     zerolog.Logger
}

// Bridge implements the UI capabilities. Methods other than Handler must be
// called on the UI goroutine.
type Bridge struct {
	deps Deps
}

// New creates a Bridge. Interfaces defaults to SystemInterfaces.
func New(deps Deps) *Bridge {
	if deps.Interfaces == nil {
		deps.Interfaces = SystemInterfaces
	}
	return &Bridge{deps: deps}
}

// Notify shows message to the user.
func (b *Bridge) Notify(message string, long bool) {
	b.deps.Notifier.Notify(message, long)
}

// CopyToClipboard places text on the clipboard.
func (b *Bridge) CopyToClipboard(text string) error {
	return b.deps.Clipboard.Copy(text)
}

// GetLocalIPv4 returns the first IPv4 address of an interface that is up and
// not loopback. It is evaluated on every call.
func (b *Bridge) GetLocalIPv4() (string, bool) {
	ifaces, err := b.deps.Interfaces()
	if err != nil {
		b.deps.Logger.Debug().Err(err).Msg("interface enumeration failed")
		return "", false
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		for _, addr := range iface.Addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if ip == nil || ip.IsLoopback() {
				continue
			}
			if v4 := ip.To4(); v4 != nil {
				return v4.String(), true
			}
		}
	}
	return "", false
}

// GetCacheDirectory returns the directory UI content may write exports to.
func (b *Bridge) GetCacheDirectory() string {
	return b.deps.CacheDir.Dir()
}

// RequestExport hands an export file in the cache directory to the user.
func (b *Bridge) RequestExport(path string) error {
	resolved, err := b.deps.CacheDir.ResolveFile(path)
	if err != nil {
		b.deps.Logger.Warn().Err(err).Msg("export path rejected")
		return fmt.Errorf("invalid export path: %w", err)
	}
	return b.deps.Transfers.BeginExport(resolved)
}

// RequestImport asks the user for a file to import.
func (b *Bridge) RequestImport() error {
	return b.deps.Transfers.BeginImport()
}
