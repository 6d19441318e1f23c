// Package ftpserver exposes the share over FTP, backed by the shared
// user registry and the jailed filesystem.
package ftpserver

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"strings"

	ftp "github.com/fclairamb/ftpserverlib"

	"github.com/gamelist1990/FileShare/internal/auth"
	"github.com/gamelist1990/FileShare/internal/blocklist"
	"github.com/gamelist1990/FileShare/internal/jailfs"
	"github.com/gamelist1990/FileShare/internal/stats"
)

// anonymousUser is the reserved login for read-only guest sessions.
const anonymousUser = "anonymous"

// Config is the "ftp" settings module.
type Config struct {
	AnonymousRead bool `json:"anonymousRead"`
}

// DefaultConfig is registered at startup.
func DefaultConfig() Config {
	return Config{AnonymousRead: false}
}

// Options configures the listener and its collaborators.
type Options struct {
	Addr         string
	Root         string // canonical share root
	Users        *auth.Store
	Block        *blocklist.List
	Stats        *stats.Stats
	Settings     func() Config
	PassivePorts *ftp.PortRange
	PublicHost   string
	Logger       *slog.Logger
}

// ListenAndServe starts the FTP server until the context is done.
func ListenAndServe(ctx context.Context, opt Options) error {
	if opt.Users == nil {
		return errors.New("user store is required")
	}
	if opt.Addr == "" || opt.Root == "" {
		return errors.New("addr and root are required")
	}
	if opt.Settings == nil {
		opt.Settings = DefaultConfig
	}

	ln, err := net.Listen("tcp", opt.Addr)
	if err != nil {
		return err
	}
	defer ln.Close()
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	drv := &mainDriver{opt: opt, listener: ln}
	srv := ftp.NewFtpServer(drv)
	if opt.Logger != nil {
		srv.Logger = slogAdapter{l: opt.Logger}
	}
	err = srv.ListenAndServe()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// mainDriver connects ftpserverlib callbacks to FileShare storage.
type mainDriver struct {
	opt      Options
	listener net.Listener
}

// GetSettings returns server settings for ftpserverlib. Active mode is
// disabled; clients must use PASV/EPSV within the configured range.
func (d *mainDriver) GetSettings() (*ftp.Settings, error) {
	return &ftp.Settings{
		Listener:                 d.listener,
		Banner:                   "FileShare",
		PassiveTransferPortRange: d.opt.PassivePorts,
		PublicHost:               d.opt.PublicHost,
		IdleTimeout:              300,
		ConnectionTimeout:        15,
		DisableActiveMode:        true,
		TLSRequired:              ftp.ClearOrEncrypted,
		PasvConnectionsCheck:     ftp.IPMatchRequired,
	}, nil
}

// ClientConnected returns a banner string for new connections.
func (d *mainDriver) ClientConnected(cc ftp.ClientContext) (string, error) {
	_ = cc
	return "FileShare ready", nil
}

// ClientDisconnected is a hook for connection cleanup.
func (d *mainDriver) ClientDisconnected(cc ftp.ClientContext) {
	_ = cc
}

// AuthUser authenticates PASS. Anonymous sessions exist only when the
// ftp module enables them, and they get a read-only filesystem; every
// other login is verified against the user registry.
func (d *mainDriver) AuthUser(cc ftp.ClientContext, user, pass string) (ftp.ClientDriver, error) {
	if strings.EqualFold(user, anonymousUser) {
		if !d.opt.Settings().AnonymousRead {
			return nil, errors.New("anonymous access disabled")
		}
		cc.SetPath("/")
		return jailfs.New(d.opt.Root, d.opt.Block, d.opt.Stats, true), nil
	}
	if _, err := d.opt.Users.CheckPassword(user, pass); err != nil {
		return nil, errors.New("invalid credentials")
	}
	cc.SetPath("/")
	return jailfs.New(d.opt.Root, d.opt.Block, d.opt.Stats, false), nil
}

// GetTLSConfig reports that TLS is not terminated here; AUTH is
// declined on the wire.
func (d *mainDriver) GetTLSConfig() (*tls.Config, error) {
	return nil, errors.New("tls not configured")
}

// Compile-time interface assertion.
var _ ftp.MainDriver = (*mainDriver)(nil)
