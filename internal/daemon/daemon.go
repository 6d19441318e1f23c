// Package daemon wires the stores and the three servers together and
// owns the shutdown order.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	ftp "github.com/fclairamb/ftpserverlib"

	"github.com/gamelist1990/FileShare/internal/auth"
	"github.com/gamelist1990/FileShare/internal/blocklist"
	"github.com/gamelist1990/FileShare/internal/config"
	"github.com/gamelist1990/FileShare/internal/files"
	"github.com/gamelist1990/FileShare/internal/fsutil"
	"github.com/gamelist1990/FileShare/internal/ftpserver"
	"github.com/gamelist1990/FileShare/internal/httpapi"
	"github.com/gamelist1990/FileShare/internal/proxybridge"
	"github.com/gamelist1990/FileShare/internal/ratelimit"
	"github.com/gamelist1990/FileShare/internal/settings"
	"github.com/gamelist1990/FileShare/internal/stats"
	"github.com/gamelist1990/FileShare/internal/streamer"
	"github.com/gamelist1990/FileShare/internal/uploads"
)

// haproxyConfig is the "haproxy" settings module.
type haproxyConfig struct {
	ProxyProtocolV2 bool `json:"proxyProtocolV2"`
}

// Options carries the CLI-level knobs into the daemon.
type Options struct {
	SharePath string
	Port      int
	Config    config.Config
	Version   string
	Logger    *slog.Logger
}

// Run starts every server and blocks until ctx is done or a server
// fails. Shutdown flushes the auth registry and stats, then removes
// the HLS cache.
func Run(ctx context.Context, opt Options) error {
	log := opt.Logger
	if log == nil {
		log = slog.Default()
	}

	root, err := fsutil.ShareRoot(opt.SharePath)
	if err != nil {
		return fmt.Errorf("share path: %w", err)
	}
	if st, err := os.Stat(root); err != nil || !st.IsDir() {
		return fmt.Errorf("share path is not a directory: %s", opt.SharePath)
	}
	dataDir := filepath.Join(root, files.DataDirName)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}

	store, err := settings.Open(dataDir, log)
	if err != nil {
		return err
	}
	if err := errors.Join(
		store.Register("upload", uploads.DefaultConfig()),
		store.Register("ftp", ftpserver.DefaultConfig()),
		store.Register("hls", streamer.DefaultConfig()),
		store.Register("ratelimit", ratelimit.DefaultRules()),
		store.Register("haproxy", haproxyConfig{}),
	); err != nil {
		return err
	}

	users, err := auth.Open(dataDir, log)
	if err != nil {
		return err
	}
	block, err := blocklist.Open(dataDir)
	if err != nil {
		return err
	}
	tally, err := stats.OpenTallyDB(ctx, filepath.Join(dataDir, "stats.db"))
	if err != nil {
		return err
	}
	defer tally.Close()
	st, err := stats.Open(ctx, tally, log)
	if err != nil {
		return err
	}

	uploadCfg := func() uploads.Config {
		var c uploads.Config
		if err := store.Module("upload", &c); err != nil {
			return uploads.DefaultConfig()
		}
		return c
	}
	ftpCfg := func() ftpserver.Config {
		var c ftpserver.Config
		if err := store.Module("ftp", &c); err != nil {
			return ftpserver.DefaultConfig()
		}
		return c
	}
	hlsCfg := func() streamer.Config {
		var c streamer.Config
		if err := store.Module("hls", &c); err != nil {
			return streamer.DefaultConfig()
		}
		return c
	}
	proxyV2 := func() bool {
		var c haproxyConfig
		if err := store.Module("haproxy", &c); err != nil {
			return false
		}
		return c.ProxyProtocolV2
	}
	rules := ratelimit.DefaultRules()
	if err := store.Module("ratelimit", &rules); err != nil {
		log.Warn("ratelimit settings unreadable, using defaults", "error", err)
	}

	up := uploads.NewService(root, uploadCfg, log)
	fsvc := files.NewService(root, block, st, log)
	str := streamer.New(streamer.Options{
		ShareRoot:   root,
		CacheRoot:   filepath.Join(dataDir, "cache", "hls"),
		FFmpegPath:  opt.Config.Transcoder.FFmpegPath,
		FFprobePath: opt.Config.Transcoder.FFprobePath,
		Config:      hlsCfg,
		Logger:      log,
	})
	limiter := ratelimit.New(rules)

	api := &httpapi.Server{
		Root:     root,
		BindAddr: opt.Config.HTTP.Bind,
		Port:     opt.Port,
		Users:    users,
		Block:    block,
		Stats:    st,
		Files:    fsvc,
		Uploads:  up,
		Streamer: str,
		Limiter:  limiter,
		ProxyV2:  proxyV2,
		Version:  opt.Version,
		Logger:   log,

		IdleTimeout: time.Duration(opt.Config.HTTP.IdleTimeoutSec) * time.Second,
	}

	passive, err := parsePortRange(opt.Config.FTP.PassivePorts)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 4)
	go func() { errCh <- api.ListenAndServe(runCtx) }()
	go str.RunJanitor(runCtx)

	if !opt.Config.FTP.Disable {
		addr := opt.Config.HTTP.Bind + ":" + strconv.Itoa(opt.Config.FTP.Port)
		publicHost := opt.Config.FTP.PublicHost
		if publicHost == "" {
			publicHost = lanIP()
		}
		go func() {
			errCh <- ftpserver.ListenAndServe(runCtx, ftpserver.Options{
				Addr:         addr,
				Root:         root,
				Users:        users,
				Block:        block,
				Stats:        st,
				Settings:     ftpCfg,
				PassivePorts: passive,
				PublicHost:   publicHost,
				Logger:       log,
			})
		}()
		log.Info("ftp server listening", "addr", addr, "passive", opt.Config.FTP.PassivePorts)
	}

	if opt.Config.Bridge.Enable || proxyV2() {
		bridgeAddr := opt.Config.HTTP.Bind + ":" + strconv.Itoa(opt.Config.Bridge.Port)
		target := "127.0.0.1:" + strconv.Itoa(opt.Port)
		go func() {
			errCh <- proxybridge.ListenAndServe(runCtx, proxybridge.Options{
				Addr:       bridgeAddr,
				TargetAddr: target,
				Logger:     log,
			})
		}()
		log.Info("proxy bridge listening", "addr", bridgeAddr, "target", target)
	}

	log.Info("http server listening", "addr", opt.Config.HTTP.Bind+":"+strconv.Itoa(opt.Port), "share", root)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		if runErr != nil {
			log.Error("server failed", "error", runErr)
		}
	}
	cancel()

	// Ordered shutdown: stop the limiter, persist users and stats,
	// then wipe the transcode cache.
	limiter.Stop()
	if err := users.Flush(); err != nil {
		log.Error("users flush failed", "error", err)
	}
	flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer flushCancel()
	if err := st.Flush(flushCtx); err != nil {
		log.Error("stats flush failed", "error", err)
	}
	str.Close()
	return runErr
}

// parsePortRange parses "start-end" into an ftpserverlib range. Empty
// input disables the fixed range.
func parsePortRange(s string) (*ftp.PortRange, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, "-")
	if len(parts) != 2 {
		return nil, errors.New("invalid passive port range")
	}
	start, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return nil, errors.New("invalid passive port range")
	}
	end, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return nil, errors.New("invalid passive port range")
	}
	if start <= 0 || end <= 0 || end < start {
		return nil, errors.New("invalid passive port range")
	}
	return &ftp.PortRange{Start: start, End: end}, nil
}

// lanIP picks the first non-loopback IPv4 address for PASV replies.
func lanIP() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ip, _, err := net.ParseCIDR(a.String())
			if err != nil || ip == nil {
				continue
			}
			if v4 := ip.To4(); v4 != nil {
				return v4.String()
			}
		}
	}
	return ""
}
