// Command fileshare serves one directory over HTTP, HLS, and FTP.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sort"
	"syscall"

	qrcode "github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"

	"github.com/gamelist1990/FileShare/internal/config"
	"github.com/gamelist1990/FileShare/internal/daemon"
	"github.com/gamelist1990/FileShare/internal/logging"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		sharePath  string
		port       int
		configPath string
		showQR     bool
	)

	cmd := &cobra.Command{
		Use:           "fileshare",
		Short:         "Share a directory over HTTP, HLS streaming, and FTP",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if configPath != "" {
				loaded, err := config.Load(configPath)
				if err != nil {
					return fmt.Errorf("config: %w", err)
				}
				cfg = loaded
			}
			// The --port flag wins over the config file when given.
			if !cmd.Flags().Changed("port") && cfg.HTTP.Port != 0 {
				port = cfg.HTTP.Port
			}
			log, _, err := logging.New(logging.Options{
				Level:       cfg.Log.Level,
				JSON:        cfg.Log.JSON,
				DefaultSlog: true,
			})
			if err != nil {
				return err
			}

			printURLs(cfg.HTTP.Bind, port, showQR)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return daemon.Run(ctx, daemon.Options{
				SharePath: sharePath,
				Port:      port,
				Config:    cfg,
				Version:   version,
				Logger:    log,
			})
		},
	}

	cmd.Flags().StringVar(&sharePath, "path", ".", "directory to share")
	cmd.Flags().IntVar(&port, "port", 3000, "HTTP listen port")
	cmd.Flags().StringVar(&configPath, "config", "", "optional YAML config file")
	cmd.Flags().BoolVar(&showQR, "qr", false, "print a QR code for the primary LAN URL")
	return cmd
}

// printURLs lists loopback and LAN addresses for the share, optionally
// with a terminal QR code for the first LAN URL.
func printURLs(bind string, port int, showQR bool) {
	urls := discoverURLs(bind, port)
	for _, u := range urls {
		fmt.Printf("  %s\n", u)
	}
	if showQR && len(urls) > 0 {
		target := urls[0]
		if len(urls) > 1 {
			target = urls[1]
		}
		qr, err := qrcode.New(target, qrcode.Medium)
		if err == nil {
			fmt.Println(qr.ToSmallString(false))
		}
	}
}

func discoverURLs(bind string, port int) []string {
	seen := map[string]struct{}{}
	var urls []string
	add := func(host string) {
		u := fmt.Sprintf("http://%s:%d/", host, port)
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
	}

	add("127.0.0.1")
	if bind != "" && bind != "0.0.0.0" && bind != "::" {
		add(bind)
		return urls
	}
	ifaces, err := net.Interfaces()
	if err != nil {
		return urls
	}
	var lan []string
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
			if err != nil {
				continue
			}
			if v4 := ip.To4(); v4 != nil {
				lan = append(lan, v4.String())
			}
		}
	}
	sort.Strings(lan)
	for _, host := range lan {
		add(host)
	}
	return urls
}
