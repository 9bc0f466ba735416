package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"settingsd/internal/hostkey"
	"settingsd/internal/logging"
	"settingsd/internal/settings"
	"settingsd/internal/ssh"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var log = logging.For("main")

func newServeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the SSH settings console until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return c.serve(ctx)
		},
	}
}

func (c *cli) serve(ctx context.Context) error {
	cfg := c.cfg
	if cfg.Settings.DataDir == "" {
		return fmt.Errorf("serve: settings.data_dir is required for the host key")
	}
	if err := os.MkdirAll(cfg.Settings.DataDir, 0700); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	hk, err := hostkey.Load(cfg.Settings.DataDir)
	if err != nil {
		return fmt.Errorf("host key: %w", err)
	}
	log.Info("host key loaded", "fingerprint", hk.Fingerprint)

	acc, err := c.open()
	if err != nil {
		return err
	}
	defer acc.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	svc, err := settings.Instrument(acc, reg)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var metricsSrv *http.Server
	if cfg.Metrics.Listen != "" {
		metricsSrv, err = startMetrics(cfg.Metrics.Listen, reg)
		if err != nil {
			return err
		}
	}

	sshServer, err := ssh.NewServer(cfg.SSH.Listen, hk, svc, cfg.AuthorizedKeysPath())
	if err != nil {
		return fmt.Errorf("ssh: %w", err)
	}
	registerInfo(sshServer.Commands(), acc, hk)
	if err := sshServer.Listen(); err != nil {
		return fmt.Errorf("ssh: %w", err)
	}
	log.Info("settings console listening", "addr", sshServer.Addr(),
		"backend", acc.Backend(), "app", acc.App())

	errCh := make(chan error, 1)
	go func() { errCh <- sshServer.Serve(ctx) }()

	select {
	case <-ctx.Done():
	case err = <-errCh:
	}

	log.Info("shutting down")
	cancel()
	sshServer.Stop()
	if metricsSrv != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return err
}

func startMetrics(addr string, reg *prometheus.Registry) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics: listening on %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server", "err", err)
		}
	}()
	log.Info("metrics listening", "addr", ln.Addr().String())
	return srv, nil
}

// registerInfo adds /info, which describes the store the console edits.
func registerInfo(reg ssh.CommandRegistrar, acc *settings.Accessor, hk *hostkey.HostKey) {
	reg.Register("/info", ssh.Command{
		Help: "show app, backend and host key fingerprint",
		Handler: func(ctx *ssh.CommandContext) bool {
			ctx.Printf("app:      %s", acc.App())
			ctx.Printf("backend:  %s", acc.Backend())
			ctx.Printf("host key: %s", hk.Fingerprint)
			return false
		},
	})
}
