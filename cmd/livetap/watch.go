package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/holon-run/livetap/pkg/config"
	"github.com/holon-run/livetap/pkg/control"
	"github.com/holon-run/livetap/pkg/events"
	"github.com/holon-run/livetap/pkg/live"
	livetaplog "github.com/holon-run/livetap/pkg/log"
	"github.com/holon-run/livetap/pkg/metrics"
	"github.com/holon-run/livetap/pkg/session"
)

const closeTimeout = 10 * time.Second

var (
	watchMetricsAddr string
	watchDuration    time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch <username>",
	Short: "Watch a creator's live stream until it ends or you interrupt",
	Long: `Watch opens a live session for the given creator and prints events as they
arrive. It returns when the stream ends, --duration elapses, or on SIGINT/SIGTERM;
in every case the backend session is stopped before exiting.`,
	Example: `  livetap watch some_creator
  livetap watch some_creator --duration 10m --metrics-addr 127.0.0.1:9090`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if watchMetricsAddr != "" {
			cfg.Metrics.Addr = watchMetricsAddr
		}
		if err := initLogger(cfg); err != nil {
			return err
		}
		defer livetaplog.Sync()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runWatch(ctx, cmd.OutOrStdout(), cfg, args[0], watchDuration)
	},
}

// runWatch drives one session from connect to teardown. A zero duration
// watches until the stream ends or ctx is cancelled.
func runWatch(ctx context.Context, out io.Writer, cfg config.Config, username string, duration time.Duration) error {
	logger := livetaplog.With("component", "watch")

	client, err := control.NewClient(cfg.Control.URL, cfg.Control.Timeout)
	if err != nil {
		return err
	}
	socket, err := events.NewSocket(events.Config{
		URL:               cfg.Events.URL,
		ReconnectAttempts: cfg.Events.ReconnectAttempts,
		ReconnectDelay:    cfg.Events.ReconnectDelay,
	})
	if err != nil {
		return err
	}

	p := newPrinter(out)
	ctrl, err := session.New(session.Options{
		Control:   client,
		Transport: socket,
		Notifier:  p,
		Observer:  p,
		OnEvent:   p.Event,
	})
	if err != nil {
		return err
	}

	if cfg.Metrics.Addr != "" {
		srv, err := startMetricsServer(cfg.Metrics.Addr)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if err := ctrl.SetIdentifier(username); err != nil {
		return err
	}
	if err := ctrl.Connect(ctx); err != nil {
		return err
	}

	var deadline <-chan time.Time
	if duration > 0 {
		timer := time.NewTimer(duration)
		defer timer.Stop()
		deadline = timer.C
	}

	for ctrl.HasSession() {
		select {
		case <-ctx.Done():
			logger.Infow("interrupted, stopping session")
			return closeController(ctrl)
		case <-deadline:
			logger.Infow("watch duration elapsed, stopping session", "duration", duration)
			return closeController(ctrl)
		case <-p.statusChanged:
			if ctrl.Status() == live.StatusError && !socket.Connected() {
				logger.Warnw("event channel down, waiting for interrupt", "socket", socket.Status())
			}
		}
	}
	return closeController(ctrl)
}

func closeController(ctrl *session.Controller) error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	return ctrl.Close(ctx)
}

func startMetricsServer(addr string) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on metrics address %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			livetaplog.Warn("metrics server stopped", "error", err)
		}
	}()
	livetaplog.Info("serving metrics", "addr", ln.Addr().String())
	return srv, nil
}

func init() {
	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (overrides metrics.addr)")
	watchCmd.Flags().DurationVar(&watchDuration, "duration", 0, "Stop watching after this long (0 = until the stream ends)")
	rootCmd.AddCommand(watchCmd)
}
