// uwbd is the UWB ranging service daemon: it owns the adapter enable/
// disable lifecycle, the session manager, and the local debug control
// plane, wired to the HAL over a transport supplied at startup.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"golang.org/x/sync/errgroup"

	"github.com/uwbcore/uwbd/internal/adapter"
	"github.com/uwbcore/uwbd/internal/config"
	"github.com/uwbcore/uwbd/internal/control"
	"github.com/uwbcore/uwbd/internal/halio"
	"github.com/uwbcore/uwbd/internal/session"
	appversion "github.com/uwbcore/uwbd/internal/version"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	halAddr := flag.String("hal-addr", "/run/uwbd/hal.sock", "unix socket address of the HAL transport")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()))
		return 1
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("uwbd starting",
		slog.String("version", appversion.Version),
		slog.String("control_socket", cfg.Control.SocketPath),
		slog.String("hal_addr", *halAddr))

	if err := runServices(cfg, *halAddr, logger); err != nil {
		logger.Error("uwbd exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("uwbd stopped")
	return 0
}

// persistentStore adapts internal/config's loaded AdapterConfig into
// internal/adapter.PersistentStore. uwbd does not rewrite the config file
// on disk; persistence across restarts is the deployment's job (e.g. a
// config-management pass before next boot) -- this in-memory store only
// keeps the toggle consistent for the remainder of the process lifetime.
type persistentStore struct {
	toggle bool
}

func (s *persistentStore) ToggleState() bool        { return s.toggle }
func (s *persistentStore) SetToggleState(v bool) error { s.toggle = v; return nil }

func runServices(cfg *config.Config, halAddr string, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	transport, err := dialHAL(gCtx, halAddr)
	if err != nil {
		return fmt.Errorf("dial hal at %s: %w", halAddr, err)
	}
	halClient := halio.New(transport, logger)
	g.Go(func() error { return halClient.Run(gCtx) })

	store := &persistentStore{toggle: cfg.Adapter.ToggleState}
	ad := adapter.New(halClient, store, logger)
	if config.AirplaneModeOn() {
		if err := ad.SetAirplaneMode(gCtx, true); err != nil {
			logger.Warn("failed to apply airplane mode at boot", slog.Any("err", err))
		}
	}
	if err := ad.Boot(gCtx); err != nil {
		logger.Warn("adapter boot toggle failed", slog.Any("err", err))
	}

	mgr := session.NewManager(halClient, ad.IsEnabled, cfg.Session.MaxSessions, logger)
	g.Go(func() error { mgr.Run(gCtx); return nil })
	defer mgr.Shutdown()

	dispatcher := buildDispatcher(ad, mgr)
	ctlSrv := control.NewServer(cfg.Control.SocketPath, dispatcher.Handle, logger)
	g.Go(func() error { return ctlSrv.Serve(gCtx) })

	notifyReady(logger)

	g.Go(func() error {
		<-gCtx.Done()
		notifyStopping(logger)
		_ = ctlSrv.Close()
		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run services: %w", err)
	}
	return nil
}

// dialHAL connects to the HAL transport at addr, retrying briefly since
// the vendor HAL process may still be starting.
func dialHAL(ctx context.Context, addr string) (net.Conn, error) {
	var lastErr error
	for attempt := 0; attempt < 10; attempt++ {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "unix", addr)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
	return nil, fmt.Errorf("exhausted retries: %w", lastErr)
}

// buildDispatcher registers the debug introspection commands cmd/uwbctl
// drives over internal/control.
func buildDispatcher(ad *adapter.Adapter, mgr *session.Manager) *control.Dispatcher {
	d := control.NewDispatcher()

	d.Register("get-adapter-state", func(ctx context.Context, args json.RawMessage) (any, error) {
		return map[string]string{"state": ad.GetAdapterState().String()}, nil
	})

	d.Register("get-chip-infos", func(ctx context.Context, args json.RawMessage) (any, error) {
		return ad.GetChipInfos(), nil
	})

	d.Register("set-enabled", func(ctx context.Context, args json.RawMessage) (any, error) {
		var in struct {
			Enabled bool `json:"enabled"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, err
		}
		return nil, ad.SetEnabled(ctx, in.Enabled)
	})

	return d
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.DefaultConfig(), nil
	}
	return config.Load(path)
}

func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}
