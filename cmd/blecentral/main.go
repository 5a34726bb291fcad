package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/urfave/cli"

	"github.com/chaz8081/blecentral/internal/ble/bluez"
	"github.com/chaz8081/blecentral/internal/ble/tinygo"
	"github.com/chaz8081/blecentral/internal/config"
	"github.com/chaz8081/blecentral/internal/httpapi"
	"github.com/chaz8081/blecentral/internal/session"
	"github.com/chaz8081/blecentral/internal/store"
)

var version = "dev"

func main() {
	app := cli.NewApp()
	app.Name = "blecentral"
	app.Usage = "scan for, connect to and explore Bluetooth LE peripherals"
	app.Version = version
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "path to config file (default: ~/.config/blecentral/config.yaml)",
		},
	}
	app.Commands = []cli.Command{
		cli.Command{
			Name:   "run",
			Usage:  "run the session and serve the control API until interrupted",
			Action: runCommand,
		},
		cli.Command{
			Name:  "scan",
			Usage: "scan for a while and print what was found",
			Flags: []cli.Flag{
				cli.DurationFlag{
					Name:  "timeout, t",
					Value: 10 * time.Second,
					Usage: "how long to scan",
				},
			},
			Action: scanCommand,
		},
		cli.Command{
			Name:   "init",
			Usage:  "write the default config file",
			Action: initCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "blecentral:", err)
		os.Exit(1)
	}
}

// fail turns err into an exit error so cli prints it and exits non-zero.
func fail(err error) error {
	return cli.NewExitError("blecentral: "+err.Error(), 1)
}

// env is everything a command needs once the config is loaded.
type env struct {
	cfg     *config.Config
	log     *slog.Logger
	adapter *tinygo.Adapter
	session *session.Session
}

func setup(c *cli.Context) (*env, error) {
	cfg, err := loadConfig(c.GlobalString("config"))
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(log)

	opts, err := sessionOptions(cfg, log)
	if err != nil {
		return nil, err
	}
	adapter := tinygo.New(log)
	st := store.NewFile(cfg.Store.Path)
	return &env{
		cfg:     cfg,
		log:     log,
		adapter: adapter,
		session: session.New(adapter, st, opts),
	}, nil
}

// sessionOptions maps the config onto session options.
func sessionOptions(cfg *config.Config, log *slog.Logger) (session.Options, error) {
	services, err := cfg.Bluetooth.Services()
	if err != nil {
		return session.Options{}, err
	}
	opts := session.DefaultOptions()
	opts.RequiredServices = services
	opts.AllowDuplicates = cfg.Bluetooth.AllowDuplicates
	opts.UndiscoverAfter = cfg.Bluetooth.UndiscoverAfter
	opts.UnifiedList = !cfg.Bluetooth.SplitLists
	opts.AutoConnectPrevious = cfg.Bluetooth.AutoConnectPrevious
	opts.Reconnect = session.ReconnectPolicy{
		Enabled:    cfg.Bluetooth.Reconnect.Enabled,
		MaxBackoff: cfg.Bluetooth.Reconnect.MaxBackoff(),
	}
	opts.Logger = log
	return opts, nil
}

// start runs the BlueZ power watcher where available and the session loop.
// The returned channel yields the loop's exit error.
func (a *env) start(ctx context.Context) <-chan error {
	w, err := bluez.NewWatcher(a.cfg.Adapter.BlueZAdapter, a.log)
	switch {
	case errors.Is(err, bluez.ErrUnsupported):
	case err != nil:
		a.log.Warn("[BLE] bluez power watcher unavailable", "error", err)
	default:
		go func() {
			if err := w.Run(ctx, a.adapter); err != nil {
				a.log.Warn("[BLE] bluez power watcher stopped", "error", err)
			}
		}()
	}

	done := make(chan error, 1)
	go func() { done <- a.session.Run(ctx) }()
	return done
}

func runCommand(c *cli.Context) error {
	a, err := setup(c)
	if err != nil {
		return fail(err)
	}
	printBanner(a.cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	done := a.start(ctx)
	a.session.RequestScan()

	var api *httpapi.Server
	var srv *http.Server
	if a.cfg.HTTP.Listen != "" {
		api = httpapi.New(a.session, a.log)
		srv = &http.Server{
			Addr:         a.cfg.HTTP.Listen,
			Handler:      api,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			a.log.Info("[HTTP] listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error("[HTTP] server failed", "error", err)
				stop()
			}
		}()
	}

	go watchNotices(ctx, a.log, a.session.Notices(), api)

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("systemd notify failed", "error", err)
	} else if ok {
		a.log.Debug("systemd notified ready")
	}
	a.log.Info("Ready! Ctrl+C to quit.")

	<-ctx.Done()
	a.log.Info("Shutting down...")
	daemon.SdNotify(false, daemon.SdNotifyStopping)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Warn("[HTTP] shutdown", "error", err)
		}
	}
	if err := <-done; err != nil {
		return fail(fmt.Errorf("session: %w", err))
	}
	a.log.Info("Goodbye!")
	return nil
}

func scanCommand(c *cli.Context) error {
	a, err := setup(c)
	if err != nil {
		return fail(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, c.Duration("timeout"))
	defer cancel()

	done := a.start(ctx)
	a.session.RequestScan()
	go watchNotices(ctx, a.log, a.session.Notices(), nil)

	<-ctx.Done()
	snap := a.session.Snapshot()
	if err := <-done; err != nil {
		return fail(fmt.Errorf("session: %w", err))
	}
	printSnapshot(os.Stdout, snap)
	return nil
}

func initCommand(c *cli.Context) error {
	path, err := config.WriteDefault()
	if err != nil {
		return fail(err)
	}
	if path == "" {
		fmt.Println("Config already exists at", config.DefaultConfigPath())
		return nil
	}
	fmt.Println("Wrote", path)
	return nil
}

// watchNotices logs notices and keeps the API's recent list, until ctx is
// done.
func watchNotices(ctx context.Context, log *slog.Logger, notices <-chan session.Notice, api *httpapi.Server) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-notices:
			if n.ID.IsNil() {
				log.Warn("[SESSION] notice", "kind", n.Kind, "error", n.Err)
			} else {
				log.Info("[SESSION] notice", "kind", n.Kind, "peripheral", n.ID, "error", n.Err)
			}
			if api != nil {
				api.Record(n)
			}
		}
	}
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	return config.LoadOrDefault(config.DefaultConfigPath())
}
