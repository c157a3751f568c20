package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/RENCI-NRIG/impact-smc/api/httpserver"
	"github.com/RENCI-NRIG/impact-smc/config"
	"github.com/RENCI-NRIG/impact-smc/counts"
	"github.com/RENCI-NRIG/impact-smc/engine"
	"github.com/RENCI-NRIG/impact-smc/services"
	"github.com/hashicorp/go-multierror"
	cli "github.com/urfave/cli/v2"
)

var (
	waitConfigFlag = &cli.BoolFlag{
		Name:  "wait-config",
		Usage: "Wait for a YAML or TOML config POSTed to /config before starting",
	}
	listenFlag = &cli.StringFlag{
		Name:  "listen",
		Usage: "HTTP listen address",
	}
	metricsFlag = &cli.StringFlag{
		Name:  "metrics",
		Usage: "Metrics listen address, disabled when empty",
	}
	selfFlag = &cli.StringFlag{
		Name:  "self",
		Usage: "Address of this node announced to peers and to the engine",
	}
	peersFlag = &cli.StringSliceFlag{
		Name:  "peer",
		Usage: "Peer host in role order, repeat for peer 1 and peer 2",
	}
	portFlag = &cli.IntFlag{
		Name:  "port",
		Usage: "Port shared by all parties",
	}
	engineFlag = &cli.StringFlag{
		Name:  "engine",
		Usage: "Path of the SMC engine executable",
	}
	logLevelFlag = &cli.StringFlag{
		Name:  "log-level",
		Usage: "debug, info, warn or error",
	}
	pprofFlag = &cli.BoolFlag{
		Name:  "pprof",
		Usage: "Serve pprof under /debug",
	}
)

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "start a node",
	Flags: []cli.Flag{configFlag, waitConfigFlag, listenFlag, metricsFlag, selfFlag, peersFlag, portFlag, engineFlag, logLevelFlag, pprofFlag},

	Action: func(cctx *cli.Context) error {
		ctx, stop := signal.NotifyContext(cctx.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()

		var cfg *config.Config
		var err error
		if cctx.Bool(waitConfigFlag.Name) {
			addr := cctx.String(listenFlag.Name)
			if addr == "" {
				addr = config.Default().ListenAddr
			}
			cfg, err = waitForConfig(ctx, addr, cctx.App.Writer, func(c *config.Config) {
				applyFlagOverrides(cctx, c)
			})
		} else {
			cfg, err = loadConfiguration(cctx.String(configFlag.Name))
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		applyFlagOverrides(cctx, cfg)
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}

		log, err := config.NewLogger(cfg.Log, os.Stderr)
		if err != nil {
			return err
		}
		slog.SetDefault(log)

		return run(ctx, cfg, log)
	},
}

func loadConfiguration(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	return config.Default(), nil
}

func applyFlagOverrides(cctx *cli.Context, cfg *config.Config) {
	if cctx.IsSet(listenFlag.Name) {
		cfg.ListenAddr = cctx.String(listenFlag.Name)
	}
	if cctx.IsSet(metricsFlag.Name) {
		cfg.MetricsAddr = cctx.String(metricsFlag.Name)
	}
	if cctx.IsSet(selfFlag.Name) {
		cfg.Directory.Self = cctx.String(selfFlag.Name)
	}
	if cctx.IsSet(peersFlag.Name) {
		cfg.Directory.Peers = cctx.StringSlice(peersFlag.Name)
	}
	if cctx.IsSet(portFlag.Name) {
		cfg.Directory.Port = cctx.Int(portFlag.Name)
	}
	if cctx.IsSet(engineFlag.Name) {
		cfg.Engine.Command = cctx.String(engineFlag.Name)
	}
	if cctx.IsSet(logLevelFlag.Name) {
		cfg.Log.Level = cctx.String(logLevelFlag.Name)
	}
	if cctx.Bool(pprofFlag.Name) {
		cfg.EnablePprof = true
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	directory, err := cfg.PeerDirectory()
	if err != nil {
		return err
	}

	mode, err := cfg.Resolver.EffectiveMode()
	if err != nil {
		return err
	}
	var db *sql.DB
	if mode == counts.ModeStore {
		db, err = counts.OpenStore(cfg.Resolver.Store)
		if err != nil {
			return fmt.Errorf("opening store: %w", err)
		}
		defer db.Close()
	}

	resolver, err := counts.New(cfg.Resolver, db, log)
	if err != nil {
		return err
	}

	launcher, err := engine.NewLauncher(cfg.Engine, log)
	if err != nil {
		return err
	}

	node, err := services.NewNode(services.NodeConfig{
		Directory: directory,
		Resolver:  resolver,
		Engine:    launcher,
		Peers:     cfg.Peers,
		Log:       log,
	})
	if err != nil {
		return err
	}

	srv, err := httpserver.New(&httpserver.HTTPServerConfig{
		ListenAddr:               cfg.ListenAddr,
		MetricsAddr:              cfg.MetricsAddr,
		EnablePprof:              cfg.EnablePprof,
		AllowedOrigins:           cfg.AllowedOrigins,
		Log:                      log,
		DrainDuration:            cfg.DrainDuration,
		GracefulShutdownDuration: cfg.ShutdownTimeout,
		ReadTimeout:              cfg.ReadTimeout,
		WriteTimeout:             cfg.WriteTimeout,
	}, node)
	if err != nil {
		return err
	}

	log.Info("node starting",
		"version", version,
		"self", directory.Self(),
		"peers", directory.Peers(),
		"resolver", mode,
	)
	srv.RunInBackground()

	<-ctx.Done()
	log.Info("shutting down")

	srv.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	var result *multierror.Error
	if err := node.Shutdown(shutdownCtx); err != nil {
		result = multierror.Append(result, fmt.Errorf("waiting for engines: %w", err))
	}
	return result.ErrorOrNil()
}

// waitForConfig serves a config.Receiver on addr until it accepts a
// configuration. Flag overrides are applied before validation so a partial
// document can be completed on the command line.
func waitForConfig(ctx context.Context, addr string, out io.Writer, prepare func(*config.Config)) (*config.Config, error) {
	receiver := config.NewReceiver(prepare)
	server := &http.Server{
		Addr:              addr,
		Handler:           receiver,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("config server: %w", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()
	fmt.Fprintf(out, "Waiting for configuration on %s (POST %s)\n", addr, config.ReceivePath)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-errCh:
		return nil, err
	case cfg := <-receiver.Config():
		fmt.Fprintln(out, "Configuration received, starting node...")
		return cfg, nil
	}
}
