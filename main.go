package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"traindelay/db"
	qhttp "traindelay/http"
	"traindelay/inference"
	"traindelay/logging"
	"traindelay/ml"
	"traindelay/monitoring"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "traindelay",
		Usage: "Predict the delay category of a train journey",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yaml",
				Usage:   "YAML configuration file",
				EnvVars: []string{"TRAINDELAY_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			predictCommand(),
			encodeCommand(),
			modelsCommand(),
		},
	}
}

// app holds what every command needs once the config is loaded.
type app struct {
	config   Config
	logger   *zap.Logger
	registry *ml.Registry
	catalog  *db.Catalog
}

func setup(c *cli.Context) (*app, error) {
	config, err := loadConfig(c.String("config"), c.IsSet("config"))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(config.Log)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	registry, err := ml.NewRegistry(config.Models.Dir, config.Models.CacheSize,
		ml.BundleOptions{ONNXLibrary: config.Models.ONNXLibrary}, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}

	a := &app{config: config, logger: logger, registry: registry}
	if config.Catalog.Path != "" {
		a.catalog, err = db.OpenCatalog(config.Catalog.Path)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open train catalog: %w", err)
		}
		logger.Info("train catalog opened", zap.String("path", config.Catalog.Path))
	}
	return a, nil
}

func (a *app) predictor(opts inference.Options) *inference.Predictor {
	opts.DefaultModel = a.config.Models.Default
	opts.Logger = a.logger
	return inference.NewPredictor(a.registry, opts)
}

func (a *app) Close() error {
	a.registry.Close()
	var err error
	if a.catalog != nil {
		err = a.catalog.Close()
	}
	// Syncing stderr fails on some terminals; ignore that case.
	if syncErr := a.logger.Sync(); syncErr != nil && !errors.Is(syncErr, syscall.EINVAL) && !errors.Is(syncErr, syscall.ENOTTY) {
		err = multierr.Append(err, syncErr)
	}
	return err
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the prediction form, JSON API and live feed",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "port", Usage: "override http.port"},
		},
		Action: func(c *cli.Context) error {
			a, err := setup(c)
			if err != nil {
				return err
			}
			defer a.Close()
			if c.IsSet("port") {
				a.config.HTTP.Port = c.Int("port")
			}
			return a.serve(c.Context)
		},
	}
}

func (a *app) serve(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := monitoring.NewMetrics()
	a.registry.OnLoad = metrics.ModelLoaded

	feed := monitoring.NewFeed(a.config.HTTP.AllowedOrigins, a.logger, metrics)
	go feed.Run(ctx)

	if a.config.Models.Watch {
		go func() {
			if err := a.registry.Watch(ctx); err != nil {
				a.logger.Warn("model watcher stopped", zap.Error(err))
			}
		}()
	}

	predictor := a.predictor(inference.Options{
		Recorder: metrics,
		Observer: inference.ObserverFunc(func(p inference.Prediction) {
			if err := feed.Publish(monitoring.FeedMessage, p); err != nil {
				a.logger.Debug("feed publish skipped", zap.Error(err))
			}
		}),
	})

	deps := qhttp.Dependencies{
		Predictor: predictor,
		Models:    a.registry,
		Metrics:   metrics,
		Feed:      feed,
		Logger:    a.logger,
	}
	if a.catalog != nil {
		deps.Catalog = a.catalog
	}
	server := qhttp.NewServer(a.config.HTTP, deps)

	errc := make(chan error, 1)
	go func() { errc <- server.Start() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	a.logger.Info("shutting down")
	return server.Stop()
}

func modelsCommand() *cli.Command {
	return &cli.Command{
		Name:  "models",
		Usage: "List the model bundles found in the models directory",
		Action: func(c *cli.Context) error {
			a, err := setup(c)
			if err != nil {
				return err
			}
			defer a.Close()
			manifests, err := a.registry.List()
			if err != nil {
				return err
			}
			return writeManifests(c.App.Writer, manifests, a.config.Models.Default)
		},
	}
}

// commandContext bounds one-shot commands so a wedged model cannot hang the
// shell.
func commandContext(c *cli.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return context.WithTimeout(c.Context, timeout)
}
