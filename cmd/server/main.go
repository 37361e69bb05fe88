package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gopkg.in/urfave/cli.v1"

	"github.com/Brownie44l1/classifier-api/internal/artifacts"
	"github.com/Brownie44l1/classifier-api/internal/config"
	"github.com/Brownie44l1/classifier-api/internal/logger"
	"github.com/Brownie44l1/classifier-api/internal/metrics"
	"github.com/Brownie44l1/classifier-api/internal/model"
	"github.com/Brownie44l1/classifier-api/internal/server"
)

var (
	ConfigFlag = cli.StringFlag{
		Name:   "config",
		Usage:  "Path to a config file (yaml, json or toml); environment variables take precedence",
		EnvVar: "CLASSIFIER_CONFIG",
	}

	serveCommand = cli.Command{
		Action: serve,
		Name:   "serve",
		Usage:  "Start the HTTP prediction server",
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "classifier"
	app.Usage = "Image classification HTTP API"
	app.Flags = []cli.Flag{ConfigFlag}
	app.Action = serve
	app.Commands = []cli.Command{
		serveCommand,
		predictCommand,
		generateCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads the configuration and builds the logger every command uses.
func setup(ctx *cli.Context) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(ctx.GlobalString(ConfigFlag.Name))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, log, nil
}

// syncArtifacts pulls missing model artifacts from object storage when a
// bucket is configured.
func syncArtifacts(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	if cfg.Artifacts.Bucket == "" {
		return nil
	}
	client, err := artifacts.NewS3Client(ctx, &cfg.Artifacts)
	if err != nil {
		return err
	}
	return artifacts.NewSyncer(client, cfg.Artifacts.Bucket, log).Sync(ctx, []artifacts.Object{
		{Key: cfg.Artifacts.WeightsKey, Path: cfg.Model.WeightsPath},
		{Key: cfg.Artifacts.FullModelKey, Path: cfg.Model.FullModelPath},
	})
}

func serve(ctx *cli.Context) error {
	cfg, log, err := setup(ctx)
	if err != nil {
		return err
	}
	defer log.Sync()

	if err := syncArtifacts(context.Background(), cfg, log); err != nil {
		log.Error("Artifact sync failed", zap.Error(err))
	}

	m := metrics.New()
	modelServer, err := model.NewServer(cfg.ModelServer(), log, m)
	if err != nil {
		return fmt.Errorf("failed to initialize model server: %w", err)
	}
	defer modelServer.Close()

	log.Info("Loading model",
		zap.String("weights", cfg.Model.WeightsPath),
		zap.String("full_model", cfg.Model.FullModelPath),
		zap.Strings("classes", modelServer.Labels()))
	modelServer.Warmup(context.Background())

	srv := server.New(cfg, modelServer, m, log)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case sig := <-quit:
		log.Info("Received signal, shutting down gracefully", zap.String("signal", sig.String()))
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited")
	return nil
}
