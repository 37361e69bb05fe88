package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"gopkg.in/urfave/cli.v1"

	"github.com/Brownie44l1/classifier-api/internal/model"
)

var (
	OutFlag = cli.StringFlag{
		Name:  "out",
		Usage: "Destination of the weights archive",
		Value: "models/model_weights.npz",
	}
	SeedFlag = cli.Int64Flag{
		Name:  "seed",
		Usage: "Random seed for weight initialisation",
		Value: 1,
	}

	predictCommand = cli.Command{
		Action:    predict,
		Name:      "predict",
		Usage:     "Classify a local image file and print the result as JSON",
		ArgsUsage: "<image>",
	}

	generateCommand = cli.Command{
		Action: generate,
		Name:   "generate",
		Usage:  "Write an untrained weights artifact for the fixed topology",
		Flags:  []cli.Flag{OutFlag, SeedFlag},
		Description: `Kernels are Glorot-uniform initialised and biases are zero. The
resulting file is a development stand-in for trained weights.`,
	}
)

func predict(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.NewExitError("usage: classifier predict <image>", 2)
	}

	cfg, log, err := setup(ctx)
	if err != nil {
		return err
	}
	defer log.Sync()

	data, err := os.ReadFile(ctx.Args().First())
	if err != nil {
		return err
	}

	if err := syncArtifacts(context.Background(), cfg, log); err != nil {
		log.Warn("Artifact sync failed", zap.Error(err))
	}

	modelServer, err := model.NewServer(cfg.ModelServer(), log, nil)
	if err != nil {
		return err
	}
	defer modelServer.Close()

	result, err := modelServer.Classify(context.Background(), data)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func generate(ctx *cli.Context) error {
	out := ctx.String(OutFlag.Name)
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return err
	}
	if err := model.GenerateWeights(out, ctx.Int64(SeedFlag.Name)); err != nil {
		return fmt.Errorf("failed to generate weights: %w", err)
	}
	fmt.Printf("Weights written to %s\n", out)
	return nil
}
