// Command godepth360 trains and evaluates the 360° monocular depth model.
//
//	godepth360 -mode train -config run.yaml -data_path data -filenames_file train.txt
//	godepth360 -mode test -config run.yaml -checkpoint_path logs/monodepth360/model-10000.gob
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/FlavioCFOliveira/GoDepth360/internal/config"
	"github.com/FlavioCFOliveira/GoDepth360/internal/model"
	"github.com/FlavioCFOliveira/GoDepth360/internal/train"
)

func main() {
	logger := golog.NewDevelopmentLogger("godepth360")
	if err := run(os.Args[1:], logger); err != nil {
		logger.Errorw("failed", "error", err)
		os.Exit(1)
	}
}

func run(args []string, logger golog.Logger) error {
	fs := flag.NewFlagSet("godepth360", flag.ContinueOnError)
	modeName := fs.String("mode", "train", "train or test")
	configPath := fs.String("config", "", "YAML configuration file, flags override its values")
	cfg := config.Default()
	config.RegisterFlags(fs, &cfg)
	if err := fs.Parse(args); err != nil {
		return err
	}

	mode, err := model.ParseMode(*modeName)
	if err != nil {
		return err
	}
	if *configPath != "" {
		if cfg, err = config.Load(*configPath); err != nil {
			return err
		}
		if err := config.Override(fs, &cfg); err != nil {
			return err
		}
	}
	if cfg.NumThreads > runtime.NumCPU() {
		logger.Debugf("num_threads %d exceeds %d CPUs", cfg.NumThreads, runtime.NumCPU())
	}
	logger.Debugf("configuration:\n%s", cfg.AsYAML())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	switch mode {
	case model.Test:
		return test(ctx, cfg, logger)
	default:
		return trainModel(ctx, cfg, logger)
	}
}

func trainModel(ctx context.Context, cfg config.Config, logger golog.Logger) error {
	t, err := train.NewTrainer(cfg, logger)
	if err != nil {
		return err
	}
	if cfg.CheckpointPath != "" {
		if err := t.Restore(cfg.CheckpointPath); err != nil {
			return err
		}
	}
	logger.Infof("run %s: %s, %d steps", t.RunID(), t.Model(), t.TotalSteps())
	if err := t.Run(ctx); err != nil {
		return errors.Wrap(err, "training stopped")
	}
	mean, p99 := t.Latency()
	fmt.Printf("trained %d steps (mean step %v, p99 %v)\n", t.GlobalStep(), mean, p99)
	return nil
}

func test(ctx context.Context, cfg config.Config, logger golog.Logger) error {
	t, err := train.NewTester(cfg, logger)
	if err != nil {
		return err
	}
	if err := t.Restore(cfg.CheckpointPath); err != nil {
		return err
	}
	path, err := t.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}
