// Package train drives training and inference of the depth model.
package train

import (
	"context"
	"math"
	"path/filepath"
	"sync"
	"time"

	"github.com/codahale/hdrhistogram"
	"github.com/edaniels/golog"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/FlavioCFOliveira/GoDepth360/internal/config"
	"github.com/FlavioCFOliveira/GoDepth360/internal/data"
	"github.com/FlavioCFOliveira/GoDepth360/internal/layer"
	"github.com/FlavioCFOliveira/GoDepth360/internal/model"
	"github.com/FlavioCFOliveira/GoDepth360/internal/net"
	"github.com/FlavioCFOliveira/GoDepth360/internal/opt"
	"github.com/FlavioCFOliveira/GoDepth360/internal/summary"
	"github.com/FlavioCFOliveira/GoDepth360/internal/tensor"
)

// Step intervals of the training side effects.
const (
	LogInterval        = 100
	SummaryInterval    = 100
	CheckpointInterval = 10000
)

// maxLatency bounds the step latency histogram, in microseconds.
const maxLatency = int64(time.Hour / time.Microsecond)

// ErrDiverged is returned when a step produces a non-finite loss.
var ErrDiverged = errors.New("loss is not finite")

// Trainer runs the optimisation loop for one model.
type Trainer struct {
	cfg    config.Config
	model  *model.Model
	loader *data.Loader
	logger golog.Logger

	optimizer opt.Optimizer
	schedule  opt.Scheduler
	callbacks []net.Callback
	images    *summary.ImageWriter

	runID      string
	step       int64
	totalSteps int64
	latency    *hdrhistogram.Histogram
}

// NewTrainer builds the model and data loader for cfg. Checkpoints, the
// scalar CSV and image summaries go to cfg.ModelDir().
func NewTrainer(cfg config.Config, logger golog.Logger) (*Trainer, error) {
	cfg, err := cfg.Finalize()
	if err != nil {
		return nil, err
	}
	loader, err := data.NewLoader(cfg, false, logger)
	if err != nil {
		return nil, err
	}
	return newTrainer(cfg, loader, logger)
}

func newTrainer(cfg config.Config, loader *data.Loader, logger golog.Logger) (*Trainer, error) {
	if p, fallback := cfg.ProjectionMode(); fallback {
		logger.Infof("unknown projection %q, using %s", cfg.Projection, p)
	}
	m, err := model.New(cfg, model.Train)
	if err != nil {
		return nil, err
	}
	total := int64(cfg.NumEpochs) * int64(loader.StepsPerEpoch())
	t := &Trainer{
		cfg:        cfg,
		model:      m,
		loader:     loader,
		logger:     logger,
		optimizer:  opt.NewAdam(),
		schedule:   opt.NewTrainingSchedule(cfg.LearningRate, total),
		runID:      uuid.New().String(),
		totalSteps: total,
		latency:    hdrhistogram.New(1, maxLatency, 3),
	}

	dir := cfg.ModelDir()
	t.callbacks = []net.Callback{
		net.Logger{Interval: LogInterval, Log: logger},
		net.NewModelCheckpoint(dir, CheckpointInterval, t.runID, logger),
		net.NewCSVLogger(filepath.Join(dir, t.runID+"_summary.csv"), false, SummaryInterval, logger),
	}
	if cfg.FullSummary {
		t.images = &summary.ImageWriter{Dir: filepath.Join(dir, "images"), RunID: t.runID, Logger: logger}
	}
	return t, nil
}

// Model returns the model being trained.
func (t *Trainer) Model() *model.Model { return t.model }

// RunID returns the id tagging this run's summaries and checkpoints.
func (t *Trainer) RunID() string { return t.runID }

// GlobalStep returns the number of completed steps.
func (t *Trainer) GlobalStep() int64 { return t.step }

// TotalSteps returns epochs × steps per epoch.
func (t *Trainer) TotalSteps() int64 { return t.totalSteps }

// Restore loads network weights from path. The learned scales keep their
// initial values. The step counter continues from the checkpoint unless the
// configuration asks to retrain.
func (t *Trainer) Restore(path string) error {
	info, err := net.RestoreCheckpoint(path, t.model.Params(), model.ScalingPrefix)
	if err != nil {
		return err
	}
	t.step = info.Step
	if t.cfg.Retrain {
		t.step = 0
	}
	t.logger.Infow("restored checkpoint", "path", path, "params", info.Restored,
		"skipped", len(info.Skipped), "step", t.step, "source_run", info.RunID)
	return nil
}

type towerResult struct {
	out   *model.Outputs
	grads *layer.Gradients
	err   error
}

// Step runs one optimisation step on a batch. The batch is split evenly over
// the configured towers; their gradients are averaged before the update.
func (t *Trainer) Step(top, bottom *tensor.Tensor) (*model.Outputs, float64, error) {
	towers := t.cfg.Towers
	if towers <= 0 {
		towers = 1
	}
	if top.B%towers != 0 {
		return nil, 0, errors.Wrapf(model.ErrShapeMismatch, "batch of %d does not split over %d towers", top.B, towers)
	}
	per := top.B / towers

	results := make([]towerResult, towers)
	var wg sync.WaitGroup
	for i := 0; i < towers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r := &results[i]
			r.out, r.err = t.model.Forward(top.Slice(i*per, (i+1)*per), bottom.Slice(i*per, (i+1)*per))
			if r.err != nil {
				return
			}
			if !r.out.Loss.Finite() {
				r.err = errors.Wrapf(ErrDiverged, "tower %d", i)
				return
			}
			r.grads = layer.NewGradients()
			r.err = t.model.Backward(r.out, r.grads)
		}(i)
	}
	wg.Wait()

	grads := layer.NewGradients()
	var loss float64
	for _, r := range results {
		if r.err != nil {
			return nil, 0, r.err
		}
		grads.Merge(r.grads, 1/float64(towers))
		loss += r.out.Loss.Total / float64(towers)
	}
	t.optimizer.Apply(grads, t.schedule.LR(t.step))
	t.step++
	return results[0].out, loss, nil
}

// Run trains until the configured number of epochs is reached or ctx is
// cancelled. A final checkpoint is written in both cases.
func (t *Trainer) Run(ctx context.Context) error {
	steps := t.loader.StepsPerEpoch()
	t.logger.Infow("training", "run", t.runID, "model", t.model.String(),
		"samples", t.loader.Len(), "total_steps", t.totalSteps)

	for _, c := range t.callbacks {
		c.OnTrainBegin(t.model)
	}
	err := t.loop(ctx, steps)
	for _, c := range t.callbacks {
		c.OnTrainEnd(t.step, t.model)
	}
	t.logLatency()
	return err
}

func (t *Trainer) loop(ctx context.Context, steps int) error {
	start := time.Now()
	for t.step < t.totalSteps {
		epoch := int(t.step / int64(steps))
		skip := int(t.step % int64(steps))
		for _, c := range t.callbacks {
			c.OnEpochBegin(epoch, t.model)
		}

		var sum float64
		var n int
		epochCtx, cancel := context.WithCancel(ctx)
		for b := range t.loader.Epoch(epochCtx, epoch) {
			if b.Err != nil {
				cancel()
				return b.Err
			}
			if b.Step < skip {
				continue
			}
			began := time.Now()
			out, loss, err := t.Step(b.Top, b.Bottom)
			if err != nil {
				cancel()
				return errors.Wrapf(err, "step %d", t.step)
			}
			took := time.Since(began)
			if err := t.latency.RecordValue(clampMicros(took)); err != nil {
				t.logger.Debugf("latency not recorded: %v", err)
			}
			sum += loss
			n++

			lr := t.schedule.LR(t.step - 1)
			s := net.StepSummary{
				Step:       t.step,
				TotalSteps: t.totalSteps,
				Epoch:      epoch,
				Loss:       loss,
				Scalars:    summary.Scalars(out, t.model.DepthScale(), t.model.DisparityScale(), lr),
				Examples:   b.Top.B,
				StepTime:   took,
				Elapsed:    time.Since(start),
			}
			for _, c := range t.callbacks {
				c.OnStepEnd(s, t.model)
			}
			if t.images != nil && t.step%SummaryInterval == 0 {
				if err := t.images.Write(t.step, out); err != nil {
					t.logger.Errorw("image summary failed", "step", t.step, "error", err)
				}
			}
			if t.step >= t.totalSteps {
				break
			}
		}
		cancel()
		if err := ctx.Err(); err != nil {
			return err
		}
		mean := 0.0
		if n > 0 {
			mean = sum / float64(n)
		}
		for _, c := range t.callbacks {
			c.OnEpochEnd(epoch, mean, t.model)
		}
	}
	return nil
}

func clampMicros(d time.Duration) int64 {
	us := d.Microseconds()
	if us < 1 {
		return 1
	}
	if us > maxLatency {
		return maxLatency
	}
	return us
}

func (t *Trainer) logLatency() {
	h := t.latency
	if h.TotalCount() == 0 {
		return
	}
	ms := func(us int64) float64 { return float64(us) / 1000 }
	t.logger.Infof("step latency over %d steps: mean %.1fms | p50 %.1fms | p99 %.1fms | max %.1fms",
		h.TotalCount(), h.Mean()/1000, ms(h.ValueAtQuantile(50)), ms(h.ValueAtQuantile(99)), ms(h.Max()))
}

// Latency returns the mean and 99th percentile step time.
func (t *Trainer) Latency() (mean, p99 time.Duration) {
	if t.latency.TotalCount() == 0 {
		return 0, 0
	}
	return time.Duration(math.Round(t.latency.Mean())) * time.Microsecond,
		time.Duration(t.latency.ValueAtQuantile(99)) * time.Microsecond
}
