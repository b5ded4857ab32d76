package net

import (
	"time"

	"github.com/edaniels/golog"

	"github.com/FlavioCFOliveira/GoDepth360/internal/layer"
)

// Model is the view of a trainable model the callbacks need.
type Model interface {
	Params() []*layer.Param
}

// StepSummary is reported after every optimisation step.
type StepSummary struct {
	Step       int64
	TotalSteps int64
	Epoch      int
	Loss       float64
	// Scalars holds named summary values such as individual loss terms,
	// learned scales and the learning rate.
	Scalars map[string]float64
	// Examples is the number of images processed in this step.
	Examples int
	// StepTime is the wall time of this step, Elapsed the time since training
	// started.
	StepTime time.Duration
	Elapsed  time.Duration
}

// Callback defines the interface for training callbacks.
type Callback interface {
	OnTrainBegin(m Model)
	OnTrainEnd(step int64, m Model)
	OnEpochBegin(epoch int, m Model)
	OnEpochEnd(epoch int, loss float64, m Model)
	OnStepEnd(s StepSummary, m Model)
}

// BaseCallback provides default empty implementations for Callback.
type BaseCallback struct{}

func (c BaseCallback) OnTrainBegin(m Model)                        {}
func (c BaseCallback) OnTrainEnd(step int64, m Model)              {}
func (c BaseCallback) OnEpochBegin(epoch int, m Model)             {}
func (c BaseCallback) OnEpochEnd(epoch int, loss float64, m Model) {}
func (c BaseCallback) OnStepEnd(s StepSummary, m Model)            {}

// ModelCheckpoint saves the model every Interval steps and when training ends.
type ModelCheckpoint struct {
	BaseCallback
	Dir      string
	Interval int64
	RunID    string
	Logger   golog.Logger

	lastSaved int64
}

// NewModelCheckpoint creates a checkpoint callback writing into dir.
func NewModelCheckpoint(dir string, interval int64, runID string, logger golog.Logger) *ModelCheckpoint {
	return &ModelCheckpoint{Dir: dir, Interval: interval, RunID: runID, Logger: logger, lastSaved: -1}
}

func (c *ModelCheckpoint) save(step int64, m Model) {
	if step == c.lastSaved {
		return
	}
	path := CheckpointPath(c.Dir, step)
	if err := SaveCheckpoint(path, m.Params(), step, c.RunID); err != nil {
		c.Logger.Errorw("error saving checkpoint", "path", path, "error", err)
		return
	}
	c.lastSaved = step
	c.Logger.Infof("checkpoint saved: %s", path)
}

func (c *ModelCheckpoint) OnStepEnd(s StepSummary, m Model) {
	if c.Interval > 0 && s.Step > 0 && s.Step%c.Interval == 0 {
		c.save(s.Step, m)
	}
}

func (c *ModelCheckpoint) OnTrainEnd(step int64, m Model) {
	c.save(step, m)
}

// Logger logs training progress every Interval steps.
type Logger struct {
	BaseCallback
	Interval int64
	Log      golog.Logger
}

func (c Logger) OnStepEnd(s StepSummary, m Model) {
	if c.Interval <= 0 || s.Step%c.Interval != 0 {
		return
	}
	examplesPerSec := 0.0
	if s.StepTime > 0 {
		examplesPerSec = float64(s.Examples) / s.StepTime.Seconds()
	}
	hours := s.Elapsed.Hours()
	left := 0.0
	if s.Step > 0 {
		left = (float64(s.TotalSteps)/float64(s.Step) - 1) * hours
	}
	c.Log.Infof("batch %6d | examples/s: %4.2f | loss: %.5f | time elapsed: %.2fh | time left: %.2fh",
		s.Step, examplesPerSec, s.Loss, hours, left)
}

func (c Logger) OnEpochEnd(epoch int, loss float64, m Model) {
	c.Log.Debugf("epoch %d: mean loss = %.6f", epoch, loss)
}
