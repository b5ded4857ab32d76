package data

import (
	"bufio"
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/FlavioCFOliveira/GoDepth360/internal/config"
	"github.com/FlavioCFOliveira/GoDepth360/internal/tensor"
)

// Sub-directories of the data path holding the two camera views.
const (
	TopDir    = "top"
	BottomDir = "bottom"
)

// ReadFilenames returns the first whitespace separated token of every
// non-empty line of path.
func ReadFilenames(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open filenames file")
	}
	defer f.Close()

	var names []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if fields := strings.Fields(sc.Text()); len(fields) > 0 {
			names = append(names, fields[0])
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	if len(names) == 0 {
		return nil, errors.Errorf("%s lists no samples", path)
	}
	return names, nil
}

// Batch is one assembled batch. Bottom is nil in test mode. A non-nil Err
// ends the stream.
type Batch struct {
	Step   int
	Top    *tensor.Tensor
	Bottom *tensor.Tensor
	Names  []string
	Err    error
}

// Loader produces batches of [B, height, width, 3] image tensors.
type Loader struct {
	dataPath      string
	names         []string
	height, width int
	batchSize     int
	threads       int
	seed          int64
	test          bool
	logger        golog.Logger
}

// NewLoader reads the filenames file named by cfg. In test mode every batch
// holds one top image and its mirror.
func NewLoader(cfg config.Config, test bool, logger golog.Logger) (*Loader, error) {
	names, err := ReadFilenames(cfg.FilenamesFile)
	if err != nil {
		return nil, err
	}
	l := &Loader{
		dataPath:  cfg.DataPath,
		names:     names,
		height:    cfg.Height,
		width:     cfg.Width,
		batchSize: cfg.BatchSize,
		threads:   cfg.NumThreads,
		seed:      cfg.Seed,
		test:      test,
		logger:    logger,
	}
	if l.test {
		l.batchSize = 1
	}
	if l.batchSize <= 0 {
		return nil, errors.Errorf("batch size %d must be positive", l.batchSize)
	}
	if l.threads <= 0 {
		l.threads = 1
	}
	logger.Debugf("loader: %d samples from %s, batch %d, %d threads", len(names), cfg.FilenamesFile, l.batchSize, l.threads)
	return l, nil
}

// Len returns the number of samples.
func (l *Loader) Len() int { return len(l.names) }

// Names returns the sample names in file order.
func (l *Loader) Names() []string { return l.names }

// StepsPerEpoch returns ⌈samples / batch size⌉.
func (l *Loader) StepsPerEpoch() int {
	return (len(l.names) + l.batchSize - 1) / l.batchSize
}

// order returns the sample indices of an epoch. Train mode shuffles with a
// seed derived from the epoch and fills the last batch by wrapping around.
func (l *Loader) order(epoch int) []int {
	n := len(l.names)
	var perm []int
	if l.test {
		perm = make([]int, n)
		for i := range perm {
			perm[i] = i
		}
		return perm
	}
	perm = rand.New(rand.NewSource(l.seed + int64(epoch)*7919)).Perm(n)
	for len(perm)%l.batchSize != 0 {
		perm = append(perm, perm[len(perm)%n])
	}
	return perm
}

func (l *Loader) sampleRNG(epoch, index int) *rand.Rand {
	return rand.New(rand.NewSource(l.seed ^ (int64(epoch)<<32 | int64(index))))
}

func (l *Loader) load(dir, name string) (*tensor.Tensor, error) {
	t, err := LoadTensor(filepath.Join(l.dataPath, dir), name, l.height, l.width)
	return t, errors.Wrapf(err, "sample %s", name)
}

// build assembles batch step of an epoch.
func (l *Loader) build(epoch, step int, order []int) Batch {
	b := Batch{Step: step}
	idx := order[step*l.batchSize : (step+1)*l.batchSize]

	if l.test {
		name := l.names[idx[0]]
		top, err := l.load(TopDir, name)
		if err != nil {
			b.Err = err
			return b
		}
		b.Top = tensor.StackBatch(top, top.FlipLeftRight())
		b.Names = []string{name}
		return b
	}

	tops := make([]*tensor.Tensor, len(idx))
	bottoms := make([]*tensor.Tensor, len(idx))
	for j, i := range idx {
		name := l.names[i]
		top, err := l.load(TopDir, name)
		if err != nil {
			b.Err = err
			return b
		}
		bottom, err := l.load(BottomDir, name)
		if err != nil {
			b.Err = err
			return b
		}
		tops[j], bottoms[j] = AugmentPair(l.sampleRNG(epoch, step*l.batchSize+j), top, bottom)
		b.Names = append(b.Names, name)
	}
	b.Top = tensor.StackBatch(tops...)
	b.Bottom = tensor.StackBatch(bottoms...)
	return b
}

// Epoch streams the batches of one epoch in order. Batches are built by the
// configured number of worker goroutines; at most twice that many are in
// flight. The channel is closed after the last batch, after an error batch or
// when ctx is cancelled.
func (l *Loader) Epoch(ctx context.Context, epoch int) <-chan Batch {
	steps := l.StepsPerEpoch()
	order := l.order(epoch)
	out := make(chan Batch)

	slots := make([]chan Batch, steps)
	for i := range slots {
		slots[i] = make(chan Batch, 1)
	}
	jobs := make(chan int)
	window := make(chan struct{}, 2*l.threads)
	done := make(chan struct{})

	go func() {
		defer close(jobs)
		for step := 0; step < steps; step++ {
			select {
			case window <- struct{}{}:
			case <-done:
				return
			}
			select {
			case jobs <- step:
			case <-done:
				return
			}
		}
	}()

	for w := 0; w < l.threads; w++ {
		go func() {
			for step := range jobs {
				slots[step] <- l.build(epoch, step, order)
			}
		}()
	}

	go func() {
		defer close(out)
		defer close(done)
		for step := 0; step < steps; step++ {
			var b Batch
			select {
			case b = <-slots[step]:
			case <-ctx.Done():
				return
			}
			select {
			case out <- b:
			case <-ctx.Done():
				return
			}
			if b.Err != nil {
				l.logger.Errorw("loader stopped", "epoch", epoch, "step", step, "error", b.Err)
				return
			}
			<-window
		}
	}()
	return out
}
