package opt

import "fmt"

// Scheduler maps a global step to a learning rate.
type Scheduler interface {
	LR(step int64) float64
}

// Constant is a fixed learning rate.
type Constant float64

// LR returns the constant rate.
func (c Constant) LR(step int64) float64 { return float64(c) }

// PiecewiseConstant returns Values[0] while step <= Boundaries[0],
// Values[i] while Boundaries[i-1] < step <= Boundaries[i] and the last value
// afterwards.
type PiecewiseConstant struct {
	Boundaries []int64
	Values     []float64
}

// NewPiecewiseConstant validates and builds a schedule.
func NewPiecewiseConstant(boundaries []int64, values []float64) *PiecewiseConstant {
	if len(values) != len(boundaries)+1 {
		panic(fmt.Sprintf("PiecewiseConstant: %d values for %d boundaries", len(values), len(boundaries)))
	}
	for i := 1; i < len(boundaries); i++ {
		if boundaries[i] < boundaries[i-1] {
			panic(fmt.Sprintf("PiecewiseConstant: boundaries %v are not sorted", boundaries))
		}
	}
	return &PiecewiseConstant{Boundaries: boundaries, Values: values}
}

// NewTrainingSchedule keeps lr for the first 3/5 of totalSteps, then halves it
// and halves it again after 4/5.
func NewTrainingSchedule(lr float64, totalSteps int64) *PiecewiseConstant {
	return NewPiecewiseConstant(
		[]int64{3 * totalSteps / 5, 4 * totalSteps / 5},
		[]float64{lr, lr / 2, lr / 4},
	)
}

// LR returns the learning rate for step.
func (s *PiecewiseConstant) LR(step int64) float64 {
	for i, b := range s.Boundaries {
		if step <= b {
			return s.Values[i]
		}
	}
	return s.Values[len(s.Values)-1]
}
