package opt

import "math"

// Scheduler defines the interface for learning rate schedulers.
type Scheduler interface {
	// Step advances the schedule by one epoch.
	Step()
	GetLR() float64
}

// StepLR decays the learning rate by gamma every stepSize epochs:
// lr = initial * gamma^floor(epoch/stepSize).
type StepLR struct {
	optimizer Optimizer
	stepSize  int
	gamma     float64
	lastEpoch int
	initialLR float64
}

// NewStepLR creates a StepLR scheduler starting from the optimizer's current rate.
func NewStepLR(optimizer Optimizer, stepSize int, gamma float64) *StepLR {
	if stepSize <= 0 {
		panic("StepLR: stepSize must be positive")
	}
	return &StepLR{
		optimizer: optimizer,
		stepSize:  stepSize,
		gamma:     gamma,
		initialLR: optimizer.LearningRate(),
	}
}

func (s *StepLR) Step() {
	s.lastEpoch++
	s.optimizer.SetLearningRate(s.initialLR * math.Pow(s.gamma, float64(s.lastEpoch/s.stepSize)))
}

func (s *StepLR) GetLR() float64 { return s.optimizer.LearningRate() }

// LastEpoch returns how many times Step has been called.
func (s *StepLR) LastEpoch() int { return s.lastEpoch }
