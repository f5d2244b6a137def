package dataset

import (
	"iter"
	"math/rand"

	"github.com/pkg/errors"
)

// Batch is a mini-batch of samples.
type Batch struct {
	X      []float32 // [Size, 3, H, W] flattened
	Labels []int
	Size   int
}

// Source yields mini-batches. Training, validation and test splits all
// implement it.
type Source interface {
	Batches() iter.Seq2[Batch, error]
	NumBatches() int
	Len() int
}

// Loader batches an ImageFolder through a Pipeline.
type Loader struct {
	ds        *ImageFolder
	pipeline  *Pipeline
	batchSize int
	shuffle   bool
	rng       *rand.Rand
}

// NewLoader creates a loader. When shuffle is set a new permutation is drawn
// from rng on every call to Batches. rng also drives random transforms.
func NewLoader(ds *ImageFolder, pipeline *Pipeline, batchSize int, shuffle bool, rng *rand.Rand) *Loader {
	if batchSize <= 0 {
		panic("NewLoader: batch size must be positive")
	}
	return &Loader{
		ds:        ds,
		pipeline:  pipeline,
		batchSize: batchSize,
		shuffle:   shuffle,
		rng:       rng,
	}
}

// Dataset returns the underlying ImageFolder.
func (l *Loader) Dataset() *ImageFolder { return l.ds }

// BatchSize returns the configured batch size.
func (l *Loader) BatchSize() int { return l.batchSize }

// Len returns the number of samples.
func (l *Loader) Len() int { return l.ds.Len() }

// NumBatches returns ceil(Len / BatchSize); the last batch may be partial.
func (l *Loader) NumBatches() int {
	return (l.ds.Len() + l.batchSize - 1) / l.batchSize
}

// Batches iterates over one epoch. Iteration stops after the first error.
func (l *Loader) Batches() iter.Seq2[Batch, error] {
	return func(yield func(Batch, error) bool) {
		n := l.ds.Len()
		indices := make([]int, n)
		for i := range indices {
			indices[i] = i
		}
		if l.shuffle {
			l.rng.Shuffle(n, func(i, j int) {
				indices[i], indices[j] = indices[j], indices[i]
			})
		}

		per := l.pipeline.TensorSize()
		for start := 0; start < n; start += l.batchSize {
			end := min(start+l.batchSize, n)
			b := Batch{
				X:      make([]float32, (end-start)*per),
				Labels: make([]int, end-start),
				Size:   end - start,
			}
			for k, idx := range indices[start:end] {
				img, label, err := l.ds.Load(idx)
				if err != nil {
					yield(Batch{}, errors.Wrapf(err, "sample %d", idx))
					return
				}
				l.pipeline.Tensor(img, l.rng, b.X[k*per:(k+1)*per])
				b.Labels[k] = label
			}
			if !yield(b, nil) {
				return
			}
		}
	}
}
