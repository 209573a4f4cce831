// loader.go - In-Memory-Loader ueber Samples
// Enthaelt: SliceLoader mit optionalem, geseedeten Mischen pro Durchlauf
package dataset

import (
	"fmt"
	"iter"
	"math/rand/v2"

	"github.com/7blacky7/fewshot-clip/ml"
)

// SliceLoader liefert Batches aus einer Samples-Liste.
type SliceLoader struct {
	samples   Samples
	batchSize int
	shuffle   bool
	rng       *rand.Rand
}

// NewSliceLoader erstellt einen Loader. Leere Samples ergeben ErrNoImages,
// damit nie ein leerer Batch entsteht.
func NewSliceLoader(s Samples, batchSize int, shuffle bool, seed uint64) (*SliceLoader, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBatchSize, batchSize)
	}
	if s.Len() == 0 {
		return nil, ErrNoImages
	}
	return &SliceLoader{
		samples:   s,
		batchSize: batchSize,
		shuffle:   shuffle,
		rng:       rand.New(rand.NewPCG(seed, 0x10ad)),
	}, nil
}

// Len gibt die Anzahl der Batches pro Durchlauf zurueck.
func (l *SliceLoader) Len() int {
	return (l.samples.Len() + l.batchSize - 1) / l.batchSize
}

// Size gibt die Anzahl der Samples zurueck.
func (l *SliceLoader) Size() int {
	return l.samples.Len()
}

// Batches implementiert Loader. Mit shuffle wird pro Durchlauf neu gemischt.
func (l *SliceLoader) Batches() iter.Seq2[int, Batch] {
	n := l.samples.Len()
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	if l.shuffle {
		l.rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
	}

	return func(yield func(int, Batch) bool) {
		for b, start := 0, 0; start < n; b, start = b+1, start+l.batchSize {
			end := min(start+l.batchSize, n)
			rows := make([][]float64, 0, end-start)
			labels := make([]int, 0, end-start)
			for _, idx := range order[start:end] {
				rows = append(rows, l.samples.Images[idx])
				labels = append(labels, l.samples.Labels[idx])
			}
			if !yield(b, Batch{Images: ml.StackRows(rows), Labels: labels}) {
				return
			}
		}
	}
}
