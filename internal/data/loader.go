package data

import (
	"math/rand"

	"github.com/pkg/errors"

	"github.com/born-ml/unet/internal/dataset"
	"github.com/born-ml/unet/internal/tensor"
)

// Loader slices a dataset into batches. The last batch may be smaller.
type Loader[B tensor.Backend] struct {
	ds        dataset.Dataset
	collator  *Collator[B]
	batchSize int
	shuffle   bool
	rng       *rand.Rand
	order     []int
}

// NewLoader creates a loader. With shuffle set, the order is permuted now
// and on every Reshuffle; otherwise samples are visited in index order.
func NewLoader[B tensor.Backend](ds dataset.Dataset, collator *Collator[B], batchSize int, shuffle bool, seed int64) (*Loader[B], error) {
	if batchSize <= 0 {
		return nil, errors.Errorf("loader: batch size must be > 0 (got %d)", batchSize)
	}
	if ds.Len() == 0 {
		return nil, errors.New("loader: dataset is empty")
	}
	l := &Loader[B]{
		ds:        ds,
		collator:  collator,
		batchSize: batchSize,
		shuffle:   shuffle,
		rng:       rand.New(rand.NewSource(seed)), //nolint:gosec // G404: reproducible ordering.
		order:     make([]int, ds.Len()),
	}
	for i := range l.order {
		l.order[i] = i
	}
	l.Reshuffle()
	return l, nil
}

// Len returns the number of samples.
func (l *Loader[B]) Len() int {
	return len(l.order)
}

// NumBatches returns the number of batches per pass.
func (l *Loader[B]) NumBatches() int {
	return (len(l.order) + l.batchSize - 1) / l.batchSize
}

// Reshuffle permutes the visiting order when shuffling is enabled.
func (l *Loader[B]) Reshuffle() {
	if !l.shuffle {
		return
	}
	l.rng.Shuffle(len(l.order), func(i, j int) {
		l.order[i], l.order[j] = l.order[j], l.order[i]
	})
}

// Batch loads and collates batch i.
func (l *Loader[B]) Batch(i int) (*Batch[B], error) {
	if i < 0 || i >= l.NumBatches() {
		return nil, errors.Wrapf(dataset.ErrIndexOutOfRange, "batch %d of %d", i, l.NumBatches())
	}
	start := i * l.batchSize
	end := min(start+l.batchSize, len(l.order))

	samples := make([]dataset.Sample, 0, end-start)
	for _, idx := range l.order[start:end] {
		s, err := l.ds.Get(idx)
		if err != nil {
			return nil, errors.Wrapf(err, "sample %d", idx)
		}
		samples = append(samples, s)
	}
	return l.collator.Collate(samples)
}
