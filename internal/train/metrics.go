package train

import (
	"time"
)

// Phase tags a metric record.
type Phase string

// Phases of an epoch.
const (
	PhaseTrain Phase = "train"
	PhaseValid Phase = "valid"
)

// Metric keys.
const (
	KeyLoss     = "loss"
	KeyAccuracy = "accuracy"
)

// Record is the outcome of one batch.
type Record struct {
	Epoch    int
	Progress float64 // epoch-1 + (batch+1)/batches
	Phase    Phase
	Values   map[string]float64
}

// MetricLog is an append-only sequence of batch records.
type MetricLog struct {
	records []Record
}

// Append adds a record.
func (l *MetricLog) Append(r Record) {
	l.records = append(l.records, r)
}

// Len returns the number of records.
func (l *MetricLog) Len() int {
	return len(l.records)
}

// Records returns the records in insertion order.
func (l *MetricLog) Records() []Record {
	return l.records
}

// Series returns progress and value pairs of key for one phase.
func (l *MetricLog) Series(phase Phase, key string) (progress, values []float64) {
	for _, r := range l.records {
		if r.Phase != phase {
			continue
		}
		v, ok := r.Values[key]
		if !ok {
			continue
		}
		progress = append(progress, r.Progress)
		values = append(values, v)
	}
	return progress, values
}

// Progress returns the epoch fraction reached after batch i (0-based) of n
// in epoch (1-based).
func Progress(epoch, i, n int) float64 {
	return float64(epoch-1) + float64(i+1)/float64(n)
}

// EpochSummary holds the sample-weighted averages of one epoch.
type EpochSummary struct {
	Epoch         int
	TrainLoss     float64
	TrainAccuracy float64
	ValLoss       float64
	ValAccuracy   float64
	HasValidation bool
	Duration      time.Duration
	ImagesPerSec  float64
}

// History is the result of a run.
type History struct {
	RunID  string
	Log    *MetricLog
	Epochs []EpochSummary
}

// Last returns the final epoch summary, or false if no epoch finished.
func (h *History) Last() (EpochSummary, bool) {
	if len(h.Epochs) == 0 {
		return EpochSummary{}, false
	}
	return h.Epochs[len(h.Epochs)-1], true
}

// mean accumulates sample-weighted loss and accuracy.
type mean struct {
	samples  int
	loss     float64
	accuracy float64
}

func (m *mean) add(r StepResult, n int) {
	m.samples += n
	m.loss += r.Loss * float64(n)
	m.accuracy += r.Accuracy * float64(n)
}

func (m *mean) result() (loss, accuracy float64) {
	if m.samples == 0 {
		return 0, 0
	}
	return m.loss / float64(m.samples), m.accuracy / float64(m.samples)
}
