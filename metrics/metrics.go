/*
 *	Copyright 2025 The GoMLX Authors
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

// Package metrics collects the named scalar values logged during training and delivers them to
// one or more Writer.
//
// Values logged with scope PerStep are written as they arrive. Values logged with scope PerEpoch
// are accumulated, and their mean is written when the epoch ends (see Recorder.EndEpoch).
package metrics

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
	"k8s.io/klog/v2"
)

// Scope defines when a logged value is reported.
type Scope int

const (
	// PerStep values are reported immediately.
	PerStep Scope = iota

	// PerEpoch values are aggregated (weighted mean) and reported at the end of the epoch.
	PerEpoch
)

func (s Scope) String() string {
	switch s {
	case PerStep:
		return "step"
	case PerEpoch:
		return "epoch"
	default:
		return fmt.Sprintf("Scope(%d)", int(s))
	}
}

// Logger receives named scalar values.
type Logger interface {
	Log(name string, value float64, scope Scope)

	// LogWeighted is like Log, with the weight of the value in the per-epoch mean: typically
	// the number of examples it was computed over.
	LogWeighted(name string, value, weight float64, scope Scope)
}

// Point is one reported value.
type Point struct {
	Run   string
	Name  string
	Value float64
	Step  int64
	Epoch int
	Scope Scope
}

// Writer stores or displays reported points.
type Writer interface {
	Write(points []Point) error
	Close() error
}

// Recorder implements Logger and forwards the reported points to its writers.
// It is safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	run     string
	step    int64
	epoch   int
	writers []Writer
	pending map[string]*weightedValues
	latest  map[string]float64
	err     error
}

var _ Logger = (*Recorder)(nil)

// NewRecorder creates a Recorder for the given run. If run is empty a random id is used.
func NewRecorder(run string, writers ...Writer) *Recorder {
	if run == "" {
		run = uuid.NewString()
	}
	return &Recorder{
		run:     run,
		writers: writers,
		pending: make(map[string]*weightedValues),
		latest:  make(map[string]float64),
	}
}

// Run returns the id of the run, stored with every point.
func (r *Recorder) Run() string { return r.run }

// AddWriter adds a writer, it will only receive points reported after it is added.
func (r *Recorder) AddWriter(w Writer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writers = append(r.writers, w)
}

// SetStep sets the global step stored with the following points.
func (r *Recorder) SetStep(step int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.step = step
}

// Step returns the current global step.
func (r *Recorder) Step() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.step
}

// Epoch returns the current epoch, the number of times EndEpoch was called.
func (r *Recorder) Epoch() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.epoch
}

type weightedValues struct {
	values, weights []float64
}

// Log implements Logger, with weight 1.
func (r *Recorder) Log(name string, value float64, scope Scope) {
	r.LogWeighted(name, value, 1, scope)
}

// LogWeighted implements Logger. The weight is only used by PerEpoch values.
func (r *Recorder) LogWeighted(name string, value, weight float64, scope Scope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if scope == PerEpoch {
		pending := r.pending[name]
		if pending == nil {
			pending = &weightedValues{}
			r.pending[name] = pending
		}
		pending.values = append(pending.values, value)
		pending.weights = append(pending.weights, weight)
		return
	}
	r.latest[name] = value
	r.writeLocked([]Point{r.pointLocked(name, value, scope)})
}

// EndEpoch reports the weighted mean of the values logged with PerEpoch since the last call, and advances
// the epoch counter. It returns the first error reported by a writer so far, if any.
func (r *Recorder) EndEpoch() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := slices.Sorted(maps.Keys(r.pending))
	points := make([]Point, 0, len(names))
	for _, name := range names {
		pending := r.pending[name]
		mean := stat.Mean(pending.values, pending.weights)
		r.latest[name] = mean
		points = append(points, r.pointLocked(name, mean, PerEpoch))
	}
	clear(r.pending)
	if len(points) > 0 {
		r.writeLocked(points)
	}
	r.epoch++
	return r.err
}

// Latest returns a copy of the last reported value of each metric.
func (r *Recorder) Latest() map[string]float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return maps.Clone(r.latest)
}

// Err returns the first error reported by a writer.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Close closes all writers. Pending per-epoch values not yet reported are discarded.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.writers {
		if err := w.Close(); err != nil && r.err == nil {
			r.err = errors.WithMessagef(err, "closing metrics writer %T", w)
		}
	}
	r.writers = nil
	return r.err
}

func (r *Recorder) pointLocked(name string, value float64, scope Scope) Point {
	return Point{Run: r.run, Name: name, Value: value, Step: r.step, Epoch: r.epoch, Scope: scope}
}

func (r *Recorder) writeLocked(points []Point) {
	for _, w := range r.writers {
		if err := w.Write(points); err != nil {
			klog.Errorf("metrics writer %T failed: %+v", w, err)
			if r.err == nil {
				r.err = errors.WithMessagef(err, "writing metrics with %T", w)
			}
		}
	}
}
