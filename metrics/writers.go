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

package metrics

import (
	"slices"
	"sync"

	"github.com/dustin/go-humanize"
	"k8s.io/klog/v2"
)

// KlogWriter logs every point with klog at the given verbosity level.
type KlogWriter struct {
	Level klog.Level
}

// Write implements Writer.
func (w KlogWriter) Write(points []Point) error {
	for _, p := range points {
		klog.V(w.Level).Infof("%s=%.6g (step %s, epoch %d, per %s)", p.Name, p.Value, humanize.Comma(p.Step), p.Epoch, p.Scope)
	}
	return nil
}

// Close implements Writer.
func (w KlogWriter) Close() error { return nil }

// MemoryWriter keeps all points in memory. It is safe for concurrent use.
type MemoryWriter struct {
	mu     sync.Mutex
	points []Point
}

// Write implements Writer.
func (w *MemoryWriter) Write(points []Point) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.points = append(w.points, points...)
	return nil
}

// Close implements Writer. The points are still available after Close.
func (w *MemoryWriter) Close() error { return nil }

// Points returns a copy of all points written.
func (w *MemoryWriter) Points() []Point {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Clone(w.points)
}

// Values returns the values written for the metric name, in order.
func (w *MemoryWriter) Values(name string) []float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	var values []float64
	for _, p := range w.points {
		if p.Name == name {
			values = append(values, p.Value)
		}
	}
	return values
}

// Names returns the sorted names of the metrics written.
func (w *MemoryWriter) Names() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var names []string
	for _, p := range w.points {
		if !slices.Contains(names, p.Name) {
			names = append(names, p.Name)
		}
	}
	slices.Sort(names)
	return names
}
