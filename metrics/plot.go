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
	"path/filepath"
	"slices"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// PlotWriter keeps the points in memory and, on Close, saves one PNG plot per metric into Dir,
// with the value against the global step. Metrics sharing the same prefix before "/" (e.g.
// "loss/train" and "loss/val") are drawn in the same plot, named after the prefix.
type PlotWriter struct {
	Dir string

	memory MemoryWriter
}

// NewPlotWriter creates a PlotWriter that saves its plots into dir.
func NewPlotWriter(dir string) *PlotWriter {
	return &PlotWriter{Dir: dir}
}

// Write implements Writer.
func (w *PlotWriter) Write(points []Point) error {
	return w.memory.Write(points)
}

// Close implements Writer: it saves the plots.
func (w *PlotWriter) Close() error {
	_, err := w.Save()
	return err
}

// Save saves the plots of the points written so far and returns the paths of the files created.
func (w *PlotWriter) Save() ([]string, error) {
	groups := make(map[string][]string)
	for _, name := range w.memory.Names() {
		prefix, _, _ := strings.Cut(name, "/")
		groups[prefix] = append(groups[prefix], name)
	}
	points := w.memory.Points()
	var files []string
	for prefix, names := range groups {
		p := plot.New()
		p.Title.Text = prefix
		p.X.Label.Text = "step"
		p.Legend.Top = true
		var lines []any
		for _, name := range names {
			var xys plotter.XYs
			for _, point := range points {
				if point.Name == name {
					xys = append(xys, plotter.XY{X: float64(point.Step), Y: point.Value})
				}
			}
			lines = append(lines, name, xys)
		}
		if err := plotutil.AddLinePoints(p, lines...); err != nil {
			return files, errors.Wrapf(err, "plotting %q", prefix)
		}
		path := filepath.Join(w.Dir, strings.ReplaceAll(prefix, string(filepath.Separator), "_")+".png")
		if err := p.Save(8*vg.Inch, 5*vg.Inch, path); err != nil {
			return files, errors.Wrapf(err, "saving plot %q", path)
		}
		files = append(files, path)
	}
	slices.Sort(files)
	return files, nil
}
