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

package fit

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
)

// ReportTable returns a table with the latest value of each metric, one row per metric name
// prefix (e.g. "loss") and one column per split (e.g. "train", "val").
func ReportTable(latest map[string]float64) string {
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	headerStyle := lipgloss.NewStyle().Padding(0, 1).Bold(true).Reverse(true)
	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == lgtable.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})

	values := make(map[string]map[string]float64)
	var splits []string
	for name, value := range latest {
		idx := strings.LastIndex(name, "/")
		metric, split := name, ""
		if idx >= 0 {
			metric, split = name[:idx], name[idx+1:]
		}
		if values[metric] == nil {
			values[metric] = make(map[string]float64)
		}
		values[metric][split] = value
		if !slices.Contains(splits, split) {
			splits = append(splits, split)
		}
	}
	slices.SortFunc(splits, func(a, b string) int {
		if d := splitRank(a) - splitRank(b); d != 0 {
			return d
		}
		return strings.Compare(a, b)
	})
	table.Headers(append([]string{"Metric"}, splits...)...)
	for _, metric := range slices.Sorted(maps.Keys(values)) {
		row := make([]string, 1+len(splits))
		row[0] = metric
		for ii, split := range splits {
			if value, found := values[metric][split]; found {
				row[1+ii] = fmt.Sprintf("%.4f", value)
			}
		}
		table.Row(row...)
	}
	return table.String()
}

// splitRank orders the columns: train, val, test and then anything else.
func splitRank(split string) int {
	switch split {
	case "train":
		return 0
	case "val":
		return 1
	case "test":
		return 2
	default:
		return 3
	}
}

// Report writes a summary of the loop: number of steps and epochs, median step time and the
// table of the latest metrics.
func Report(w io.Writer, loop *Loop) error {
	_, err := fmt.Fprintf(w, "Run %s: %s steps, %d epochs, median step time %s\n%s\n",
		loop.Recorder.Run(), humanize.Comma(int64(loop.LoopStep)), loop.Epoch,
		loop.MedianStepDuration(), ReportTable(loop.Recorder.Latest()))
	return err
}
