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
	"os"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/gomlx/made/datamodule"
	"github.com/gomlx/made/training"
	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"
)

// ProgressBarName is the name of the hooks registered by AttachProgressBar.
const ProgressBarName = "made.fit.progressBar"

// maxUpdateFrequency is the time between updates to the display of stats.
const maxUpdateFrequency = 200 * time.Millisecond

var (
	normalStyle       = lipgloss.NewStyle().Padding(0, 1)
	rightAlignedStyle = lipgloss.NewStyle().Align(lipgloss.Right).Padding(0, 1)
)

// progressBar displays the progress of Fit, followed by a table with the latest metrics.
type progressBar struct {
	out              io.Writer
	lastStepReported int
	bar              *progressbar.ProgressBar

	termenv       *termenv.Output
	statsStyle    lipgloss.Style
	statsTable    *lgtable.Table
	isFirstOutput bool
	numLines      int
	updates       chan progressBarUpdate
	updatesDone   sync.WaitGroup
}

type progressBarUpdate struct {
	amount int
	rows   [][2]string
}

func (pBar *progressBar) onStart(loop *Loop, _ *datamodule.Loader) error {
	pBar.lastStepReported = loop.LoopStep
	numSteps := loop.EndStep - loop.StartStep
	pBar.bar = progressbar.NewOptions(numSteps,
		progressbar.OptionSetDescription(fmt.Sprintf("Training (%d steps): ", numSteps)),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("steps"),
		progressbar.OptionSetTheme(progressbar.ThemeUnicode),
		progressbar.OptionSetWriter(pBar.out),
	)
	pBar.isFirstOutput = true
	pBar.updates = make(chan progressBarUpdate, 100) // Large buffer so training is not blocked.
	pBar.updatesDone.Add(1)
	go pBar.display(pBar.updates)
	return nil
}

func (pBar *progressBar) onStep(loop *Loop, _ training.Results) error {
	if pBar.bar == nil || pBar.bar.IsFinished() {
		return nil
	}
	amount := loop.LoopStep + 1 - pBar.lastStepReported // +1 because the current LoopStep is finished.
	if amount <= 0 {
		return nil
	}
	update := progressBarUpdate{amount: amount}
	update.rows = append(update.rows, [2]string{"Step", fmt.Sprintf("%d / %d", loop.LoopStep+1, loop.EndStep)})
	update.rows = append(update.rows, [2]string{"Epoch", fmt.Sprintf("%d / %d", loop.Epoch+1, loop.Config.Epochs)})
	latest := loop.Recorder.Latest()
	names := make([]string, 0, len(latest))
	for name := range latest {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		update.rows = append(update.rows, [2]string{name, fmt.Sprintf("%.4f", latest[name])})
	}
	pBar.updates <- update
	pBar.lastStepReported = loop.LoopStep + 1
	return nil
}

func (pBar *progressBar) onEnd(_ *Loop) error {
	if pBar.updates != nil {
		close(pBar.updates)
		pBar.updatesDone.Wait()
		pBar.updates = nil
	}
	_, _ = fmt.Fprintln(pBar.out)
	return nil
}

// display asynchronously draws the updates: this is handy if the training is faster than the
// terminal, e.g. over a slow network connection.
func (pBar *progressBar) display(updates <-chan progressBarUpdate) {
	defer pBar.updatesDone.Done()
	for update := range updates {
		amount := update.amount
	exhaust:
		for {
			select {
			case newUpdate, ok := <-updates:
				if !ok {
					break exhaust
				}
				amount += newUpdate.amount
				update.rows = newUpdate.rows
			default:
				break exhaust
			}
		}

		// Clear the previous lines that will be overwritten.
		if !pBar.isFirstOutput {
			pBar.termenv.ClearLines(pBar.numLines)
		}
		pBar.isFirstOutput = false

		_ = pBar.bar.Add(amount) // Prints progress bar line.
		pBar.statsTable.Data(lgtable.NewStringData())
		for _, row := range update.rows {
			pBar.statsTable.Row(row[0], row[1])
		}
		_, _ = fmt.Fprintln(pBar.out)
		_, _ = fmt.Fprintln(pBar.out, pBar.statsStyle.Render(pBar.statsTable.String()))
		pBar.numLines = len(update.rows) + 1 + 2 // Rows, progress bar and the table borders.
		time.Sleep(maxUpdateFrequency)
	}
}

// AttachProgressBar creates a command-line progress bar and attaches it to the Loop, so that
// every time Fit runs it displays the progression and the latest metrics.
func AttachProgressBar(loop *Loop) {
	pBar := &progressBar{
		out:        os.Stdout,
		termenv:    termenv.NewOutput(os.Stdout),
		statsStyle: lipgloss.NewStyle().PaddingLeft(8),
		statsTable: lgtable.New().
			Border(lipgloss.RoundedBorder()).
			StyleFunc(func(row, col int) lipgloss.Style {
				if col == 0 {
					return rightAlignedStyle
				}
				return normalStyle
			}),
	}
	loop.OnStart(ProgressBarName, 0, pBar.onStart)
	PeriodicCallback(loop, maxUpdateFrequency, ProgressBarName, 0, pBar.onStep)
	loop.OnEnd(ProgressBarName, 0, pBar.onEnd)
}
