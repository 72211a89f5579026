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
	"time"

	"github.com/gomlx/made/training"
	"github.com/pkg/errors"
)

type everyNSteps struct {
	n, count int
	fn       OnStepFn
}

func (eN *everyNSteps) onStep(loop *Loop, results training.Results) error {
	eN.count++
	if eN.count%eN.n != 0 {
		return nil
	}
	return eN.fn(loop, results)
}

// EveryNSteps registers an OnStep hook on the loop that is called every n steps.
//
// Notice that it does not call fn at the last step (except by coincidence).
func EveryNSteps(loop *Loop, n int, name string, priority Priority, fn OnStepFn) {
	eN := &everyNSteps{n: max(n, 1), fn: fn}
	loop.OnStep(fmt.Sprintf("EveryNSteps(%d): %s", n, name), priority, eN.onStep)
}

type periodicCallback struct {
	last    time.Time
	period  time.Duration
	started bool
	fn      OnStepFn
}

func (p *periodicCallback) onStep(loop *Loop, results training.Results) error {
	if !p.started {
		// Start the clock.
		p.started = true
		p.last = time.Now()
		return nil
	}
	if time.Since(p.last) < p.period {
		return nil
	}
	err := p.fn(loop, results)
	p.last = time.Now()
	return err
}

// PeriodicCallback registers an OnStep hook on the loop that is called every period of time.
// The period counts after the execution of fn, so the time spent in fn is discounted.
func PeriodicCallback(loop *Loop, period time.Duration, name string, priority Priority, fn OnStepFn) {
	p := &periodicCallback{period: period, fn: fn}
	loop.OnStep(fmt.Sprintf("PeriodicCallback(%s): %s", period, name), priority, p.onStep)
}

// EarlyStopping returns an OnEpochEnd hook that stops Fit (see ErrEarlyStop) when the metric
// (e.g. "loss/val") has not improved (decreased) for patience epochs.
func EarlyStopping(metric string, patience int) OnEpochEndFn {
	best, bad := 0.0, 0
	seen := false
	return func(loop *Loop, epoch int) error {
		value, found := loop.Recorder.Latest()[metric]
		if !found {
			return nil
		}
		if !seen || value < best {
			best, bad, seen = value, 0, true
			return nil
		}
		bad++
		if bad >= patience {
			return errors.Wrapf(ErrEarlyStop, "%s did not improve from %.6g for %d epochs", metric, best, bad)
		}
		return nil
	}
}
