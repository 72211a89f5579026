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

package datamodule

import (
	"fmt"
	"io"
	"math/rand"
	"runtime"

	"github.com/gomlx/gomlx/ml/train"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/klauspost/cpuid/v2"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// Loader iterates over a Dataset in batches. It implements GoMLX's train.Dataset, so it can
// also be used with GoMLX's own training loops.
//
// Each call to Yield returns one batch: inputs holds one tensor with the stacked inputs of the
// examples (see Collate) and labels holds the stacked labels, or is empty for unlabeled
// datasets. At the end of the epoch Yield returns io.EOF, and Reset starts a new one.
//
// With NumWorkers > 0, batches are prepared in a background goroutine, and each batch's
// examples are fetched by up to NumWorkers goroutines. The Dataset must then be safe for
// concurrent use.
//
// A Loader itself is not safe for concurrent use.
type Loader struct {
	ds         Dataset
	name       string
	batchSize  int
	shuffle    bool
	numWorkers int
	dropLast   bool
	prefetch   int
	seed       int64

	epoch    int
	order    []int
	started  bool
	next     int
	producer *producer
}

var _ train.Dataset = (*Loader)(nil)

// LoaderOption configures a Loader.
type LoaderOption func(l *Loader)

// WithBatchSize sets the number of examples per batch. It must be positive.
func WithBatchSize(batchSize int) LoaderOption {
	return func(l *Loader) { l.batchSize = batchSize }
}

// WithShuffle sets whether examples are visited in a random order, different every epoch.
func WithShuffle(shuffle bool) LoaderOption {
	return func(l *Loader) { l.shuffle = shuffle }
}

// WithNumWorkers sets the number of goroutines fetching examples. 0 fetches them inline, in
// the calling goroutine, and -1 uses one goroutine per physical core.
func WithNumWorkers(numWorkers int) LoaderOption {
	return func(l *Loader) { l.numWorkers = numWorkers }
}

// WithDropLast drops the last batch of the epoch if it is incomplete.
func WithDropLast(dropLast bool) LoaderOption {
	return func(l *Loader) { l.dropLast = dropLast }
}

// WithPrefetch sets how many batches are prepared ahead when using workers. Default is 2.
func WithPrefetch(prefetch int) LoaderOption {
	return func(l *Loader) { l.prefetch = prefetch }
}

// WithName sets the name returned by Loader.Name.
func WithName(name string) LoaderOption {
	return func(l *Loader) { l.name = name }
}

// WithSeed sets the seed of the shuffling. Each epoch uses a different permutation, derived
// from the seed and the epoch number.
func WithSeed(seed int64) LoaderOption {
	return func(l *Loader) { l.seed = seed }
}

// NewLoader creates a Loader over ds. The default is batches of DefaultBatchSize, no shuffling and no workers.
func NewLoader(ds Dataset, options ...LoaderOption) (*Loader, error) {
	if ds == nil {
		return nil, errors.New("NewLoader: nil dataset")
	}
	l := &Loader{
		ds:        ds,
		name:      "loader",
		batchSize: DefaultBatchSize,
		prefetch:  2,
	}
	for _, option := range options {
		option(l)
	}
	if l.batchSize <= 0 {
		return nil, errors.Errorf("NewLoader(%q): batch size must be positive, got %d", l.name, l.batchSize)
	}
	if l.numWorkers < -1 {
		return nil, errors.Errorf("NewLoader(%q): invalid number of workers %d", l.name, l.numWorkers)
	}
	if l.numWorkers == -1 {
		l.numWorkers = cpuid.CPU.PhysicalCores
		if l.numWorkers <= 0 {
			l.numWorkers = runtime.NumCPU()
		}
	}
	if l.prefetch < 1 {
		l.prefetch = 1
	}
	return l, nil
}

// Name implements train.Dataset.
func (l *Loader) Name() string { return l.name }

// Dataset being iterated.
func (l *Loader) Dataset() Dataset { return l.ds }

// BatchSize returns the configured number of examples per batch.
func (l *Loader) BatchSize() int { return l.batchSize }

// Shuffle returns whether the examples are shuffled.
func (l *Loader) Shuffle() bool { return l.shuffle }

// NumWorkers returns the number of goroutines fetching examples (0 for inline).
func (l *Loader) NumWorkers() int { return l.numWorkers }

// Epoch returns the number of times Reset was called.
func (l *Loader) Epoch() int { return l.epoch }

// Len returns the number of batches per epoch.
func (l *Loader) Len() int {
	n := l.ds.Len()
	if l.dropLast {
		return n / l.batchSize
	}
	return (n + l.batchSize - 1) / l.batchSize
}

func (l *Loader) String() string {
	return fmt.Sprintf("Loader(%q, examples=%d, batch_size=%d, shuffle=%v, workers=%d)",
		l.name, l.ds.Len(), l.batchSize, l.shuffle, l.numWorkers)
}

// Order returns the order in which the examples of the current epoch are visited.
func (l *Loader) Order() []int {
	l.startEpoch()
	return append([]int(nil), l.order...)
}

func (l *Loader) startEpoch() {
	if l.started {
		return
	}
	l.started = true
	l.next = 0
	n := l.ds.Len()
	if l.shuffle {
		l.order = rand.New(rand.NewSource(l.seed + int64(l.epoch))).Perm(n)
	} else {
		l.order = make([]int, n)
		for ii := range l.order {
			l.order[ii] = ii
		}
	}
	if l.numWorkers > 0 {
		l.producer = l.startProducer()
	}
}

// batchIndices returns the example indices of batch number b of the epoch.
func (l *Loader) batchIndices(b int) []int {
	start := b * l.batchSize
	end := min(start+l.batchSize, len(l.order))
	return l.order[start:end]
}

// Yield implements train.Dataset. spec is always nil.
func (l *Loader) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	l.startEpoch()
	if l.producer != nil {
		b, ok := <-l.producer.batches
		if !ok {
			return nil, nil, nil, io.EOF
		}
		return nil, b.inputs, b.labels, b.err
	}
	if l.next >= l.Len() {
		return nil, nil, nil, io.EOF
	}
	inputs, labels, err = l.loadBatch(l.batchIndices(l.next))
	l.next++
	return
}

// Reset implements train.Dataset: it stops the current epoch and prepares the next one.
func (l *Loader) Reset() {
	if l.producer != nil {
		l.producer.stop()
		l.producer = nil
	}
	if l.started {
		l.epoch++
	}
	l.started = false
}

// loadBatch fetches the examples at indices and collates them.
func (l *Loader) loadBatch(indices []int) (inputs, labels []*tensors.Tensor, err error) {
	examples := make([]Example, len(indices))
	if l.numWorkers == 0 {
		for ii, index := range indices {
			if examples[ii], err = l.ds.Example(index); err != nil {
				return nil, nil, errors.WithMessagef(err, "%s: example %d", l.name, index)
			}
		}
	} else {
		var g errgroup.Group
		g.SetLimit(l.numWorkers)
		for ii, index := range indices {
			g.Go(func() error {
				ex, err := l.ds.Example(index)
				if err != nil {
					return errors.WithMessagef(err, "%s: example %d", l.name, index)
				}
				examples[ii] = ex
				return nil
			})
		}
		if err = g.Wait(); err != nil {
			return nil, nil, err
		}
	}
	inputs, labels, err = Collate(examples)
	if err != nil {
		err = errors.WithMessagef(err, "%s: collating batch", l.name)
	}
	return
}

type loadedBatch struct {
	inputs, labels []*tensors.Tensor
	err            error
}

// producer prepares the batches of one epoch in the background.
type producer struct {
	batches chan loadedBatch
	done    chan struct{}
}

func (l *Loader) startProducer() *producer {
	p := &producer{
		batches: make(chan loadedBatch, l.prefetch),
		done:    make(chan struct{}),
	}
	numBatches := l.Len()
	go func() {
		defer close(p.batches)
		for b := range numBatches {
			inputs, labels, err := l.loadBatch(l.batchIndices(b))
			select {
			case p.batches <- loadedBatch{inputs: inputs, labels: labels, err: err}:
			case <-p.done:
				return
			}
			if err != nil {
				klog.V(1).Infof("%s: stopping epoch after error: %v", l.name, err)
				return
			}
		}
	}()
	return p
}

// stop interrupts the producer and waits for it to exit.
func (p *producer) stop() {
	close(p.done)
	for range p.batches {
		// Drain until the goroutine closes the channel.
	}
}
