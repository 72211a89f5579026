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

// Package registry holds name to constructor tables, used to late-bind datasets, transforms
// and models from configuration files.
//
// Each table is populated during initialization by the packages that provide the
// constructors, and lookups are strict: an unknown name is an error.
package registry

import (
	"sort"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// ErrNotFound is returned (wrapped) by Registry.Lookup when the name is not registered.
var ErrNotFound = errors.New("not registered")

// Registry maps names to constructors of type C.
//
// It is safe for concurrent use, but it's expected to be populated during package
// initialization only.
type Registry[C any] struct {
	kind  string
	mu    sync.RWMutex
	table map[string]C
}

// New creates an empty Registry. The kind (e.g.: "dataset") is only used for error messages.
func New[C any](kind string) *Registry[C] {
	return &Registry[C]{
		kind:  kind,
		table: make(map[string]C),
	}
}

// Kind of things registered, as given to New.
func (r *Registry[C]) Kind() string { return r.kind }

// Register constructor under name. It panics if name is empty or already registered, since
// this only happens during initialization.
func (r *Registry[C]) Register(name string, constructor C) {
	if name == "" {
		exceptions.Panicf("registry %s: cannot register an empty name", r.kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, found := r.table[name]; found {
		exceptions.Panicf("registry %s: %q registered more than once", r.kind, name)
	}
	r.table[name] = constructor
}

// Lookup returns the constructor registered under name, or an error wrapping ErrNotFound.
func (r *Registry[C]) Lookup(name string) (C, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, found := r.table[name]
	if !found {
		var zero C
		return zero, errors.Wrapf(ErrNotFound, "%s %q (known: %v)", r.kind, name, r.namesLocked())
	}
	return c, nil
}

// Has returns whether name is registered.
func (r *Registry[C]) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, found := r.table[name]
	return found
}

// Names returns the registered names, sorted.
func (r *Registry[C]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

func (r *Registry[C]) namesLocked() []string {
	names := make([]string, 0, len(r.table))
	for name := range r.table {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
