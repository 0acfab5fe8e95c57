/*
Copyright 2020 The symcn authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/symcn/dubbo-registry/pkg/option"
	"k8s.io/klog"
)

// Factory owns one Registry per backing address.
type Factory struct {
	mu         sync.Mutex
	registries map[string]*Registry
	newFn      func(ctx context.Context, opt option.Registry) (*Registry, error)
}

// NewFactory ...
func NewFactory() *Factory {
	return &Factory{
		registries: make(map[string]*Registry),
		newFn:      New,
	}
}

// Get returns the registry of opt.Key(), it is opened on first use.
func (f *Factory) Get(ctx context.Context, opt option.Registry) (*Registry, error) {
	key := opt.Key()

	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.registries[key]; ok {
		return r, nil
	}

	r, err := f.newFn(ctx, opt)
	if err != nil {
		return nil, err
	}
	f.registries[key] = r
	klog.V(4).Infof("Registry of %s is created", key)
	return r, nil
}

// Registries returns the opened registries sorted by key.
func (f *Factory) Registries() []*Registry {
	f.mu.Lock()
	defer f.mu.Unlock()

	keys := make([]string, 0, len(f.registries))
	for key := range f.registries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	registries := make([]*Registry, 0, len(keys))
	for _, key := range keys {
		registries = append(registries, f.registries[key])
	}
	return registries
}

// Remove closes the registry of opt.Key().
func (f *Factory) Remove(opt option.Registry) error {
	f.mu.Lock()
	r, ok := f.registries[opt.Key()]
	delete(f.registries, opt.Key())
	f.mu.Unlock()

	if !ok {
		return nil
	}
	return r.Close()
}

// Close closes every registry, the factory can be used again afterwards.
func (f *Factory) Close() error {
	f.mu.Lock()
	registries := f.registries
	f.registries = make(map[string]*Registry)
	f.mu.Unlock()

	var first error
	for key, r := range registries {
		if err := r.Close(); err != nil {
			klog.Errorf("Closing the registry of %s failed: %v", key, err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}
