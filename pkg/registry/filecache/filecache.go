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

// Package filecache keeps the last known notifications of every subscription on disk, they seed
// the local cache when the backing store can not be reached at startup.
package filecache

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/ghodss/yaml"
	"github.com/pkg/errors"
	"github.com/symcn/dubbo-registry/pkg/debounce"
	"github.com/symcn/dubbo-registry/pkg/registry/types"
	"k8s.io/klog"
)

// Document is the layout of the cache file.
type Document struct {
	// Subscriptions maps a query to its urls per category.
	Subscriptions map[string]map[string][]string `json:"subscriptions"`
}

// FileCache ...
type FileCache struct {
	path string

	mu      sync.Mutex
	entries map[string]map[string][]string

	debouncer *debounce.Debounce
}

type saveRequest struct{}

func (saveRequest) Merge(debounce.Request) debounce.Request { return saveRequest{} }

// New loads the file at path when it exists. Updates are written back at most once per delay.
func New(path string, delay time.Duration) (*FileCache, error) {
	f := &FileCache{
		path:    path,
		entries: make(map[string]map[string][]string),
	}
	if err := f.read(); err != nil {
		return nil, err
	}
	f.debouncer = debounce.New(delay, 10*delay, func(debounce.Request) {
		if err := f.Save(); err != nil {
			klog.Errorf("[filecache] save %s failed: %v", f.path, err)
		}
	})
	return f, nil
}

// Path ...
func (f *FileCache) Path() string {
	return f.path
}

func (f *FileCache) read() error {
	data, err := ioutil.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "read registry cache file %s", f.path)
	}
	if len(data) == 0 {
		return nil
	}

	doc := &Document{}
	if err := yaml.Unmarshal(data, doc); err != nil {
		return errors.Wrapf(err, "parse registry cache file %s", f.path)
	}
	if doc.Subscriptions != nil {
		f.entries = doc.Subscriptions
	}
	klog.Infof("[filecache] loaded %d subscriptions from %s", len(f.entries), f.path)
	return nil
}

// Queries returns the queries present in the file.
func (f *FileCache) Queries() []*types.URL {
	f.mu.Lock()
	defer f.mu.Unlock()

	queries := make([]*types.URL, 0, len(f.entries))
	for raw := range f.entries {
		q, err := types.ParseURL(raw)
		if err != nil {
			klog.Warningf("[filecache] skipping the malformed query %q: %v", raw, err)
			continue
		}
		queries = append(queries, q)
	}
	return types.SortURLs(queries)
}

// Load returns the urls cached for query grouped by category.
func (f *FileCache) Load(query *types.URL) map[string][]*types.URL {
	f.mu.Lock()
	defer f.mu.Unlock()

	result := make(map[string][]*types.URL)
	for category, raws := range f.entries[query.Key()] {
		urls := make([]*types.URL, 0, len(raws))
		for _, raw := range raws {
			u, err := types.ParseURL(raw)
			if err != nil {
				klog.Warningf("[filecache] skipping the malformed url %q: %v", raw, err)
				continue
			}
			urls = append(urls, u)
		}
		result[category] = urls
	}
	return result
}

// Update records the latest notification of query for category and schedules a save.
func (f *FileCache) Update(query *types.URL, category string, urls []*types.URL) {
	raws := make([]string, 0, len(urls))
	for _, u := range urls {
		raws = append(raws, u.String())
	}
	sort.Strings(raws)

	f.mu.Lock()
	categories, ok := f.entries[query.Key()]
	if !ok {
		categories = make(map[string][]string)
		f.entries[query.Key()] = categories
	}
	categories[category] = raws
	f.mu.Unlock()

	f.debouncer.Put(saveRequest{})
}

// Delete forgets query.
func (f *FileCache) Delete(query *types.URL) {
	f.mu.Lock()
	_, ok := f.entries[query.Key()]
	delete(f.entries, query.Key())
	f.mu.Unlock()

	if ok {
		f.debouncer.Put(saveRequest{})
	}
}

// Save writes the file through a temporary file in the same directory.
func (f *FileCache) Save() error {
	f.mu.Lock()
	count := len(f.entries)
	data, err := yaml.Marshal(&Document{Subscriptions: f.entries})
	f.mu.Unlock()
	if err != nil {
		return errors.Wrap(err, "marshal registry cache")
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "create directory %s", dir)
	}
	tmp, err := ioutil.TempFile(dir, filepath.Base(f.path)+".tmp")
	if err != nil {
		return errors.Wrap(err, "create temporary cache file")
	}
	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrap(err, "write temporary cache file")
	}
	if err = tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, "close temporary cache file")
	}
	if err = os.Rename(tmp.Name(), f.path); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrapf(err, "replace %s", f.path)
	}
	klog.V(4).Infof("[filecache] saved %d subscriptions to %s", count, f.path)
	return nil
}

// Close flushes the pending save.
func (f *FileCache) Close() {
	f.debouncer.Close()
}
