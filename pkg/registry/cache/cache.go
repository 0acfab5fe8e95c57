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

// Package cache holds the registrations currently known by a registry, partitioned by category.
package cache

import (
	"sort"
	"sync"

	"github.com/symcn/dubbo-registry/pkg/registry/types"
)

// Snapshot is the content of one category at a revision.
type Snapshot struct {
	Category string
	Revision uint64
	URLs     []*types.URL
}

// Cache every category has its own lock and revision, writers of different categories never
// contend with each other.
type Cache struct {
	mu         sync.RWMutex
	partitions map[string]*partition
}

type partition struct {
	mu       sync.RWMutex
	category string
	revision uint64
	records  map[string]*types.URL
}

// New ...
func New() *Cache {
	return &Cache{partitions: make(map[string]*partition)}
}

func (c *Cache) partition(category string) *partition {
	c.mu.RLock()
	p, ok := c.partitions[category]
	c.mu.RUnlock()
	if ok {
		return p
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok = c.partitions[category]; !ok {
		p = &partition{category: category, records: make(map[string]*types.URL)}
		c.partitions[category] = p
	}
	return p
}

// Categories returns the categories which have ever been written.
func (c *Cache) Categories() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	categories := make([]string, 0, len(c.partitions))
	for category := range c.partitions {
		categories = append(categories, category)
	}
	sort.Strings(categories)
	return categories
}

// Put adds a url to its category. The returned snapshot holds the whole category,
// changed is false when the url was already there.
func (c *Cache) Put(u *types.URL) (Snapshot, bool) {
	p := c.partition(u.Category())
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.records[u.Key()]; ok {
		return p.snapshotLocked(nil), false
	}
	p.records[u.Key()] = u
	p.revision++
	return p.snapshotLocked(nil), true
}

// Remove deletes a url from its category.
func (c *Cache) Remove(u *types.URL) (Snapshot, bool) {
	p := c.partition(u.Category())
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.records[u.Key()]; !ok {
		return p.snapshotLocked(nil), false
	}
	delete(p.records, u.Key())
	p.revision++
	return p.snapshotLocked(nil), true
}

// Contains ...
func (c *Cache) Contains(u *types.URL) bool {
	c.mu.RLock()
	p, ok := c.partitions[u.Category()]
	c.mu.RUnlock()
	if !ok {
		return false
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok = p.records[u.Key()]
	return ok
}

// Replace makes urls the complete set of records of category which match scope.
// Records of category outside of scope are kept, urls outside of scope are ignored.
func (c *Cache) Replace(scope *types.URL, category string, urls []*types.URL) (Snapshot, bool) {
	incoming := make(map[string]*types.URL, len(urls))
	for _, u := range urls {
		if u == nil {
			continue
		}
		if u.Category() != category {
			u = u.WithParameter(types.CategoryKey, category)
		}
		if types.IsMatch(scope, u) {
			incoming[u.Key()] = u
		}
	}

	p := c.partition(category)
	p.mu.Lock()
	defer p.mu.Unlock()

	changed := false
	for key, u := range p.records {
		if _, ok := incoming[key]; !ok && types.IsMatch(scope, u) {
			delete(p.records, key)
			changed = true
		}
	}
	for key, u := range incoming {
		if _, ok := p.records[key]; !ok {
			p.records[key] = u
			changed = true
		}
	}
	if changed {
		p.revision++
	}
	return p.snapshotLocked(nil), changed
}

// Snapshot returns the records of category matching query.
func (c *Cache) Snapshot(query *types.URL, category string) Snapshot {
	c.mu.RLock()
	p, ok := c.partitions[category]
	c.mu.RUnlock()
	if !ok {
		return Snapshot{Category: category, URLs: make([]*types.URL, 0)}
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshotLocked(query)
}

// Lookup returns every cached record matching query, an empty result is not an error.
func (c *Cache) Lookup(query *types.URL) []*types.URL {
	categories := query.Categories()
	if types.IsWildcardCategory(query) {
		categories = c.Categories()
	}

	result := make([]*types.URL, 0)
	for _, category := range categories {
		result = append(result, c.Snapshot(query, category).URLs...)
	}
	return result
}

func (p *partition) snapshotLocked(query *types.URL) Snapshot {
	urls := make([]*types.URL, 0, len(p.records))
	for _, u := range p.records {
		if query == nil || types.IsMatch(query, u) {
			urls = append(urls, u)
		}
	}
	return Snapshot{
		Category: p.category,
		Revision: p.revision,
		URLs:     types.SortURLs(urls),
	}
}

// Filter returns the urls matching query, keeping their order.
func Filter(query *types.URL, urls []*types.URL) []*types.URL {
	result := make([]*types.URL, 0, len(urls))
	for _, u := range urls {
		if types.IsMatch(query, u) {
			result = append(result, u)
		}
	}
	return result
}
