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

// Package notify fans the changes of the local cache out to the subscribed listeners.
package notify

import (
	"sync"

	"github.com/symcn/dubbo-registry/pkg/registry/cache"
	"github.com/symcn/dubbo-registry/pkg/registry/metrics"
	"github.com/symcn/dubbo-registry/pkg/registry/types"
)

// Observer is told about every batch after it has been delivered.
type Observer func(query *types.URL, category string, urls []*types.URL)

// Notifier owns the subscriptions of a registry. They are indexed by query for identity and by
// category for fan-out, each category index has its own lock.
type Notifier struct {
	observer Observer

	mu      sync.RWMutex
	byQuery map[string]*queryGroup

	indexMu sync.RWMutex
	indexes map[string]*index
}

type queryGroup struct {
	query         *types.URL
	subscriptions map[Listener]*Subscription
}

type index struct {
	mu            sync.RWMutex
	subscriptions map[*Subscription]struct{}
}

// NewNotifier ...
func NewNotifier(observer Observer) *Notifier {
	return &Notifier{
		observer: observer,
		byQuery:  make(map[string]*queryGroup),
		indexes:  make(map[string]*index),
	}
}

func (n *Notifier) index(category string) *index {
	n.indexMu.RLock()
	idx, ok := n.indexes[category]
	n.indexMu.RUnlock()
	if ok {
		return idx
	}

	n.indexMu.Lock()
	defer n.indexMu.Unlock()
	if idx, ok = n.indexes[category]; !ok {
		idx = &index{subscriptions: make(map[*Subscription]struct{})}
		n.indexes[category] = idx
	}
	return idx
}

// Add creates the subscription of (query, listener). It is not started, batches offered before
// Start make up its first notification. created is false when the pair is already subscribed.
func (n *Notifier) Add(query *types.URL, listener Listener) (sub *Subscription, created bool) {
	n.mu.Lock()
	group, ok := n.byQuery[query.Key()]
	if !ok {
		group = &queryGroup{query: query, subscriptions: make(map[Listener]*Subscription)}
		n.byQuery[query.Key()] = group
	}
	if sub, ok = group.subscriptions[listener]; ok {
		n.mu.Unlock()
		return sub, false
	}
	sub = newSubscription(query, listener)
	sub.observer = n.observer
	group.subscriptions[listener] = sub
	n.mu.Unlock()

	for _, category := range query.Categories() {
		idx := n.index(category)
		idx.mu.Lock()
		idx.subscriptions[sub] = struct{}{}
		idx.mu.Unlock()
	}
	metrics.SubscriptionGauge.Inc()
	return sub, true
}

// Remove stops and forgets the subscription of (query, listener). last reports whether it was the
// last listener of query.
func (n *Notifier) Remove(query *types.URL, listener Listener) (sub *Subscription, last bool) {
	n.mu.Lock()
	group, ok := n.byQuery[query.Key()]
	if !ok {
		n.mu.Unlock()
		return nil, false
	}
	if sub, ok = group.subscriptions[listener]; !ok {
		n.mu.Unlock()
		return nil, false
	}
	delete(group.subscriptions, listener)
	if len(group.subscriptions) == 0 {
		delete(n.byQuery, query.Key())
		last = true
	}
	n.mu.Unlock()

	for _, category := range query.Categories() {
		idx := n.index(category)
		idx.mu.Lock()
		delete(idx.subscriptions, sub)
		idx.mu.Unlock()
	}
	sub.Stop()
	metrics.SubscriptionGauge.Dec()
	return sub, last
}

// HasQuery reports whether anyone still subscribes query.
func (n *Notifier) HasQuery(query *types.URL) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, ok := n.byQuery[query.Key()]
	return ok
}

// Queries returns the distinct active queries.
func (n *Notifier) Queries() []*types.URL {
	n.mu.RLock()
	defer n.mu.RUnlock()
	queries := make([]*types.URL, 0, len(n.byQuery))
	for _, group := range n.byQuery {
		queries = append(queries, group.query)
	}
	return types.SortURLs(queries)
}

// Subscriptions returns every subscription grouped by the key of its query.
func (n *Notifier) Subscriptions() map[string][]*Subscription {
	n.mu.RLock()
	defer n.mu.RUnlock()
	result := make(map[string][]*Subscription, len(n.byQuery))
	for key, group := range n.byQuery {
		for _, sub := range group.subscriptions {
			result[key] = append(result[key], sub)
		}
	}
	return result
}

// Publish offers the content of a category to every subscription covering it.
func (n *Notifier) Publish(snapshot cache.Snapshot) {
	for _, sub := range n.covering(snapshot.Category) {
		sub.Offer(snapshot.Category, snapshot.Revision, cache.Filter(sub.query, snapshot.URLs))
	}
}

func (n *Notifier) covering(category string) []*Subscription {
	var subs []*Subscription
	for _, c := range []string{category, types.AnyValue} {
		n.indexMu.RLock()
		idx, ok := n.indexes[c]
		n.indexMu.RUnlock()
		if !ok {
			continue
		}
		idx.mu.RLock()
		for sub := range idx.subscriptions {
			subs = append(subs, sub)
		}
		idx.mu.RUnlock()
	}
	return subs
}

// Close stops every subscription.
func (n *Notifier) Close() {
	n.mu.Lock()
	groups := n.byQuery
	n.byQuery = make(map[string]*queryGroup)
	n.mu.Unlock()

	n.indexMu.Lock()
	n.indexes = make(map[string]*index)
	n.indexMu.Unlock()

	for _, group := range groups {
		for _, sub := range group.subscriptions {
			sub.Stop()
			metrics.SubscriptionGauge.Dec()
		}
	}
}
