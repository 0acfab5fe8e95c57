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
	"sync"

	"github.com/symcn/dubbo-registry/pkg/registry/metrics"
	"github.com/symcn/dubbo-registry/pkg/registry/types"
)

// watchEvents applies the pushes of one connector subscription. A category pushed before the
// initial snapshot is merged keeps the pushed content, the snapshot may be older.
type watchEvents struct {
	registry *Registry
	query    *types.URL

	mu     sync.Mutex
	pushed map[string]bool
	merged bool
}

func (r *Registry) newWatchEvents(query *types.URL) *watchEvents {
	return &watchEvents{
		registry: r,
		query:    query,
		pushed:   make(map[string]bool),
	}
}

func (w *watchEvents) handle(category string, urls []*types.URL) {
	metrics.ConnectorEventCounter.WithLabelValues("change").Inc()

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.merged {
		w.pushed[category] = true
	}
	if snapshot, changed := w.registry.cache.Replace(w.query, category, urls); changed {
		w.registry.publish(snapshot)
	}
}

// merge applies the initial snapshot returned by the connector.
func (w *watchEvents) merge(urls []*types.URL) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.merged = true
	w.registry.merge(w.query, urls, w.pushed)
}
