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

package notify

import (
	"context"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/symcn/dubbo-registry/pkg/registry/metrics"
	"github.com/symcn/dubbo-registry/pkg/registry/types"
	"k8s.io/klog"
)

// Subscription delivers batches to one listener, one at a time and in revision order.
// Every subscription has its own delivery goroutine so that a slow listener only delays itself.
type Subscription struct {
	query    *types.URL
	listener Listener
	observer func(query *types.URL, category string, urls []*types.URL)

	mu        sync.Mutex
	accepted  map[string]uint64 // the freshest revision offered per category
	delivered map[string]string // digest of the last delivered batch per category
	pending   map[string][]*types.URL
	order     []string

	signal    chan struct{}
	stopCh    chan struct{}
	stopOnce  sync.Once
	startOnce sync.Once
	first     chan struct{}
	firstOnce sync.Once
	done      chan struct{}

	// only touched by the delivery goroutine
	deliveredAny bool
}

func newSubscription(query *types.URL, listener Listener) *Subscription {
	return &Subscription{
		query:     query,
		listener:  listener,
		accepted:  make(map[string]uint64),
		delivered: make(map[string]string),
		pending:   make(map[string][]*types.URL),
		signal:    make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		first:     make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Query ...
func (s *Subscription) Query() *types.URL {
	return s.query
}

// Offer queues the batch of category at revision. It never blocks, a batch older than one which
// has already been offered for the same category is dropped.
func (s *Subscription) Offer(category string, revision uint64, urls []*types.URL) bool {
	s.mu.Lock()
	if last, ok := s.accepted[category]; ok && revision <= last {
		s.mu.Unlock()
		return false
	}
	s.accepted[category] = revision
	if _, ok := s.pending[category]; !ok {
		s.order = append(s.order, category)
	}
	s.pending[category] = urls
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
	return true
}

// Start launches the delivery goroutine, batches offered before are delivered as the first round.
func (s *Subscription) Start() {
	s.startOnce.Do(func() {
		go s.run()
	})
}

// Stop never waits for the delivery goroutine, so it is safe to be called from Notify.
func (s *Subscription) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
}

// Stopped ...
func (s *Subscription) Stopped() <-chan struct{} {
	return s.stopCh
}

// Notified is closed once the listener has returned from its first notification.
func (s *Subscription) Notified() <-chan struct{} {
	return s.first
}

// WaitNotified blocks until the first notification has been handled by the listener.
func (s *Subscription) WaitNotified(ctx context.Context) error {
	select {
	case <-s.first:
		return nil
	case <-s.done:
		select {
		case <-s.first:
			return nil
		default:
			return types.ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

type batch struct {
	category string
	urls     []*types.URL
}

func (s *Subscription) take() []batch {
	s.mu.Lock()
	defer s.mu.Unlock()

	batches := make([]batch, 0, len(s.order))
	for _, category := range s.order {
		batches = append(batches, batch{category: category, urls: s.pending[category]})
	}
	s.order = nil
	s.pending = make(map[string][]*types.URL)
	return batches
}

func (s *Subscription) run() {
	defer func() {
		s.markNotified()
		close(s.done)
	}()

	for {
		batches := s.take()
		for _, b := range batches {
			select {
			case <-s.stopCh:
				return
			default:
			}
			s.deliver(b)
			s.deliveredAny = true
		}
		s.markNotified()

		select {
		case <-s.stopCh:
			return
		case <-s.signal:
		}
	}
}

// markNotified closes the first notification signal once a round has been delivered. A round cut
// short by Stop still counts when at least one batch reached the listener.
func (s *Subscription) markNotified() {
	if !s.deliveredAny {
		return
	}
	s.firstOnce.Do(func() {
		close(s.first)
	})
}

func (s *Subscription) deliver(b batch) {
	digest := digestOf(b.urls)
	s.mu.Lock()
	last, seen := s.delivered[b.category]
	s.mu.Unlock()
	if seen && last == digest {
		klog.V(4).Infof("Skipping an unchanged batch of [%s] for %s", b.category, s.query.ServiceKey())
		return
	}

	start := time.Now()
	func() {
		defer func() {
			if r := recover(); r != nil {
				metrics.NotifyPanicCounter.Inc()
				klog.Errorf("Listener of %s panicked on category [%s]: %v\n%s", s.query, b.category, r, string(debug.Stack()))
			}
		}()
		s.listener.Notify(b.category, b.urls)
	}()
	metrics.NotifyCounter.WithLabelValues(b.category).Inc()
	metrics.NotifyLatencyHistogram.Observe(time.Since(start).Seconds())

	s.mu.Lock()
	s.delivered[b.category] = digest
	s.mu.Unlock()

	if s.observer != nil {
		s.observer(s.query, b.category, b.urls)
	}
}

func digestOf(urls []*types.URL) string {
	keys := make([]string, 0, len(urls))
	for _, u := range urls {
		keys = append(keys, u.Key())
	}
	return strings.Join(keys, "\n")
}
