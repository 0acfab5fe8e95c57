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

// Package failback retries the registry operations which failed with check=false in the background.
package failback

import (
	"context"
	"sync"
	"time"

	"github.com/symcn/dubbo-registry/pkg/registry/metrics"
	"github.com/symcn/dubbo-registry/pkg/registry/types"
	"github.com/symcn/dubbo-registry/pkg/utils"
	"k8s.io/klog"
)

// Options ...
type Options struct {
	// Period is the delay before the first retry and the interval of the retry loop.
	Period time.Duration
	// MaxPeriod caps the exponential delay between the retries of one task.
	MaxPeriod time.Duration
	// Workers bounds the number of concurrent retries.
	Workers int
	// Timeout of a single retry.
	Timeout time.Duration
}

// DefaultOptions ...
func DefaultOptions() Options {
	return Options{
		Period:    5 * time.Second,
		MaxPeriod: 2 * time.Minute,
		Workers:   4,
		Timeout:   10 * time.Second,
	}
}

// Coordinator keeps one pending task per (kind, url). Its lock is never held while a task runs.
type Coordinator struct {
	opt  Options
	pool utils.WorkerPool
	now  func() time.Time

	mu    sync.Mutex
	tasks map[Kind]map[string]*task

	kickCh    chan struct{}
	stopCh    chan struct{}
	doneCh    chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// New ...
func New(opt Options) *Coordinator {
	def := DefaultOptions()
	if opt.Period <= 0 {
		opt.Period = def.Period
	}
	if opt.MaxPeriod < opt.Period {
		opt.MaxPeriod = opt.Period
	}
	if opt.Workers <= 0 {
		opt.Workers = def.Workers
	}
	if opt.Timeout <= 0 {
		opt.Timeout = def.Timeout
	}

	c := &Coordinator{
		opt:    opt,
		pool:   utils.NewWorkerPool(opt.Workers),
		now:    time.Now,
		tasks:  make(map[Kind]map[string]*task),
		kickCh: make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	for kind := range kindNames {
		c.tasks[kind] = make(map[string]*task)
	}
	return c
}

// Start launches the retry loop.
func (c *Coordinator) Start() {
	c.startOnce.Do(func() {
		go c.loop()
	})
}

// Close stops the retry loop and drops every pending task.
func (c *Coordinator) Close() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	c.startOnce.Do(func() {
		close(c.doneCh)
	})
	<-c.doneCh

	c.mu.Lock()
	defer c.mu.Unlock()
	for kind, tasks := range c.tasks {
		for key, t := range tasks {
			t.state = Cancelled
			delete(tasks, key)
			metrics.PendingTaskGauge.WithLabelValues(kind.String()).Dec()
		}
	}
}

func (c *Coordinator) loop() {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.opt.Period)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.Retry()
		case <-c.kickCh:
			c.Retry()
		}
	}
}

// Add queues a failed operation, it is retried after one period.
func (c *Coordinator) Add(kind Kind, u *types.URL, do Func, cause error) {
	c.add(kind, u, do, cause, c.now().Add(c.opt.Period))
}

// AddNow queues an operation which is due immediately.
func (c *Coordinator) AddNow(kind Kind, u *types.URL, do Func) {
	c.add(kind, u, do, nil, c.now())
}

func (c *Coordinator) add(kind Kind, u *types.URL, do Func, cause error, next time.Time) {
	t := &task{
		kind:    kind,
		url:     u,
		do:      do,
		next:    next,
		state:   Queued,
		lastErr: cause,
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.tasks[kind][u.Key()]; ok {
		// the replaced task may still be running, it finds itself detached when it completes
		t.attempt = old.attempt
		old.state = Cancelled
	} else {
		metrics.PendingTaskGauge.WithLabelValues(kind.String()).Inc()
	}
	c.tasks[kind][u.Key()] = t
	klog.V(4).Infof("[failback] queued %s of %s, next retry at %v", kind, u, next)
}

// Cancel drops the pending task of (kind, u) without touching the network. inFlight reports that
// the task was running at that moment, its outcome is ignored but it may have reached the
// backing store already.
func (c *Coordinator) Cancel(kind Kind, u *types.URL) (found, inFlight bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.tasks[kind][u.Key()]
	if !ok {
		return false, false
	}
	inFlight = t.state == Retrying
	t.state = Cancelled
	delete(c.tasks[kind], u.Key())
	metrics.PendingTaskGauge.WithLabelValues(kind.String()).Dec()
	klog.Infof("[failback] cancelled %s of %s, in flight: %v", kind, u, inFlight)
	return true, inFlight
}

// Pending returns the pending tasks of kind.
func (c *Coordinator) Pending(kind Kind) []Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	infos := make([]Info, 0, len(c.tasks[kind]))
	for _, t := range c.tasks[kind] {
		infos = append(infos, t.info())
	}
	return infos
}

// Kick runs a retry pass as soon as possible instead of waiting for the next tick.
func (c *Coordinator) Kick() {
	select {
	case c.kickCh <- struct{}{}:
	default:
	}
}

// Retry runs every due task once and waits for them.
func (c *Coordinator) Retry() {
	now := c.now()
	var due []*task

	c.mu.Lock()
	for _, tasks := range c.tasks {
		for _, t := range tasks {
			if t.state == Queued && !now.Before(t.next) {
				t.state = Retrying
				due = append(due, t)
			}
		}
	}
	c.mu.Unlock()

	if len(due) == 0 {
		return
	}
	klog.V(4).Infof("[failback] retrying %d tasks", len(due))

	var wg sync.WaitGroup
	for _, t := range due {
		t := t
		wg.Add(1)
		c.pool.Schedule(func() {
			defer wg.Done()
			c.execute(t)
		})
	}
	wg.Wait()
}

func (c *Coordinator) execute(t *task) {
	ctx, cancel := context.WithTimeout(context.Background(), c.opt.Timeout)
	defer cancel()
	err := t.do(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	key := t.url.Key()
	if current, ok := c.tasks[t.kind][key]; !ok || current != t {
		klog.Infof("[failback] %s of %s completed after being cancelled, err: %v", t.kind, t.url, err)
		return
	}

	if err == nil {
		t.state = Succeeded
		delete(c.tasks[t.kind], key)
		metrics.PendingTaskGauge.WithLabelValues(t.kind.String()).Dec()
		metrics.RetryCounter.WithLabelValues(t.kind.String(), metrics.ResultSuccess).Inc()
		klog.Infof("[failback] %s of %s succeeded after %d attempts", t.kind, t.url, t.attempt+1)
		return
	}

	t.attempt++
	t.lastErr = err
	t.next = c.now().Add(c.backoff(t.attempt))
	t.state = Queued
	metrics.RetryCounter.WithLabelValues(t.kind.String(), metrics.ResultFailure).Inc()
	klog.Warningf("[failback] %s of %s failed %d times, next retry at %v: %v", t.kind, t.url, t.attempt, t.next, err)
}

// backoff doubles the period for every failed attempt up to MaxPeriod.
func (c *Coordinator) backoff(attempt int) time.Duration {
	d := c.opt.Period
	for i := 0; i < attempt && d < c.opt.MaxPeriod; i++ {
		d *= 2
	}
	if d > c.opt.MaxPeriod {
		d = c.opt.MaxPeriod
	}
	return d
}
