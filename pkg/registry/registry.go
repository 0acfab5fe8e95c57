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

// Package registry lets providers advertise their urls and consumers track them as they change.
//
// A Registry talks to one backing store through a connector.Connector. Failures of operations
// whose url says check=false are retried in the background, every other failure is returned.
package registry

import (
	"context"
	"reflect"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/symcn/dubbo-registry/pkg/option"
	"github.com/symcn/dubbo-registry/pkg/registry/cache"
	"github.com/symcn/dubbo-registry/pkg/registry/connector"
	"github.com/symcn/dubbo-registry/pkg/registry/failback"
	"github.com/symcn/dubbo-registry/pkg/registry/filecache"
	"github.com/symcn/dubbo-registry/pkg/registry/metrics"
	"github.com/symcn/dubbo-registry/pkg/registry/notify"
	"github.com/symcn/dubbo-registry/pkg/registry/types"
	"k8s.io/klog"
)

// Registry ...
type Registry struct {
	opt       option.Registry
	url       *types.URL
	connector connector.Connector
	cache     *cache.Cache
	notifier  *notify.Notifier
	failback  *failback.Coordinator
	files     *filecache.FileCache

	mu         sync.RWMutex
	registered map[string]*types.URL
	// queries which have a subscription on the connector, or a pending subscribe task
	watching map[string]*types.URL
	closed   bool

	// held while a query is watched or unwatched on the connector
	watches queryLocks

	closeOnce sync.Once
}

var _ connector.StateListener = &Registry{}

// New creates the connector of opt.Type and opens a registry on it.
func New(ctx context.Context, opt option.Registry) (*Registry, error) {
	conn, err := connector.New(opt)
	if err != nil {
		return nil, err
	}
	return NewWithConnector(ctx, opt, conn)
}

// NewWithConnector opens a registry on conn. When the connection fails the registry is still
// returned unless opt.Check is set, the connector reports the session once it is established.
func NewWithConnector(ctx context.Context, opt option.Registry, conn connector.Connector) (*Registry, error) {
	r := &Registry{
		opt:        opt,
		url:        registryURL(opt),
		connector:  conn,
		cache:      cache.New(),
		registered: make(map[string]*types.URL),
		watching:   make(map[string]*types.URL),
		failback: failback.New(failback.Options{
			Period:    opt.RetryPeriod,
			MaxPeriod: opt.MaxRetryPeriod,
			Workers:   opt.RetryWorkers,
			Timeout:   opt.Timeout,
		}),
	}

	if opt.File != "" {
		files, err := filecache.New(opt.File, opt.FileSaveDelay)
		if err != nil {
			conn.Close()
			return nil, err
		}
		r.files = files
	}
	r.notifier = notify.NewNotifier(r.observe)

	cctx, cancel := r.withTimeout(ctx)
	defer cancel()
	if err := conn.Connect(cctx, r); err != nil {
		if opt.Check {
			conn.Close()
			if r.files != nil {
				r.files.Close()
			}
			return nil, errors.Wrapf(err, "connect to %s", r.url)
		}
		klog.Warningf("Connecting to %s failed, waiting for the connector to recover: %v", r.url, err)
	}

	r.failback.Start()
	klog.Infof("Registry %s is opened", r.url)
	return r, nil
}

func registryURL(opt option.Registry) *types.URL {
	params := map[string]string{}
	if opt.Group != "" {
		params[types.GroupKey] = opt.Group
	}
	if opt.Namespace != "" {
		params["namespace"] = opt.Namespace
	}
	if !opt.Check {
		params[types.CheckKey] = "false"
	}
	return types.NewURL(strings.ToLower(opt.Type), strings.Join(opt.Address, ","), opt.Root, params)
}

// URL describes the backing store of the registry.
func (r *Registry) URL() *types.URL {
	return r.url
}

// Options ...
func (r *Registry) Options() option.Registry {
	return r.opt
}

// Available reports whether the backing store is reachable.
func (r *Registry) Available() bool {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	return !closed && r.connector.Available()
}

func (r *Registry) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || r.opt.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.opt.Timeout)
}

func (r *Registry) checkOpen() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return types.ErrClosed
	}
	return nil
}

// strict operations return the failures of the connector instead of retrying them.
func strict(u *types.URL) bool {
	return u.IsCheck()
}

func record(operation string, err error, deferred bool) {
	result := metrics.ResultSuccess
	switch {
	case deferred:
		result = metrics.ResultDeferred
	case err != nil:
		result = metrics.ResultFailure
	}
	metrics.OperationCounter.WithLabelValues(operation, result).Inc()
}

// put and drop keep the local cache in line with what this process wrote.
func (r *Registry) put(u *types.URL) {
	if snapshot, changed := r.cache.Put(u); changed {
		r.publish(snapshot)
	}
}

func (r *Registry) drop(u *types.URL) {
	if snapshot, changed := r.cache.Remove(u); changed {
		r.publish(snapshot)
	}
}

func (r *Registry) publish(snapshot cache.Snapshot) {
	metrics.CachedURLGauge.WithLabelValues(snapshot.Category).Set(float64(len(snapshot.URLs)))
	r.notifier.Publish(snapshot)
}

func (r *Registry) observe(query *types.URL, category string, urls []*types.URL) {
	if r.files != nil {
		r.files.Update(query, category, urls)
	}
}

func (r *Registry) isRegistered(u *types.URL) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.registered[u.Key()]
	return ok
}

func (r *Registry) isWatching(query *types.URL) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.watching[query.Key()]
	return ok
}

// Register advertises u. The url is visible to Lookup of this process right away.
func (r *Registry) Register(ctx context.Context, u *types.URL) error {
	if u.IsEmpty() {
		return errors.Wrap(types.ErrInvalidArgument, "register an empty url")
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return types.ErrClosed
	}
	prev, existed := r.registered[u.Key()]
	r.registered[u.Key()] = u
	r.mu.Unlock()

	r.failback.Cancel(failback.Unregister, u)

	cctx, cancel := r.withTimeout(ctx)
	defer cancel()
	if err := r.connector.Register(cctx, u); err != nil {
		if strict(u) {
			r.mu.Lock()
			if existed {
				r.registered[u.Key()] = prev
			} else {
				delete(r.registered, u.Key())
			}
			r.mu.Unlock()
			record("register", err, false)
			return errors.Wrapf(err, "register %s", u)
		}
		klog.Warningf("Register %s failed, it will be retried in background: %v", u, err)
		r.failback.Add(failback.Register, u, r.doRegister(u), err)
		record("register", err, true)
	} else {
		record("register", nil, false)
	}

	r.put(u)
	klog.V(4).Infof("Registered %s", u)
	return nil
}

func (r *Registry) doRegister(u *types.URL) failback.Func {
	return func(ctx context.Context) error {
		if !r.isRegistered(u) {
			return nil
		}
		if err := r.connector.Register(ctx, u); err != nil {
			return err
		}
		r.put(u)
		return nil
	}
}

// Unregister withdraws u, the url must be structurally equal to the registered one.
// A persistent url which is unknown fails with types.ErrNotFound, an unknown dynamic one is ignored.
func (r *Registry) Unregister(ctx context.Context, u *types.URL) error {
	if u.IsEmpty() {
		return errors.Wrap(types.ErrInvalidArgument, "unregister an empty url")
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return types.ErrClosed
	}
	_, registered := r.registered[u.Key()]
	delete(r.registered, u.Key())
	r.mu.Unlock()

	pending, inFlight := r.failback.Cancel(failback.Register, u)
	cached := r.cache.Contains(u)
	if !registered && !pending && !cached {
		if !u.IsDynamic() {
			return errors.Wrapf(types.ErrNotFound, "unregister %s", u)
		}
		klog.V(4).Infof("Unregistering %s which is unknown, ignored", u)
		return nil
	}

	r.drop(u)
	if pending && !inFlight {
		// it never reached the backing store
		record("unregister", nil, false)
		return nil
	}

	cctx, cancel := r.withTimeout(ctx)
	defer cancel()
	if err := r.connector.Unregister(cctx, u); err != nil {
		if strict(u) {
			if registered {
				r.mu.Lock()
				r.registered[u.Key()] = u
				r.mu.Unlock()
				r.put(u)
			}
			record("unregister", err, false)
			return errors.Wrapf(err, "unregister %s", u)
		}
		klog.Warningf("Unregister %s failed, it will be retried in background: %v", u, err)
		r.failback.Add(failback.Unregister, u, r.doUnregister(u), err)
		record("unregister", err, true)
		return nil
	}
	record("unregister", nil, false)
	klog.V(4).Infof("Unregistered %s", u)
	return nil
}

func (r *Registry) doUnregister(u *types.URL) failback.Func {
	return func(ctx context.Context) error {
		if r.isRegistered(u) {
			return nil
		}
		return r.connector.Unregister(ctx, u)
	}
}

// Subscribe adds listener to query. It returns once the listener has handled its first
// notification, or fails with types.ErrNotifyTimeout when ctx ends before that. The subscription
// is kept in that case.
func (r *Registry) Subscribe(ctx context.Context, query *types.URL, listener notify.Listener) error {
	if query.IsEmpty() {
		return errors.Wrap(types.ErrInvalidArgument, "subscribe an empty url")
	}
	if err := checkListener(query, listener); err != nil {
		return err
	}

	cctx, cancel := r.withTimeout(ctx)
	defer cancel()

	unlock := r.watches.lock(query.Key())
	sub, created, err := r.subscribe(cctx, query, listener)
	unlock()
	if err != nil {
		return err
	}
	if !created {
		klog.V(4).Infof("The listener has subscribed %s already", query)
	}
	return r.waitNotified(cctx, sub)
}

// checkListener rejects the listeners which can not identify a subscription.
func checkListener(query *types.URL, listener notify.Listener) error {
	if listener == nil {
		return errors.Wrapf(types.ErrInvalidArgument, "%s without a listener", query)
	}
	if !reflect.TypeOf(listener).Comparable() {
		return errors.Wrapf(types.ErrInvalidArgument, "listener %T of %s is not comparable", listener, query)
	}
	return nil
}

// subscribe runs under the lock of query. The subscription is started but not waited for.
func (r *Registry) subscribe(ctx context.Context, query *types.URL, listener notify.Listener) (*notify.Subscription, bool, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, false, types.ErrClosed
	}
	sub, created := r.notifier.Add(query, listener)
	_, watched := r.watching[query.Key()]
	r.watching[query.Key()] = query
	r.mu.Unlock()

	if !created {
		return sub, false, nil
	}

	if !watched {
		if err := r.watch(ctx, query); err != nil {
			// no other listener can join query while it is locked
			r.mu.Lock()
			r.notifier.Remove(query, listener)
			delete(r.watching, query.Key())
			r.mu.Unlock()
			return nil, false, err
		}
	}

	for _, category := range r.categoriesOf(query) {
		snapshot := r.cache.Snapshot(query, category)
		sub.Offer(category, snapshot.Revision, snapshot.URLs)
	}
	sub.Start()
	return sub, true, nil
}

// watch subscribes query on the connector and merges its snapshot into the cache.
func (r *Registry) watch(ctx context.Context, query *types.URL) error {
	r.failback.Cancel(failback.Unsubscribe, query)

	events := r.newWatchEvents(query)
	urls, err := r.connector.Subscribe(ctx, query, events.handle)
	if err != nil {
		if strict(query) {
			record("subscribe", err, false)
			return errors.Wrapf(err, "subscribe %s", query)
		}
		klog.Warningf("Subscribe %s failed, it will be retried in background: %v", query, err)
		r.failback.Add(failback.Subscribe, query, r.doSubscribe(query), err)
		record("subscribe", err, true)
		r.restore(query)
		return nil
	}
	record("subscribe", nil, false)
	events.merge(urls)
	return nil
}

func (r *Registry) doSubscribe(query *types.URL) failback.Func {
	return func(ctx context.Context) error {
		unlock := r.watches.lock(query.Key())
		defer unlock()
		if !r.notifier.HasQuery(query) {
			return nil
		}
		events := r.newWatchEvents(query)
		urls, err := r.connector.Subscribe(ctx, query, events.handle)
		if err != nil {
			return err
		}
		events.merge(urls)
		return nil
	}
}

// merge replaces the cached records of query with the snapshot of the connector, the categories
// in skip have been pushed since and are left alone.
func (r *Registry) merge(query *types.URL, urls []*types.URL, skip map[string]bool) {
	grouped := make(map[string][]*types.URL)
	for _, u := range urls {
		if u != nil {
			grouped[u.Category()] = append(grouped[u.Category()], u)
		}
	}

	categories := r.categoriesOf(query)
	for category := range grouped {
		if !types.MatchCategory(query, category) {
			continue
		}
		found := false
		for _, c := range categories {
			if c == category {
				found = true
				break
			}
		}
		if !found {
			categories = append(categories, category)
		}
	}

	for _, category := range categories {
		if skip[category] {
			continue
		}
		if snapshot, changed := r.cache.Replace(query, category, grouped[category]); changed {
			r.publish(snapshot)
		}
	}
}

// restore seeds the cache from the snapshot file when nothing is known about query.
func (r *Registry) restore(query *types.URL) {
	if r.files == nil || len(r.cache.Lookup(query)) > 0 {
		return
	}
	for category, urls := range r.files.Load(query) {
		if snapshot, changed := r.cache.Replace(query, category, urls); changed {
			klog.Infof("Restored %d urls of [%s] for %s from %s", len(snapshot.URLs), category, query, r.files.Path())
			r.publish(snapshot)
		}
	}
}

// categoriesOf returns the categories query covers, a wildcard covers the known ones.
func (r *Registry) categoriesOf(query *types.URL) []string {
	if !types.IsWildcardCategory(query) {
		return query.Categories()
	}
	categories := r.cache.Categories()
	if len(categories) == 0 {
		categories = []string{types.DefaultCategory}
	}
	return categories
}

func (r *Registry) waitNotified(ctx context.Context, sub *notify.Subscription) error {
	err := sub.WaitNotified(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, types.ErrClosed):
		// unsubscribed before the first notification
		return nil
	default:
		klog.Warningf("Timed out waiting for the first notification of %s", sub.Query())
		return errors.Wrapf(types.ErrNotifyTimeout, "subscribe %s: %v", sub.Query(), err)
	}
}

// Unsubscribe removes listener from query, other listeners of query and other queries of
// listener are not affected. An unknown pair is ignored.
func (r *Registry) Unsubscribe(ctx context.Context, query *types.URL, listener notify.Listener) error {
	if query.IsEmpty() {
		return errors.Wrap(types.ErrInvalidArgument, "unsubscribe an empty url")
	}
	if err := checkListener(query, listener); err != nil {
		return err
	}
	if err := r.checkOpen(); err != nil {
		return err
	}

	unlock := r.watches.lock(query.Key())
	defer unlock()

	r.mu.Lock()
	sub, last := r.notifier.Remove(query, listener)
	if sub == nil || !last {
		r.mu.Unlock()
		return nil
	}
	_, watched := r.watching[query.Key()]
	delete(r.watching, query.Key())
	r.mu.Unlock()

	if r.files != nil {
		r.files.Delete(query)
	}
	if pending, inFlight := r.failback.Cancel(failback.Subscribe, query); (pending && !inFlight) || !watched {
		record("unsubscribe", nil, false)
		return nil
	}

	cctx, cancel := r.withTimeout(ctx)
	defer cancel()
	if err := r.connector.Unsubscribe(cctx, query); err != nil {
		if strict(query) {
			record("unsubscribe", err, false)
			return errors.Wrapf(err, "unsubscribe %s", query)
		}
		klog.Warningf("Unsubscribe %s failed, it will be retried in background: %v", query, err)
		r.failback.Add(failback.Unsubscribe, query, r.doUnsubscribe(query), err)
		record("unsubscribe", err, true)
		return nil
	}
	record("unsubscribe", nil, false)
	return nil
}

func (r *Registry) doUnsubscribe(query *types.URL) failback.Func {
	return func(ctx context.Context) error {
		unlock := r.watches.lock(query.Key())
		defer unlock()
		if r.isWatching(query) {
			return nil
		}
		return r.connector.Unsubscribe(ctx, query)
	}
}

// Lookup returns the cached urls matching query, it never reaches the network.
func (r *Registry) Lookup(query *types.URL) []*types.URL {
	if query.IsEmpty() {
		return make([]*types.URL, 0)
	}
	return r.cache.Lookup(query)
}

// Registered returns the urls registered through this registry.
func (r *Registry) Registered() []*types.URL {
	r.mu.RLock()
	defer r.mu.RUnlock()
	urls := make([]*types.URL, 0, len(r.registered))
	for _, u := range r.registered {
		urls = append(urls, u)
	}
	return types.SortURLs(urls)
}

// Subscribed returns the active queries and their number of listeners.
func (r *Registry) Subscribed() map[string]int {
	result := make(map[string]int)
	for key, subs := range r.notifier.Subscriptions() {
		result[key] = len(subs)
	}
	return result
}

// Pending returns the operations waiting to be retried.
func (r *Registry) Pending() []failback.Info {
	var infos []failback.Info
	for _, kind := range []failback.Kind{failback.Register, failback.Unregister, failback.Subscribe, failback.Unsubscribe} {
		infos = append(infos, r.failback.Pending(kind)...)
	}
	return infos
}

// OnReconnect restores the ephemeral registrations and the subscriptions on the new session.
func (r *Registry) OnReconnect() {
	metrics.ConnectorEventCounter.WithLabelValues("reconnect").Inc()

	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return
	}
	var dynamic []*types.URL
	for _, u := range r.registered {
		if u.IsDynamic() {
			dynamic = append(dynamic, u)
		}
	}
	queries := make([]*types.URL, 0, len(r.watching))
	for _, q := range r.watching {
		queries = append(queries, q)
	}
	r.mu.RUnlock()

	klog.Infof("Session of %s is re-established, recovering %d registrations and %d subscriptions",
		r.url, len(dynamic), len(queries))
	for _, u := range dynamic {
		r.failback.AddNow(failback.Register, u, r.doRegister(u))
	}
	for _, q := range queries {
		r.failback.AddNow(failback.Subscribe, q, r.doSubscribe(q))
	}
	r.failback.Kick()
}

// OnDisconnect drops the ephemeral registrations of this process from the cache, the backing
// store removes them as well when the session ends.
func (r *Registry) OnDisconnect() {
	metrics.ConnectorEventCounter.WithLabelValues("disconnect").Inc()

	r.mu.RLock()
	var dynamic []*types.URL
	for _, u := range r.registered {
		if u.IsDynamic() {
			dynamic = append(dynamic, u)
		}
	}
	r.mu.RUnlock()

	klog.Warningf("Session of %s is lost, purging %d ephemeral registrations", r.url, len(dynamic))
	for _, u := range dynamic {
		r.drop(u)
	}
}

// Close withdraws the dynamic registrations and the subscriptions of the registry and releases
// the connector. It is safe to call it more than once.
func (r *Registry) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		var dynamic []*types.URL
		for _, u := range r.registered {
			if u.IsDynamic() {
				dynamic = append(dynamic, u)
			}
		}
		queries := make([]*types.URL, 0, len(r.watching))
		for _, q := range r.watching {
			queries = append(queries, q)
		}
		r.registered = make(map[string]*types.URL)
		r.watching = make(map[string]*types.URL)
		r.mu.Unlock()

		r.failback.Close()

		ctx, cancel := r.withTimeout(context.Background())
		defer cancel()
		if r.connector.Available() {
			for _, u := range dynamic {
				if e := r.connector.Unregister(ctx, u); e != nil {
					klog.Warningf("Unregister %s on close failed: %v", u, e)
				}
			}
			for _, q := range queries {
				if e := r.connector.Unsubscribe(ctx, q); e != nil {
					klog.Warningf("Unsubscribe %s on close failed: %v", q, e)
				}
			}
		}

		r.notifier.Close()
		if r.files != nil {
			r.files.Close()
		}
		err = r.connector.Close()
		klog.Infof("Registry %s is closed", r.url)
	})
	return err
}
