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

// Package zk stores the registrations as znodes:
//
//	/<root>/<interface>/<category>/<encoded url>
//
// Dynamic urls are ephemeral nodes of the session, the others are persistent.
package zk

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/pkg/errors"
	"github.com/symcn/dubbo-registry/pkg/option"
	"github.com/symcn/dubbo-registry/pkg/registry/connector"
	"github.com/symcn/dubbo-registry/pkg/registry/types"
	"k8s.io/klog"
)

func init() {
	connector.Register("zk", New)
	connector.Register("zookeeper", New)
}

// zkConn is the part of *zk.Conn used by the connector.
type zkConn interface {
	Create(path string, data []byte, flags int32, acl []zk.ACL) (string, error)
	Delete(path string, version int32) error
	Exists(path string) (bool, *zk.Stat, error)
	ExistsW(path string) (bool, *zk.Stat, <-chan zk.Event, error)
	ChildrenW(path string) ([]string, *zk.Stat, <-chan zk.Event, error)
	AddAuth(scheme string, auth []byte) error
	State() zk.State
	Close()
}

type dialer func(servers []string, sessionTimeout time.Duration) (zkConn, <-chan zk.Event, error)

type klogger struct{}

func (klogger) Printf(format string, args ...interface{}) {
	klog.V(4).Infof("[zk] "+format, args...)
}

func dial(servers []string, sessionTimeout time.Duration) (zkConn, <-chan zk.Event, error) {
	conn, events, err := zk.Connect(servers, sessionTimeout, zk.WithLogger(klogger{}))
	if err != nil {
		return nil, nil, err
	}
	return conn, events, nil
}

// Connector ...
type Connector struct {
	opt  option.Registry
	root string
	dial dialer

	mu       sync.Mutex
	conn     zkConn
	acl      []zk.ACL
	listener connector.StateListener
	watchers map[string]*watcher
	// expired is set while the ephemeral nodes of the connector are gone
	expired   bool
	sessionCh chan struct{}
	closed    bool
}

// New ...
func New(opt option.Registry) (connector.Connector, error) {
	return newConnector(opt, dial), nil
}

func newConnector(opt option.Registry, d dialer) *Connector {
	return &Connector{
		opt:       opt,
		root:      normalizeRoot(opt.Root),
		dial:      d,
		acl:       zk.WorldACL(zk.PermAll),
		watchers:  make(map[string]*watcher),
		sessionCh: make(chan struct{}),
	}
}

// Connect dials the ensemble and waits for the first session.
func (c *Connector) Connect(ctx context.Context, listener connector.StateListener) error {
	timeout := c.opt.SessionTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	conn, events, err := c.dial(c.opt.Address, timeout)
	if err != nil {
		return types.ConnectorError(err, "connect to zookeeper %v", c.opt.Address)
	}
	if c.opt.Username != "" {
		if err := conn.AddAuth("digest", []byte(c.opt.Username+":"+c.opt.Password)); err != nil {
			conn.Close()
			return types.ConnectorError(err, "authenticate on zookeeper as %s", c.opt.Username)
		}
	}

	c.mu.Lock()
	c.conn = conn
	c.listener = listener
	if c.opt.Username != "" {
		c.acl = zk.DigestACL(zk.PermAll, c.opt.Username, c.opt.Password)
	}
	c.mu.Unlock()

	go c.eventLoop(events)

	select {
	case <-c.sessionCh:
		klog.Infof("[zk] connected to %v", c.opt.Address)
		return nil
	case <-ctx.Done():
		c.mu.Lock()
		// the session which comes later counts as a reconnect
		c.expired = true
		c.mu.Unlock()
		return types.ConnectorError(ctx.Err(), "waiting for a zookeeper session on %v", c.opt.Address)
	}
}

func (c *Connector) eventLoop(events <-chan zk.Event) {
	first := true
	for event := range events {
		if event.Type != zk.EventSession {
			continue
		}
		klog.V(4).Infof("[zk] session event: %v", event.State)

		switch event.State {
		case zk.StateHasSession:
			c.mu.Lock()
			reconnected := c.expired
			c.expired = false
			listener := c.listener
			c.mu.Unlock()

			if first {
				first = false
				close(c.sessionCh)
			}
			if reconnected && listener != nil {
				klog.Infof("[zk] a new session is established")
				listener.OnReconnect()
			}
		case zk.StateExpired:
			c.mu.Lock()
			c.expired = true
			listener := c.listener
			watchers := c.watchers
			c.watchers = make(map[string]*watcher)
			c.mu.Unlock()

			klog.Warningf("[zk] session expired, %d watchers are dropped", len(watchers))
			for _, w := range watchers {
				w.stop()
			}
			if listener != nil {
				listener.OnDisconnect()
			}
		}
	}
}

func (c *Connector) session() (zkConn, []zk.ACL, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.closed:
		return nil, nil, types.ErrClosed
	case c.conn == nil:
		return nil, nil, types.ConnectorError(errors.New("not connected"), "zookeeper")
	}
	return c.conn, c.acl, nil
}

// ensure creates p and its parents as persistent nodes.
func ensure(conn zkConn, p string, acl []zk.ACL) error {
	for _, dir := range append(parents(p), p) {
		exists, _, err := conn.Exists(dir)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if _, err = conn.Create(dir, nil, 0, acl); err != nil && err != zk.ErrNodeExists {
			return err
		}
	}
	return nil
}

// Register ...
func (c *Connector) Register(ctx context.Context, u *types.URL) error {
	conn, acl, err := c.session()
	if err != nil {
		return err
	}

	p := urlPath(c.root, u)
	if err := ensure(conn, categoryPath(c.root, u.ServiceInterface(), u.Category()), acl); err != nil {
		return types.ConnectorError(err, "create the parents of %s", p)
	}

	var flags int32
	if u.IsDynamic() {
		flags = zk.FlagEphemeral
	}
	_, err = conn.Create(p, nil, flags, acl)
	if err == zk.ErrNodeExists && u.IsDynamic() {
		// it may belong to an expired session, take it over
		if err = conn.Delete(p, -1); err != nil && err != zk.ErrNoNode {
			return types.ConnectorError(err, "replace %s", p)
		}
		_, err = conn.Create(p, nil, flags, acl)
	}
	if err != nil && err != zk.ErrNodeExists {
		return types.ConnectorError(err, "create %s", p)
	}
	klog.V(4).Infof("[zk] created %s", p)
	return nil
}

// Unregister ...
func (c *Connector) Unregister(ctx context.Context, u *types.URL) error {
	conn, _, err := c.session()
	if err != nil {
		return err
	}
	p := urlPath(c.root, u)
	if err := conn.Delete(p, -1); err != nil && err != zk.ErrNoNode {
		return types.ConnectorError(err, "delete %s", p)
	}
	return nil
}

// Subscribe watches the category nodes of query. A query of any interface watches the root and
// every service below it.
func (c *Connector) Subscribe(ctx context.Context, query *types.URL, handler connector.EventHandler) ([]*types.URL, error) {
	conn, acl, err := c.session()
	if err != nil {
		return nil, err
	}

	categories := query.Categories()
	if types.IsWildcardCategory(query) {
		categories = types.DefaultCategories
	}
	w := &watcher{
		conn:       conn,
		acl:        acl,
		root:       c.root,
		query:      query,
		categories: categories,
		handler:    handler,
		caches:     make(map[string]*pathCache),
		contents:   make(map[string]map[string][]*types.URL),
	}

	var initial []*types.URL
	if query.ServiceInterface() == types.AnyValue {
		initial, err = w.watchRoot()
	} else {
		initial, err = w.watchService(query.ServiceInterface(), false)
	}
	if err != nil {
		w.stop()
		return nil, types.ConnectorError(err, "subscribe %s", query)
	}

	c.mu.Lock()
	old := c.watchers[query.Key()]
	c.watchers[query.Key()] = w
	c.mu.Unlock()
	if old != nil {
		old.stop()
	}
	return initial, nil
}

// Unsubscribe ...
func (c *Connector) Unsubscribe(ctx context.Context, query *types.URL) error {
	c.mu.Lock()
	w, ok := c.watchers[query.Key()]
	delete(c.watchers, query.Key())
	c.mu.Unlock()
	if ok {
		w.stop()
	}
	return nil
}

// Available ...
func (c *Connector) Available() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.conn != nil && !c.expired && c.conn.State() == zk.StateHasSession
}

// Close ends the session, the ephemeral nodes are removed by zookeeper.
func (c *Connector) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	watchers := c.watchers
	c.watchers = make(map[string]*watcher)
	c.mu.Unlock()

	for _, w := range watchers {
		w.stop()
	}
	if conn != nil {
		conn.Close()
	}
	return nil
}

// watcher maintains the path caches of one query.
type watcher struct {
	conn       zkConn
	acl        []zk.ACL
	root       string
	query      *types.URL
	categories []string
	handler    connector.EventHandler

	mu       sync.Mutex
	stopped  bool
	rootPath *pathCache
	caches   map[string]*pathCache
	// category -> service -> urls
	contents map[string]map[string][]*types.URL
}

func (w *watcher) watchRoot() ([]*types.URL, error) {
	if err := ensure(w.conn, w.root, w.acl); err != nil {
		return nil, err
	}
	cache, services, err := newPathCache(w.conn, w.root, func(_ string, children []string) {
		for _, child := range children {
			if _, err := w.watchService(child, true); err != nil {
				klog.Errorf("[zk] watching the new service %s failed: %v", child, err)
			}
		}
	})
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	w.rootPath = cache
	w.mu.Unlock()

	var initial []*types.URL
	for _, child := range services {
		urls, err := w.watchService(child, false)
		if err != nil {
			return nil, err
		}
		initial = append(initial, urls...)
	}
	return initial, nil
}

// watchService starts the category caches of an escaped service name, push reports what was
// found to the handler.
func (w *watcher) watchService(escaped string, push bool) ([]*types.URL, error) {
	service, err := unescape(escaped)
	if err != nil || ignore(service) {
		return nil, nil
	}

	var initial []*types.URL
	for _, category := range w.categories {
		p := categoryPath(w.root, service, category)

		w.mu.Lock()
		_, watched := w.caches[p]
		w.mu.Unlock()
		if watched {
			continue
		}

		if err := ensure(w.conn, p, w.acl); err != nil {
			return nil, err
		}
		category, service := category, service
		cache, children, err := newPathCache(w.conn, p, func(_ string, children []string) {
			w.update(category, service, children, true)
		})
		if err != nil {
			return nil, err
		}

		w.mu.Lock()
		if w.stopped {
			w.mu.Unlock()
			cache.stop()
			return nil, nil
		}
		w.caches[p] = cache
		w.mu.Unlock()

		initial = append(initial, w.update(category, service, children, push)...)
	}
	return initial, nil
}

// update records the children of a category node and returns the urls matching the query.
func (w *watcher) update(category, service string, children []string, push bool) []*types.URL {
	urls, malformed := decodeChildren(category, children)
	if len(malformed) > 0 {
		klog.Warningf("[zk] skipping malformed children of %s/%s: %v", service, category, malformed)
	}
	matched := make([]*types.URL, 0, len(urls))
	for _, u := range urls {
		if types.IsMatch(w.query, u) {
			matched = append(matched, u)
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return nil
	}
	services, ok := w.contents[category]
	if !ok {
		services = make(map[string][]*types.URL)
		w.contents[category] = services
	}
	services[service] = matched

	if push {
		// the handler always gets the whole category, the lock keeps the pushes in order
		all := make([]*types.URL, 0)
		for _, s := range sortedKeys(services) {
			all = append(all, services[s]...)
		}
		w.handler(category, all)
	}
	return matched
}

func (w *watcher) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	if w.rootPath != nil {
		w.rootPath.stop()
	}
	for _, cache := range w.caches {
		cache.stop()
	}
}

func sortedKeys(m map[string][]*types.URL) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
