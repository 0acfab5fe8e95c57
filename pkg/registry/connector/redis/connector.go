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

// Package redis keeps the urls of a category in one hash whose fields are the urls and whose
// values are their expiry. The changes are published on the channel named after the hash.
// Dynamic urls are refreshed by a heartbeat and removed by a sweeper once they expired.
package redis

import (
	"context"
	"path"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/symcn/dubbo-registry/pkg/option"
	"github.com/symcn/dubbo-registry/pkg/registry/connector"
	"github.com/symcn/dubbo-registry/pkg/registry/types"
	"github.com/symcn/dubbo-registry/pkg/utils"
	"k8s.io/klog"
)

func init() {
	connector.Register("redis", New)
}

func newClient(opt option.Registry, session string) redis.UniversalClient {
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        opt.Address,
		ClientName:   "dubbo-registry-" + session,
		Username:     opt.Username,
		Password:     opt.Password,
		DialTimeout:  opt.Timeout,
		ReadTimeout:  opt.Timeout,
		WriteTimeout: opt.Timeout,
	})
}

// Connector ...
type Connector struct {
	opt     option.Registry
	root    string
	ttl     time.Duration
	session string
	now     func() time.Time

	mu         sync.Mutex
	client     redis.UniversalClient
	listener   connector.StateListener
	registered map[string]*types.URL
	watches    map[string]*watch
	available  bool
	closed     bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// New ...
func New(opt option.Registry) (connector.Connector, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return nil, errors.Wrap(err, "generate redis session id")
	}
	ttl := opt.SessionTimeout
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &Connector{
		opt:        opt,
		root:       normalizeRoot(opt.Root),
		ttl:        ttl,
		session:    id.String(),
		now:        time.Now,
		registered: make(map[string]*types.URL),
		watches:    make(map[string]*watch),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}, nil
}

// Connect pings the server and starts the heartbeat.
func (c *Connector) Connect(ctx context.Context, listener connector.StateListener) error {
	client := newClient(c.opt, c.session)
	err := client.Ping(ctx).Err()

	c.mu.Lock()
	c.client = client
	c.listener = listener
	c.available = err == nil
	c.mu.Unlock()

	utils.GoWithRecover(c.heartbeat, func(r interface{}) {
		klog.Errorf("[redis] heartbeat of session %s stopped: %v", c.session, r)
	})
	if err != nil {
		return types.ConnectorError(err, "ping redis %v", c.opt.Address)
	}
	klog.Infof("[redis] connected to %v as session %s", c.opt.Address, c.session)
	return nil
}

func (c *Connector) get() (redis.UniversalClient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.closed:
		return nil, types.ErrClosed
	case c.client == nil:
		return nil, types.ConnectorError(errors.New("not connected"), "redis")
	}
	return c.client, nil
}

// heartbeat pings the server, refreshes the dynamic urls and sweeps the expired ones every
// half of the ttl. A failed ping is a lost session, the next successful one a new session.
func (c *Connector) heartbeat() {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
		}

		client, err := c.get()
		if err != nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.ttl/2)
		err = client.Ping(ctx).Err()
		c.transition(err)
		if err == nil {
			c.refresh(ctx, client)
			c.sweep(ctx, client)
		}
		cancel()
	}
}

func (c *Connector) transition(err error) {
	c.mu.Lock()
	was := c.available
	c.available = err == nil
	listener := c.listener
	c.mu.Unlock()

	switch {
	case was && err != nil:
		klog.Warningf("[redis] lost the connection to %v: %v", c.opt.Address, err)
		if listener != nil {
			listener.OnDisconnect()
		}
	case !was && err == nil:
		klog.Infof("[redis] connection to %v is back", c.opt.Address)
		if listener != nil {
			listener.OnReconnect()
		}
	}
}

func (c *Connector) refresh(ctx context.Context, client redis.UniversalClient) {
	c.mu.Lock()
	urls := make([]*types.URL, 0, len(c.registered))
	for _, u := range c.registered {
		urls = append(urls, u)
	}
	c.mu.Unlock()

	now := c.now()
	for _, u := range urls {
		if err := client.HSet(ctx, keyOf(c.root, u), u.String(), expiry(u, now, c.ttl)).Err(); err != nil {
			klog.Warningf("[redis] refresh %s failed: %v", u, err)
		}
	}
}

// sweep removes the expired fields of every hash below the root.
func (c *Connector) sweep(ctx context.Context, client redis.UniversalClient) {
	keys, err := scan(ctx, client, keyPattern(c.root, types.AnyValue))
	if err != nil {
		klog.Warningf("[redis] scan %s failed: %v", c.root, err)
		return
	}
	now := c.now()
	for _, key := range keys {
		fields, err := client.HGetAll(ctx, key).Result()
		if err != nil {
			continue
		}
		_, stale := decodeEntries(path.Base(key), fields, now)
		if len(stale) == 0 {
			continue
		}
		if err := client.HDel(ctx, key, stale...).Err(); err != nil {
			klog.Warningf("[redis] remove %d expired urls of %s failed: %v", len(stale), key, err)
			continue
		}
		klog.Infof("[redis] removed %d expired urls of %s", len(stale), key)
		client.Publish(ctx, key, unregisterEvent)
	}
}

// scan lists the keys matching pattern, on every master of a cluster.
func scan(ctx context.Context, client redis.UniversalClient, pattern string) ([]string, error) {
	var (
		mu   sync.Mutex
		keys []string
	)
	collect := func(ctx context.Context, client *redis.Client) error {
		iter := client.Scan(ctx, 0, pattern, 0).Iterator()
		for iter.Next(ctx) {
			mu.Lock()
			keys = append(keys, iter.Val())
			mu.Unlock()
		}
		return iter.Err()
	}

	switch cc := client.(type) {
	case *redis.ClusterClient:
		if err := cc.ForEachMaster(ctx, collect); err != nil {
			return nil, err
		}
	case *redis.Client:
		if err := collect(ctx, cc); err != nil {
			return nil, err
		}
	default:
		iter := client.Scan(ctx, 0, pattern, 0).Iterator()
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

// Register ...
func (c *Connector) Register(ctx context.Context, u *types.URL) error {
	client, err := c.get()
	if err != nil {
		return err
	}

	key := keyOf(c.root, u)
	if err := client.HSet(ctx, key, u.String(), expiry(u, c.now(), c.ttl)).Err(); err != nil {
		return types.ConnectorError(err, "hset %s", key)
	}
	if err := client.Publish(ctx, key, registerEvent).Err(); err != nil {
		klog.Warningf("[redis] publish the registration of %s failed: %v", u, err)
	}

	if u.IsDynamic() {
		c.mu.Lock()
		c.registered[u.Key()] = u
		c.mu.Unlock()
	}
	return nil
}

// Unregister ...
func (c *Connector) Unregister(ctx context.Context, u *types.URL) error {
	client, err := c.get()
	if err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.registered, u.Key())
	c.mu.Unlock()

	key := keyOf(c.root, u)
	if err := client.HDel(ctx, key, u.String()).Err(); err != nil {
		return types.ConnectorError(err, "hdel %s", key)
	}
	if err := client.Publish(ctx, key, unregisterEvent).Err(); err != nil {
		klog.Warningf("[redis] publish the removal of %s failed: %v", u, err)
	}
	return nil
}

// Subscribe listens to the channels of the hashes of query, then reads them.
func (c *Connector) Subscribe(ctx context.Context, query *types.URL, handler connector.EventHandler) ([]*types.URL, error) {
	client, err := c.get()
	if err != nil {
		return nil, err
	}

	pattern := keyPattern(c.root, query.ServiceInterface())
	pubsub := client.PSubscribe(ctx, pattern)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, types.ConnectorError(err, "psubscribe %s", pattern)
	}

	w := &watch{
		connector: c,
		client:    client,
		query:     query,
		handler:   handler,
		pubsub:    pubsub,
	}
	categories := query.Categories()
	if types.IsWildcardCategory(query) {
		categories = types.DefaultCategories
	}
	var initial []*types.URL
	for _, category := range categories {
		urls, err := w.load(ctx, category)
		if err != nil {
			pubsub.Close()
			return nil, types.ConnectorError(err, "load %s of %s", category, query)
		}
		initial = append(initial, urls...)
	}

	c.mu.Lock()
	old := c.watches[query.Key()]
	c.watches[query.Key()] = w
	c.mu.Unlock()
	if old != nil {
		old.pubsub.Close()
	}

	go w.run()
	return initial, nil
}

// Unsubscribe ...
func (c *Connector) Unsubscribe(ctx context.Context, query *types.URL) error {
	c.mu.Lock()
	w, ok := c.watches[query.Key()]
	delete(c.watches, query.Key())
	c.mu.Unlock()
	if !ok {
		return nil
	}
	if err := w.pubsub.Close(); err != nil {
		return types.ConnectorError(err, "punsubscribe %s", query)
	}
	return nil
}

// Available ...
func (c *Connector) Available() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.available
}

// Close removes the dynamic urls of the session and closes the client.
func (c *Connector) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	client := c.client
	watches := c.watches
	c.watches = make(map[string]*watch)
	registered := c.registered
	c.registered = make(map[string]*types.URL)
	c.mu.Unlock()

	close(c.stopCh)
	if client == nil {
		return nil
	}
	<-c.doneCh

	for _, w := range watches {
		w.pubsub.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.ttl/2)
	defer cancel()
	for _, u := range registered {
		key := keyOf(c.root, u)
		if err := client.HDel(ctx, key, u.String()).Err(); err == nil {
			client.Publish(ctx, key, unregisterEvent)
		}
	}
	return client.Close()
}

// watch forwards the changes of the hashes of one query.
type watch struct {
	connector *Connector
	client    redis.UniversalClient
	query     *types.URL
	handler   connector.EventHandler
	pubsub    *redis.PubSub
}

// load reads category of every service the query covers.
func (w *watch) load(ctx context.Context, category string) ([]*types.URL, error) {
	var keys []string
	if w.query.ServiceInterface() == types.AnyValue {
		var err error
		if keys, err = scan(ctx, w.client, categoryPattern(w.connector.root, category)); err != nil {
			return nil, err
		}
	} else {
		keys = []string{categoryKey(w.connector.root, w.query.ServiceInterface(), category)}
	}

	now := w.connector.now()
	result := make([]*types.URL, 0)
	for _, key := range keys {
		fields, err := w.client.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, err
		}
		urls, _ := decodeEntries(category, fields, now)
		for _, u := range urls {
			if types.IsMatch(w.query, u) {
				result = append(result, u)
			}
		}
	}
	return result, nil
}

func (w *watch) run() {
	for msg := range w.pubsub.Channel() {
		category := path.Base(msg.Channel)
		if !types.MatchCategory(w.query, category) {
			continue
		}
		klog.V(4).Infof("[redis] %s on %s", msg.Payload, msg.Channel)

		ctx, cancel := context.WithTimeout(context.Background(), w.connector.ttl/2)
		urls, err := w.load(ctx, category)
		cancel()
		if err != nil {
			klog.Errorf("[redis] reload %s of %s failed: %v", category, w.query, err)
			continue
		}
		w.handler(category, urls)
	}
}
