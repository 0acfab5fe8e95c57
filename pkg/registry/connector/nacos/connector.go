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

// Package nacos registers every url as an instance of the service <category>:<interface>. The
// parameters of the url are kept in the metadata of the instance, ephemeral instances are the
// dynamic urls.
package nacos

import (
	"context"
	"net"
	"strconv"
	"sync"

	"github.com/nacos-group/nacos-sdk-go/clients"
	"github.com/nacos-group/nacos-sdk-go/common/constant"
	"github.com/nacos-group/nacos-sdk-go/model"
	"github.com/nacos-group/nacos-sdk-go/vo"
	"github.com/pkg/errors"
	"github.com/symcn/dubbo-registry/pkg/option"
	"github.com/symcn/dubbo-registry/pkg/registry/connector"
	"github.com/symcn/dubbo-registry/pkg/registry/types"
	"k8s.io/klog"
)

func init() {
	connector.Register("nacos", New)
}

// namingClient is the part of naming_client.INamingClient used by the connector.
type namingClient interface {
	RegisterInstance(param vo.RegisterInstanceParam) (bool, error)
	DeregisterInstance(param vo.DeregisterInstanceParam) (bool, error)
	SelectAllInstances(param vo.SelectAllInstancesParam) ([]model.Instance, error)
	Subscribe(param *vo.SubscribeParam) error
	Unsubscribe(param *vo.SubscribeParam) error
}

func newClient(opt option.Registry) (namingClient, error) {
	var servers []constant.ServerConfig
	for _, address := range opt.Address {
		host, port, err := net.SplitHostPort(address)
		if err != nil {
			host, port = address, "8848"
		}
		p, err := strconv.ParseUint(port, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(types.ErrInvalidArgument, "nacos address %s", address)
		}
		servers = append(servers, constant.ServerConfig{
			IpAddr:      host,
			Port:        p,
			ContextPath: "/nacos",
		})
	}

	return clients.CreateNamingClient(map[string]interface{}{
		"serverConfigs": servers,
		"clientConfig": constant.ClientConfig{
			TimeoutMs:           uint64(opt.Timeout.Milliseconds()),
			BeatInterval:        5 * 1000,
			ListenInterval:      30 * 1000,
			NamespaceId:         opt.Namespace,
			NotLoadCacheAtStart: true,
		},
	})
}

// Connector ...
type Connector struct {
	opt       option.Registry
	newClient func(opt option.Registry) (namingClient, error)

	mu            sync.Mutex
	client        namingClient
	healthy       bool
	closed        bool
	subscriptions map[string]*subscription
}

type subscription struct {
	mu      sync.Mutex
	query   *types.URL
	handler connector.EventHandler
	params  []*vo.SubscribeParam
	stopped bool
}

// New ...
func New(opt option.Registry) (connector.Connector, error) {
	return &Connector{
		opt:           opt,
		newClient:     newClient,
		subscriptions: make(map[string]*subscription),
	}, nil
}

// Connect creates the naming client. The client keeps the ephemeral instances alive with its own
// heartbeats and never reports a lost session, so listener is not used.
func (c *Connector) Connect(ctx context.Context, listener connector.StateListener) error {
	if c.opt.Username != "" {
		klog.Warningf("[nacos] authentication is not supported by this client, username %s is ignored", c.opt.Username)
	}
	client, err := c.newClient(c.opt)
	if err != nil {
		return types.ConnectorError(err, "create nacos client of %v", c.opt.Address)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.client = client
	c.healthy = true
	klog.Infof("[nacos] connected to %v, namespace [%s] group [%s]", c.opt.Address, c.opt.Namespace, c.opt.Group)
	return nil
}

func (c *Connector) get() (namingClient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.closed:
		return nil, types.ErrClosed
	case c.client == nil:
		return nil, types.ConnectorError(errors.New("not connected"), "nacos")
	}
	return c.client, nil
}

// done records the outcome of a request as the availability of the server.
func (c *Connector) done(err error) error {
	c.mu.Lock()
	c.healthy = err == nil
	c.mu.Unlock()
	return err
}

// Register ...
func (c *Connector) Register(ctx context.Context, u *types.URL) error {
	client, err := c.get()
	if err != nil {
		return err
	}
	ip, port, err := hostPort(u)
	if err != nil {
		return err
	}

	ok, err := client.RegisterInstance(vo.RegisterInstanceParam{
		Ip:          ip,
		Port:        port,
		Weight:      1,
		Enable:      true,
		Healthy:     true,
		Metadata:    metadataOf(u),
		ClusterName: clusterName(u),
		ServiceName: serviceName(u.Category(), u.ServiceInterface()),
		GroupName:   c.opt.Group,
		Ephemeral:   u.IsDynamic(),
	})
	if err == nil && !ok {
		err = errors.New("register instance returned false")
	}
	return c.done(types.ConnectorError(err, "register %s", u))
}

// Unregister ...
func (c *Connector) Unregister(ctx context.Context, u *types.URL) error {
	client, err := c.get()
	if err != nil {
		return err
	}
	ip, port, err := hostPort(u)
	if err != nil {
		return err
	}

	ok, err := client.DeregisterInstance(vo.DeregisterInstanceParam{
		Ip:          ip,
		Port:        port,
		Cluster:     clusterName(u),
		ServiceName: serviceName(u.Category(), u.ServiceInterface()),
		GroupName:   c.opt.Group,
		Ephemeral:   u.IsDynamic(),
	})
	if err == nil && !ok {
		err = errors.New("deregister instance returned false")
	}
	return c.done(types.ConnectorError(err, "unregister %s", u))
}

// Subscribe lists and subscribes the service of every category of query. Nacos has no way to
// watch every service, so a query of any interface is rejected.
func (c *Connector) Subscribe(ctx context.Context, query *types.URL, handler connector.EventHandler) ([]*types.URL, error) {
	if query.ServiceInterface() == types.AnyValue {
		return nil, errors.Wrapf(types.ErrUnsupported, "nacos can not subscribe %s", query)
	}
	client, err := c.get()
	if err != nil {
		return nil, err
	}

	categories := query.Categories()
	if types.IsWildcardCategory(query) {
		categories = types.DefaultCategories
	}

	sub := &subscription{query: query, handler: handler}
	var initial []*types.URL
	for _, category := range categories {
		name := serviceName(category, query.ServiceInterface())
		instances, err := client.SelectAllInstances(vo.SelectAllInstancesParam{
			ServiceName: name,
			GroupName:   c.opt.Group,
		})
		if err != nil && !isEmptyList(err) {
			c.unsubscribe(client, sub)
			return nil, c.done(types.ConnectorError(err, "select instances of %s", name))
		}
		for _, u := range fromInstances(category, instances) {
			if types.IsMatch(query, u) {
				initial = append(initial, u)
			}
		}

		category := category
		param := &vo.SubscribeParam{
			ServiceName: name,
			GroupName:   c.opt.Group,
			SubscribeCallback: func(services []model.SubscribeService, err error) {
				if err != nil {
					klog.Errorf("[nacos] subscription of %s failed: %v", name, err)
					return
				}
				sub.push(category, fromSubscribeServices(category, services))
			},
		}
		if err := client.Subscribe(param); err != nil {
			c.unsubscribe(client, sub)
			return nil, c.done(types.ConnectorError(err, "subscribe %s", name))
		}
		sub.params = append(sub.params, param)
	}

	c.mu.Lock()
	old := c.subscriptions[query.Key()]
	c.subscriptions[query.Key()] = sub
	c.mu.Unlock()
	if old != nil {
		c.unsubscribe(client, old)
	}
	c.done(nil)
	return initial, nil
}

func (s *subscription) push(category string, urls []*types.URL) {
	matched := make([]*types.URL, 0, len(urls))
	for _, u := range urls {
		if types.IsMatch(s.query, u) {
			matched = append(matched, u)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.handler(category, matched)
}

func (c *Connector) unsubscribe(client namingClient, sub *subscription) error {
	sub.mu.Lock()
	sub.stopped = true
	sub.mu.Unlock()

	var first error
	for _, param := range sub.params {
		if err := client.Unsubscribe(param); err != nil {
			klog.Warningf("[nacos] unsubscribe %s failed: %v", param.ServiceName, err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// Unsubscribe ...
func (c *Connector) Unsubscribe(ctx context.Context, query *types.URL) error {
	client, err := c.get()
	if err != nil {
		return err
	}

	c.mu.Lock()
	sub, ok := c.subscriptions[query.Key()]
	delete(c.subscriptions, query.Key())
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return c.done(types.ConnectorError(c.unsubscribe(client, sub), "unsubscribe %s", query))
}

// Available reports whether the last request succeeded.
func (c *Connector) Available() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.client != nil && c.healthy
}

// Close ...
func (c *Connector) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	client := c.client
	subs := c.subscriptions
	c.subscriptions = make(map[string]*subscription)
	c.mu.Unlock()

	if client != nil {
		for _, sub := range subs {
			c.unsubscribe(client, sub)
		}
	}
	return nil
}
