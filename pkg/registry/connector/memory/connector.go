// Package memory is an in-process connector. Connectors of the same address share one Store,
// which makes it usable for local development and for simulating a cluster in tests.
package memory

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/symcn/dubbo-registry/pkg/option"
	"github.com/symcn/dubbo-registry/pkg/registry/connector"
	"github.com/symcn/dubbo-registry/pkg/registry/types"
	"k8s.io/klog"
)

func init() {
	connector.Register("memory", New)
}

// ErrDisconnected the session of the connector is not established.
var ErrDisconnected = errors.New("memory connector is disconnected")

// Connector is one client session on a Store.
type Connector struct {
	store *Store

	mu        sync.Mutex
	listener  connector.StateListener
	connected bool
	closed    bool
	failure   error
}

// New creates a connector on the store shared by the connectors of the same address.
func New(opt option.Registry) (connector.Connector, error) {
	return NewConnector(SharedStore(opt.Key())), nil
}

// NewConnector ...
func NewConnector(store *Store) *Connector {
	return &Connector{store: store}
}

// Store ...
func (c *Connector) Store() *Store {
	return c.store
}

// Connect ...
func (c *Connector) Connect(ctx context.Context, listener connector.StateListener) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return types.ErrClosed
	}
	c.listener = listener
	if c.failure != nil {
		return types.ConnectorError(c.failure, "connect")
	}
	c.connected = true
	return nil
}

// SetFailure makes every following request fail with err, nil clears it.
func (c *Connector) SetFailure(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failure = err
}

// Disconnect simulates a lost session: the ephemeral records of this connector disappear and
// its watches are dropped.
func (c *Connector) Disconnect() {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return
	}
	c.connected = false
	listener := c.listener
	c.mu.Unlock()

	klog.Infof("[memory] session lost")
	c.store.expire(c)
	if listener != nil {
		listener.OnDisconnect()
	}
}

// Reconnect simulates a new session.
func (c *Connector) Reconnect() {
	c.mu.Lock()
	if c.connected || c.closed {
		c.mu.Unlock()
		return
	}
	c.connected = true
	listener := c.listener
	c.mu.Unlock()

	klog.Infof("[memory] session established again")
	if listener != nil {
		listener.OnReconnect()
	}
}

func (c *Connector) check(op string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.closed:
		return types.ErrClosed
	case c.failure != nil:
		return types.ConnectorError(c.failure, op)
	case !c.connected:
		return types.ConnectorError(ErrDisconnected, op)
	}
	return nil
}

// Register ...
func (c *Connector) Register(ctx context.Context, url *types.URL) error {
	if err := c.check("register"); err != nil {
		return err
	}
	c.store.put(url, c)
	return nil
}

// Unregister ...
func (c *Connector) Unregister(ctx context.Context, url *types.URL) error {
	if err := c.check("unregister"); err != nil {
		return err
	}
	c.store.delete(url)
	return nil
}

// Subscribe ...
func (c *Connector) Subscribe(ctx context.Context, query *types.URL, handler connector.EventHandler) ([]*types.URL, error) {
	if err := c.check("subscribe"); err != nil {
		return nil, err
	}
	return c.store.watch(&watcher{owner: c, query: query, handler: handler}), nil
}

// Unsubscribe ...
func (c *Connector) Unsubscribe(ctx context.Context, query *types.URL) error {
	if err := c.check("unsubscribe"); err != nil {
		return err
	}
	c.store.unwatch(c, query)
	return nil
}

// Available ...
func (c *Connector) Available() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && !c.closed && c.failure == nil
}

// Close ends the session, as a crash would.
func (c *Connector) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	c.mu.Unlock()

	c.store.expire(c)
	return nil
}
