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

// Package connector defines how a registry talks to its backing store.
package connector

import (
	"context"

	"github.com/symcn/dubbo-registry/pkg/registry/types"
)

// StateListener is told when the session with the backing store is lost or established again.
// OnDisconnect means the ephemeral registrations of this client are gone.
type StateListener interface {
	OnReconnect()
	OnDisconnect()
}

// EventHandler receives the complete set of registrations of a category matching a subscribed
// query every time it changes.
type EventHandler func(category string, urls []*types.URL)

//go:generate mockgen -source=connector.go -destination=mock/mock_connector.go -package=mock

// Connector is the capability every backing technology implements.
type Connector interface {
	// Connect establishes the session, the listener is used for its whole lifetime.
	Connect(ctx context.Context, listener StateListener) error

	Register(ctx context.Context, url *types.URL) error

	Unregister(ctx context.Context, url *types.URL) error

	// Subscribe returns the current registrations matching query and keeps pushing the changes to
	// handler. Subscribing the same query again replaces the handler.
	Subscribe(ctx context.Context, query *types.URL, handler EventHandler) ([]*types.URL, error)

	Unsubscribe(ctx context.Context, query *types.URL) error

	// Available reports whether the session is established.
	Available() bool

	Close() error
}
