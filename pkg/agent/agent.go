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

// Package agent runs a registry on behalf of local services: it registers their urls, keeps the
// subscriptions on their dependencies and serves the admin endpoints.
package agent

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/symcn/dubbo-registry/pkg/admin"
	"github.com/symcn/dubbo-registry/pkg/healthcheck"
	"github.com/symcn/dubbo-registry/pkg/option"
	"github.com/symcn/dubbo-registry/pkg/registry"
	"github.com/symcn/dubbo-registry/pkg/registry/notify"
	"github.com/symcn/dubbo-registry/pkg/registry/types"
	"github.com/symcn/dubbo-registry/pkg/router"
	"github.com/symcn/dubbo-registry/pkg/utils"
	"k8s.io/klog"
)

// Agent ...
type Agent struct {
	opt       *option.AgentOption
	factory   *registry.Factory
	registry  *registry.Registry
	router    *router.Router
	providers []*types.URL
	queries   []*types.URL
	listener  notify.Listener
}

// New opens the registry and builds the admin server, nothing is registered before Start.
func New(ctx context.Context, opt *option.AgentOption) (*Agent, error) {
	manifest, err := LoadManifest(opt.Providers)
	if err != nil {
		return nil, err
	}
	providers, err := parseAll(manifest.Providers)
	if err != nil {
		return nil, errors.Wrap(err, "providers")
	}
	queries, err := parseAll(append(manifest.Subscribe, opt.Subscribe...))
	if err != nil {
		return nil, errors.Wrap(err, "subscriptions")
	}

	factory := registry.NewFactory()
	reg, err := factory.Get(ctx, *opt.Registry)
	if err != nil {
		return nil, err
	}

	r, err := router.NewRouter(&router.Options{
		GinLogEnabled:  opt.GinLogEnabled,
		GinLogSkipPath: opt.GinLogSkipPath,
		PprofEnabled:   opt.PprofEnabled,
		MetricsEnabled: opt.MetricsEnabled,
		Addr:           opt.HTTPAddress,
	})
	if err != nil {
		factory.Close()
		return nil, err
	}

	adminHandler := admin.NewHandler(reg)
	health := healthcheck.NewHandler()
	health.AddReadinessCheck("registry", adminHandler.ReadinessCheck())
	r.AddRoutes("default", r.DefaultRoutes())
	r.AddRoutes("health", health.Routes())
	r.AddRoutes("registry", adminHandler.Routes())

	return &Agent{
		opt:       opt,
		factory:   factory,
		registry:  reg,
		router:    r,
		providers: providers,
		queries:   queries,
		listener:  notify.NewListener(logNotification),
	}, nil
}

func logNotification(category string, urls []*types.URL) {
	klog.Infof("[agent] %d %s", len(urls), category)
	for _, u := range urls {
		klog.V(4).Infof("[agent]   %s", u)
	}
}

// Registry ...
func (a *Agent) Registry() *registry.Registry {
	return a.registry
}

// Router ...
func (a *Agent) Router() *router.Router {
	return a.router
}

// Start registers the providers, subscribes the queries, then serves the admin endpoints until
// stopCh is closed. The registrations are withdrawn before it returns.
func (a *Agent) Start(stopCh <-chan struct{}) error {
	defer a.Close()

	if err := a.publish(); err != nil {
		return err
	}

	components := &utils.Components{}
	components.Add(a.router)
	return components.Start(stopCh)
}

func (a *Agent) publish() error {
	timeout := a.opt.Registry.Timeout
	for _, u := range a.providers {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		err := a.registry.Register(ctx, u)
		cancel()
		if err != nil {
			return errors.Wrapf(err, "register provider")
		}
		klog.Infof("[agent] registered %s", u)
	}

	for _, q := range a.queries {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		err := a.registry.Subscribe(ctx, q, a.listener)
		cancel()
		switch {
		case errors.Is(err, types.ErrNotifyTimeout):
			klog.Warningf("[agent] subscribed %s, no notification within %s", q, timeout)
		case err != nil:
			return errors.Wrapf(err, "subscribe")
		default:
			klog.Infof("[agent] subscribed %s", q)
		}
	}
	return nil
}

// Close withdraws the subscriptions and closes the registry, which unregisters the providers.
func (a *Agent) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, q := range a.queries {
		if err := a.registry.Unsubscribe(ctx, q, a.listener); err != nil && !errors.Is(err, types.ErrClosed) {
			klog.Warningf("[agent] unsubscribe %s failed: %v", q, err)
		}
	}
	return a.factory.Close()
}
