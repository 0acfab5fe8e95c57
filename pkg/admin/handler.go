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

// Package admin exposes the state of a registry over http and lets operators register and
// unregister urls by hand.
package admin

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/symcn/dubbo-registry/pkg/healthcheck"
	"github.com/symcn/dubbo-registry/pkg/registry"
	"github.com/symcn/dubbo-registry/pkg/registry/types"
	"github.com/symcn/dubbo-registry/pkg/router"
	"k8s.io/klog"
)

// APIPrefix of the admin routes.
const APIPrefix = "/api/v1"

// Handler ...
type Handler struct {
	registry *registry.Registry
	timeout  time.Duration
}

// NewHandler ...
func NewHandler(r *registry.Registry) *Handler {
	return &Handler{registry: r, timeout: r.Options().Timeout}
}

// RegistryView is the json form of the registry state.
type RegistryView struct {
	URL       string `json:"url"`
	Available bool   `json:"available"`
}

// URLRequest is the body of the register requests.
type URLRequest struct {
	URL string `json:"url" binding:"required"`
}

// TaskView is the json form of a pending failback task.
type TaskView struct {
	Kind      string    `json:"kind"`
	URL       string    `json:"url"`
	State     string    `json:"state"`
	Attempt   int       `json:"attempt"`
	NextRetry time.Time `json:"nextRetry"`
	LastError string    `json:"lastError,omitempty"`
}

// Routes ...
func (h *Handler) Routes() []*router.Route {
	return []*router.Route{
		{Method: "GET", Path: APIPrefix + "/registry", Handler: h.getRegistry, Desc: "registry url and availability"},
		{Method: "GET", Path: APIPrefix + "/lookup", Handler: h.lookup, Desc: "cached urls matching ?url=<query>"},
		{Method: "GET", Path: APIPrefix + "/registered", Handler: h.registered, Desc: "urls registered by this process"},
		{Method: "GET", Path: APIPrefix + "/subscribed", Handler: h.subscribed, Desc: "subscribed queries and their listener count"},
		{Method: "GET", Path: APIPrefix + "/pending", Handler: h.pending, Desc: "operations waiting to be retried"},
		{Method: "POST", Path: APIPrefix + "/registered", Handler: h.register},
		{Method: "DELETE", Path: APIPrefix + "/registered", Handler: h.unregister},
	}
}

// ReadinessCheck fails while the registry can not reach its backing store.
func (h *Handler) ReadinessCheck() healthcheck.Check {
	return func() error {
		if !h.registry.Available() {
			return errors.Errorf("registry %s is not available", h.registry.URL())
		}
		return nil
	}
}

func (h *Handler) getRegistry(c *gin.Context) {
	c.JSON(http.StatusOK, RegistryView{
		URL:       h.registry.URL().String(),
		Available: h.registry.Available(),
	})
}

func (h *Handler) lookup(c *gin.Context) {
	query, err := types.ParseURL(c.Query("url"))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, urlStrings(h.registry.Lookup(query)))
}

func (h *Handler) registered(c *gin.Context) {
	c.JSON(http.StatusOK, urlStrings(h.registry.Registered()))
}

func (h *Handler) subscribed(c *gin.Context) {
	c.JSON(http.StatusOK, h.registry.Subscribed())
}

func (h *Handler) pending(c *gin.Context) {
	tasks := h.registry.Pending()
	views := make([]TaskView, 0, len(tasks))
	for _, t := range tasks {
		views = append(views, TaskView{
			Kind:      t.Kind.String(),
			URL:       t.URL.String(),
			State:     t.State.String(),
			Attempt:   t.Attempt,
			NextRetry: t.NextRetry,
			LastError: t.LastError,
		})
	}
	c.JSON(http.StatusOK, views)
}

func (h *Handler) register(c *gin.Context) {
	var req URLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, errors.Wrap(types.ErrInvalidArgument, err.Error()))
		return
	}
	u, err := types.ParseURL(req.URL)
	if err != nil {
		abort(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()
	if err := h.registry.Register(ctx, u); err != nil {
		abort(c, err)
		return
	}
	klog.Infof("[admin] %s registered %s", c.GetString(router.RequestIDKey), u)
	c.JSON(http.StatusCreated, gin.H{"url": u.String()})
}

func (h *Handler) unregister(c *gin.Context) {
	u, err := types.ParseURL(c.Query("url"))
	if err != nil {
		abort(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()
	if err := h.registry.Unregister(ctx, u); err != nil {
		abort(c, err)
		return
	}
	klog.Infof("[admin] %s unregistered %s", c.GetString(router.RequestIDKey), u)
	c.Status(http.StatusNoContent)
}

func abort(c *gin.Context, err error) {
	c.AbortWithStatusJSON(statusOf(err), gin.H{"error": err.Error()})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, types.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, types.ErrUnsupported):
		return http.StatusNotImplemented
	case errors.Is(err, types.ErrNotifyTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func urlStrings(urls []*types.URL) []string {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		out = append(out, u.String())
	}
	return out
}
