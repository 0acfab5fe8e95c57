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

package healthcheck

import (
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/symcn/dubbo-registry/pkg/router"
)

// Check is a health/readiness check.
type Check func() error

// Handler is an endpoints with additional methods that register health and
// readiness checks. It handles handle "/live" and "/ready" HTTP
// endpoints.
type Handler interface {
	Routes() []*router.Route
	AddLivenessCheck(name string, check Check)
	AddReadinessCheck(name string, check Check)
	LiveEndpoint(ctx *gin.Context)
	ReadyEndpoint(ctx *gin.Context)
	RemoveLivenessCheck(name string)
	RemoveReadinessCheck(name string)
}

// basicHandler is a basic Handler implementation.
type basicHandler struct {
	checksMutex     sync.RWMutex
	livenessChecks  map[string]Check
	readinessChecks map[string]Check
}

// NewHandler ...
func NewHandler() Handler {
	return &basicHandler{
		livenessChecks:  make(map[string]Check),
		readinessChecks: make(map[string]Check),
	}
}

func (s *basicHandler) Routes() []*router.Route {
	return []*router.Route{
		{
			Method:  "GET",
			Path:    router.LivePath,
			Handler: s.LiveEndpoint,
		},
		{
			Method:  "GET",
			Path:    router.ReadyPath,
			Handler: s.ReadyEndpoint,
		},
	}
}

func (s *basicHandler) LiveEndpoint(ctx *gin.Context) {
	s.handle(ctx, s.livenessChecks)
}

func (s *basicHandler) ReadyEndpoint(ctx *gin.Context) {
	s.handle(ctx, s.readinessChecks, s.livenessChecks)
}

func (s *basicHandler) AddLivenessCheck(name string, check Check) {
	s.checksMutex.Lock()
	defer s.checksMutex.Unlock()
	s.livenessChecks[name] = check
}

func (s *basicHandler) AddReadinessCheck(name string, check Check) {
	s.checksMutex.Lock()
	defer s.checksMutex.Unlock()
	s.readinessChecks[name] = check
}

// RemoveLivenessCheck removes the checks whose name starts with name.
func (s *basicHandler) RemoveLivenessCheck(name string) {
	s.remove(s.livenessChecks, name)
}

// RemoveReadinessCheck removes the checks whose name starts with name.
func (s *basicHandler) RemoveReadinessCheck(name string) {
	s.remove(s.readinessChecks, name)
}

func (s *basicHandler) remove(checks map[string]Check, name string) {
	s.checksMutex.Lock()
	defer s.checksMutex.Unlock()
	for n := range checks {
		if strings.HasPrefix(n, name) {
			delete(checks, n)
		}
	}
}

func (s *basicHandler) collectChecks(checks map[string]Check, resultsOut map[string]string) (healthy bool) {
	s.checksMutex.RLock()
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	s.checksMutex.RUnlock()
	sort.Strings(names)

	healthy = true
	for _, name := range names {
		s.checksMutex.RLock()
		check, ok := checks[name]
		s.checksMutex.RUnlock()
		if !ok {
			continue
		}
		if err := check(); err != nil {
			healthy = false
			resultsOut[name] = err.Error()
		} else {
			resultsOut[name] = "OK"
		}
	}
	return healthy
}

func (s *basicHandler) handle(ctx *gin.Context, checks ...map[string]Check) {
	checkResults := make(map[string]string)
	status := http.StatusOK
	for _, checks := range checks {
		if !s.collectChecks(checks, checkResults) {
			status = http.StatusServiceUnavailable
		}
	}

	// unless ?full=true, return an empty body. Kubernetes only cares about the
	// HTTP status code, so we won't waste bytes on the full body.
	if ctx.DefaultQuery("full", "false") == "false" {
		ctx.JSON(status, "OK")
		return
	}
	ctx.IndentedJSON(status, checkResults)
}
