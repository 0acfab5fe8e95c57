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

package router

import (
	"bytes"
	"context"
	"crypto/tls"
	"net/http"
	"text/template"
	"time"

	"github.com/DeanThompson/ginpprof"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/symcn/dubbo-registry/pkg/metrics"
	"github.com/symcn/dubbo-registry/pkg/version"
	"go.opencensus.io/plugin/ochttp"
	"go.opencensus.io/trace"
	"k8s.io/klog"
)

// other URLs
const (
	VersionPath = "/version"
	MetricsPath = "/metrics"
	LivePath    = "/live"
	ReadyPath   = "/ready"
	PprofPath   = "/debug/pprof"
)

// Options are options for constructing a Router
type Options struct {
	GinLogEnabled  bool
	GinLogSkipPath []string
	PprofEnabled   bool
	MetricsEnabled bool

	Addr            string
	ShutdownTimeout time.Duration

	CertFilePath string
	KeyFilePath  string
}

// Router handles all incoming HTTP requests
type Router struct {
	*gin.Engine
	Routes              map[string][]*Route
	httpServer          *http.Server
	ProfileDescriptions []*Profile
	Opt                 *Options
}

// Profile ...
type Profile struct {
	Name string
	Href string
	Desc string
}

// Route represents an application route
type Route struct {
	Method  string
	Path    string
	Handler gin.HandlerFunc
	Desc    string
}

// NewRouter creates a new Router instance
func NewRouter(opt *Options) (*Router, error) {
	if !opt.GinLogEnabled {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery(), RequestID())
	if opt.GinLogEnabled {
		engine.Use(gin.LoggerWithConfig(gin.LoggerConfig{
			SkipPaths: opt.GinLogSkipPath,
		}))
	}

	r := &Router{
		Engine:              engine,
		Routes:              make(map[string][]*Route),
		ProfileDescriptions: make([]*Profile, 0),
		Opt:                 opt,
	}

	if opt.MetricsEnabled {
		p, err := metrics.NewOcPrometheus()
		if err != nil {
			return nil, err
		}
		if err := metrics.RegisterGinView(); err != nil {
			return nil, err
		}
		r.Engine.GET(MetricsPath, gin.WrapH(p))
		r.AddProfile("GET", MetricsPath, "Prometheus format metrics")
	}

	if opt.PprofEnabled {
		// automatically add routers for net/http/pprof e.g. /debug/pprof, /debug/pprof/heap, etc.
		ginpprof.Wrap(r.Engine)
		r.AddProfile("GET", PprofPath, `PProf related things:<br/>
			<a href="/debug/pprof/goroutine?debug=2">full goroutine stack dump</a>`)
	}

	r.NoRoute(r.masterHandler)
	return r, nil
}

// Handler returns the engine, wrapped by the opencensus handler when metrics are enabled.
func (r *Router) Handler() http.Handler {
	if !r.Opt.MetricsEnabled {
		return r.Engine
	}
	return &ochttp.Handler{
		Handler: r.Engine,
		GetStartOptions: func(req *http.Request) trace.StartOptions {
			startOptions := trace.StartOptions{}
			if req.URL.Path == MetricsPath {
				startOptions.Sampler = trace.NeverSample()
			}
			return startOptions
		},
	}
}

// Start serves until stopCh is closed, then shuts the server down gracefully.
func (r *Router) Start(stopCh <-chan struct{}) error {
	if r.Opt.ShutdownTimeout == 0 {
		r.Opt.ShutdownTimeout = 5 * time.Second
	}

	r.httpServer = &http.Server{
		Addr:         r.Opt.Addr,
		Handler:      r.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 35 * time.Second,
	}

	tlsEnabled := r.Opt.CertFilePath != "" && r.Opt.KeyFilePath != ""
	if tlsEnabled {
		cert, err := tls.LoadX509KeyPair(r.Opt.CertFilePath, r.Opt.KeyFilePath)
		if err != nil {
			return errors.Wrap(err, "load x509 key pair")
		}
		r.httpServer.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tlsEnabled {
			klog.Infof("Listening on %s, https://localhost%s", r.Opt.Addr, r.Opt.Addr)
			err = r.httpServer.ListenAndServeTLS(r.Opt.CertFilePath, r.Opt.KeyFilePath)
		} else {
			klog.Infof("Listening on %s, http://localhost%s", r.Opt.Addr, r.Opt.Addr)
			err = r.httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			klog.Errorf("Http server error: %v", err)
			errCh <- err
		}
	}()

	var err error
	select {
	case <-stopCh:
		klog.Infof("Shutting down the http/https:%s server...", r.Opt.Addr)
		ctx, cancel := context.WithTimeout(context.Background(), r.Opt.ShutdownTimeout)
		defer cancel()
		err = r.httpServer.Shutdown(ctx)
	case err = <-errCh:
	}

	if err != nil {
		klog.Errorf("Server stop err: %v", err)
		return err
	}
	klog.Infof("Server exiting")
	return nil
}

// AddProfile ...
func (r *Router) AddProfile(method, href, desc string) {
	r.ProfileDescriptions = append(r.ProfileDescriptions, &Profile{
		Name: method + " " + href,
		Href: href,
		Desc: desc,
	})
}

// AddRoutes applies list of routes
func (r *Router) AddRoutes(apiGroup string, routes []*Route) {
	klog.V(3).Infof("load apiGroup:%s", apiGroup)
	for _, route := range routes {
		switch route.Method {
		case "GET":
			r.GET(route.Path, route.Handler)
		case "POST":
			r.POST(route.Path, route.Handler)
		case "DELETE":
			r.DELETE(route.Path, route.Handler)
		case "Any":
			r.Any(route.Path, route.Handler)
		default:
			klog.Warningf("no method:%s apiGroup:%s", route.Method, apiGroup)
			continue
		}
		if route.Desc != "" {
			r.AddProfile(route.Method, route.Path, route.Desc)
		}
	}

	r.Routes[apiGroup] = append(r.Routes[apiGroup], routes...)

	if apiGroup == "health" {
		r.AddProfile("GET", LivePath, `liveness check: <br/>
			<a href="/live?full=true"> query the full body`)
		r.AddProfile("GET", ReadyPath, `readyness check:  <br/>
			<a href="/ready?full=true"> query the full body`)
	}
}

// all incoming requests are passed through this handler
func (r *Router) masterHandler(c *gin.Context) {
	klog.V(4).Infof("no router for method:%s, url:%s", c.Request.Method, c.Request.URL.Path)
	c.JSON(http.StatusNotFound, gin.H{
		"Method": c.Request.Method,
		"Path":   c.Request.URL.Path,
		"error":  "router not found"})
}

// IndexHandler ...
func (r *Router) IndexHandler(c *gin.Context) {
	var b bytes.Buffer
	if err := indexTmpl.Execute(&b, r.ProfileDescriptions); err != nil {
		c.String(http.StatusInternalServerError, err.Error())
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", b.Bytes())
}

// VersionHandler ...
func VersionHandler(c *gin.Context) {
	c.JSON(http.StatusOK, version.GetVersion())
}

// DefaultRoutes ...
func (r *Router) DefaultRoutes() []*Route {
	return []*Route{
		{"GET", "/", r.IndexHandler, ""},
		{"GET", VersionPath, VersionHandler, `version describe: <br/>
			<a href="/version"> query version info`},
	}
}

var indexTmpl = template.Must(template.New("index").Parse(`<!DOCTYPE html><html>
<head>
<title>dubbo-registry</title>
<style>
.profile-name{
	display:inline-block;
	width:6rem;
}
</style>
</head>
<body>
Things to do:
{{range .}}
<h2><a href={{.Href}}>{{.Name}}</a></h2>
<p>
{{.Desc}}
</p>
{{end}}
</body>
</html>
`))
