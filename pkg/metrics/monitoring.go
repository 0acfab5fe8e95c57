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

package metrics

import (
	"net/http"
	"sync"

	ocprom "contrib.go.opencensus.io/exporter/prometheus"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.opencensus.io/plugin/ochttp"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

var (
	// ServerLatencyView ...
	ServerLatencyView = &view.View{
		Name:        "opencensus.io/http/server/latency",
		Description: "Latency distribution of HTTP requests",
		TagKeys:     []tag.Key{ochttp.Path},
		Measure:     ochttp.ServerLatency,
		Aggregation: ochttp.DefaultLatencyDistribution,
	}
	// ServerResponseCountByStatusCode ...
	ServerResponseCountByStatusCode = &view.View{
		Name:        "opencensus.io/http/server/response_count_by_status_code",
		Description: "Server response count by status code",
		TagKeys:     []tag.Key{ochttp.Path, ochttp.StatusCode},
		Measure:     ochttp.ServerLatency,
		Aggregation: view.Count(),
	}
)

// OcPrometheus serves the opencensus views together with the collectors of the default
// prometheus registry, which holds the registry metrics.
type OcPrometheus struct {
	Exporter *ocprom.Exporter
}

var (
	exporterOnce sync.Once
	exporter     *OcPrometheus
	exporterErr  error
)

// NewOcPrometheus returns the process wide exporter, it is created on first use.
func NewOcPrometheus() (*OcPrometheus, error) {
	exporterOnce.Do(func() {
		registry, ok := prometheus.DefaultRegisterer.(*prometheus.Registry)
		if !ok {
			exporterErr = errors.New("the default prometheus registerer is not a registry")
			return
		}

		e, err := ocprom.NewExporter(ocprom.Options{Registry: registry})
		if err != nil {
			exporterErr = errors.Wrap(err, "could not set up prometheus exporter")
			return
		}
		view.RegisterExporter(e)
		exporter = &OcPrometheus{Exporter: e}
	})
	return exporter, exporterErr
}

// ServeHTTP ...
func (p *OcPrometheus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.Exporter.ServeHTTP(w, r)
}

// RegisterGinView registers the views of the admin http server.
func RegisterGinView() error {
	err := view.Register(
		ochttp.ServerRequestCountView,
		ochttp.ServerRequestBytesView,
		ochttp.ServerResponseBytesView,
		ServerLatencyView,
		ochttp.ServerRequestCountByMethod,
		ServerResponseCountByStatusCode,
	)
	return errors.Wrap(err, "register http views")
}
