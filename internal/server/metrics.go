/*
Copyright 2025 The Subnetguard Authors.

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

package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	metricsCollector "github.com/ahoma/subnetguard/pkg/metrics"
)

// MetricsServer serves the Prometheus metrics endpoint.
type MetricsServer struct {
	collector *metricsCollector.Collector
	registry  *prometheus.Registry
	gatherer  prometheus.Gatherer
}

// NewMetricsServer creates a metrics server around the given collector and
// registers the metric set with a dedicated registry.
func NewMetricsServer(collector *metricsCollector.Collector) *MetricsServer {
	registry := prometheus.NewRegistry()

	if collector != nil {
		collector.RegisterMetrics(registry)
		// Also register globally so controller-runtime tooling sees them.
		collector.RegisterMetrics(nil)
	}

	return &MetricsServer{
		collector: collector,
		registry:  registry,
		gatherer:  registry,
	}
}

// MetricsHandler implements the /metrics endpoint in Prometheus exposition
// format.
func (m *MetricsServer) MetricsHandler(c *gin.Context) {
	handler := promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
		Registry:      m.registry,
		Timeout:       30 * time.Second,
	})

	gin.WrapH(handler)(c)
}

// SetupRoutes configures the metrics endpoint on the given Gin router.
func (m *MetricsServer) SetupRoutes(router *gin.Engine) {
	router.GET("/metrics", m.MetricsHandler)
}
