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
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"k8s.io/client-go/kubernetes"
)

// HealthChecker provides liveness and readiness endpoints for the webhook.
type HealthChecker struct {
	kubeClient kubernetes.Interface
	startTime  time.Time

	mu              sync.RWMutex
	unhealthyReason string
	notReadyReason  string
	providerDown    bool
}

// NewHealthChecker creates a health checker. The Kubernetes client is
// optional; without it the cluster API check reports as skipped.
func NewHealthChecker(kubeClient kubernetes.Interface) *HealthChecker {
	return &HealthChecker{
		kubeClient: kubeClient,
		startTime:  time.Now(),
	}
}

// HealthzHandler implements the /healthz endpoint. It reports liveness: the
// process is up and has not been marked unhealthy.
func (h *HealthChecker) HealthzHandler(c *gin.Context) {
	h.mu.RLock()
	unhealthyReason := h.unhealthyReason
	h.mu.RUnlock()

	uptime := time.Since(h.startTime)

	if unhealthyReason != "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"reason": unhealthyReason,
			"uptime": uptime.String(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"uptime": uptime.String(),
	})
}

// ReadyzHandler implements the /readyz endpoint. Ready means the webhook can
// serve decisions: the cluster API is reachable and the subnet provider has
// not been marked down.
func (h *HealthChecker) ReadyzHandler(c *gin.Context) {
	h.mu.RLock()
	notReadyReason := h.notReadyReason
	providerDown := h.providerDown
	h.mu.RUnlock()

	checks := make(map[string]string)
	ready := true

	if notReadyReason != "" {
		checks["manual-check"] = fmt.Sprintf("not ready: %s", notReadyReason)
		ready = false
	}

	if providerDown {
		checks["subnet-provider"] = "marked unavailable"
		ready = false
	} else {
		checks["subnet-provider"] = "ok"
	}

	if h.kubeClient == nil {
		checks["kubernetes-api"] = "skipped (no client)"
	} else if _, err := h.kubeClient.Discovery().ServerVersion(); err != nil {
		checks["kubernetes-api"] = fmt.Sprintf("failed: %v", err)
		ready = false
	} else {
		checks["kubernetes-api"] = "ok"
	}

	status := "ready"
	statusCode := http.StatusOK
	if !ready {
		status = "not ready"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"status": status,
		"checks": checks,
		"uptime": time.Since(h.startTime).String(),
	})
}

// SetUnhealthy marks the process unhealthy.
func (h *HealthChecker) SetUnhealthy(reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unhealthyReason = reason
}

// ClearUnhealthy clears the unhealthy state.
func (h *HealthChecker) ClearUnhealthy() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unhealthyReason = ""
}

// SetNotReady marks the webhook not ready.
func (h *HealthChecker) SetNotReady(reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.notReadyReason = reason
}

// ClearNotReady clears the not-ready state.
func (h *HealthChecker) ClearNotReady() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.notReadyReason = ""
}

// SetProviderUnavailable marks the subnet provider as down.
func (h *HealthChecker) SetProviderUnavailable() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.providerDown = true
}

// ClearProviderUnavailable clears the provider-down state.
func (h *HealthChecker) ClearProviderUnavailable() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.providerDown = false
}

// SetupRoutes configures the health endpoints on the given Gin router.
func (h *HealthChecker) SetupRoutes(router *gin.Engine) {
	router.GET("/healthz", h.HealthzHandler)
	router.GET("/readyz", h.ReadyzHandler)
}
