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

// Package server provides the HTTP transport for the subnetguard webhook:
// the /validate admission endpoint, health probes, and metrics serving.
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	v1 "k8s.io/api/admission/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/serializer"
	logf "sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/webhook/admission"

	guardwebhook "github.com/ahoma/subnetguard/pkg/webhook"
)

// requestTimeout bounds the processing of one admission call; the calling
// API server applies its own, typically shorter, timeout.
const requestTimeout = 30 * time.Second

// WebhookServer serves the validating admission endpoint over HTTPS.
type WebhookServer struct {
	handler *guardwebhook.ValidationHandler
	scheme  *runtime.Scheme

	certPath string
	keyPath  string
	port     int

	mu          sync.RWMutex
	certificate *tls.Certificate
}

// WebhookServerConfig contains configuration for the webhook server.
type WebhookServerConfig struct {
	Port     int
	CertPath string
	KeyPath  string
}

// NewWebhookServer creates a new webhook server around the validation
// handler.
func NewWebhookServer(config WebhookServerConfig, handler *guardwebhook.ValidationHandler, scheme *runtime.Scheme) *WebhookServer {
	return &WebhookServer{
		handler:  handler,
		scheme:   scheme,
		certPath: config.CertPath,
		keyPath:  config.KeyPath,
		port:     config.Port,
	}
}

// ValidateHandler implements the /validate webhook endpoint.
func (w *WebhookServer) ValidateHandler(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "failed to read request body",
			"code":  "INVALID_REQUEST_BODY",
		})
		return
	}

	var admissionReview v1.AdmissionReview
	if err := w.deserializeAdmissionRequest(body, &admissionReview); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "failed to deserialize admission request",
			"code":    "INVALID_ADMISSION_REQUEST",
			"details": err.Error(),
		})
		return
	}

	if admissionReview.Request == nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "admission request is nil",
			"code":  "EMPTY_ADMISSION_REQUEST",
		})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	response := w.handleValidation(ctx, admissionReview.Request)
	w.sendAdmissionResponse(c, response)
}

// handleValidation runs the admission engine for one request.
func (w *WebhookServer) handleValidation(ctx context.Context, req *v1.AdmissionRequest) *v1.AdmissionResponse {
	if w.handler == nil {
		return &v1.AdmissionResponse{
			UID:     req.UID,
			Allowed: true,
			Result: &metav1.Status{
				Message: "validation handler not configured",
			},
		}
	}

	response := w.handler.Handle(ctx, admission.Request{AdmissionRequest: *req})

	return &v1.AdmissionResponse{
		UID:     req.UID,
		Allowed: response.Allowed,
		Result:  response.Result,
	}
}

// sendAdmissionResponse sends the admission response back to Kubernetes.
func (w *WebhookServer) sendAdmissionResponse(c *gin.Context, response *v1.AdmissionResponse) {
	admissionReview := v1.AdmissionReview{
		TypeMeta: metav1.TypeMeta{
			APIVersion: "admission.k8s.io/v1",
			Kind:       "AdmissionReview",
		},
		Response: response,
	}

	c.Header("Content-Type", "application/json")
	c.JSON(http.StatusOK, admissionReview)
}

// deserializeAdmissionRequest deserializes the admission request from JSON.
func (w *WebhookServer) deserializeAdmissionRequest(body []byte, review *v1.AdmissionReview) error {
	codecs := serializer.NewCodecFactory(w.scheme)
	deserializer := codecs.UniversalDeserializer()

	_, _, err := deserializer.Decode(body, nil, review)
	return err
}

// SetupRoutes configures the webhook routes on the given Gin router.
func (w *WebhookServer) SetupRoutes(router *gin.Engine) {
	webhook := router.Group("/webhook")
	{
		webhook.POST("/validate", w.ValidateHandler)
	}
	// Also serve at the root path used by the webhook configuration.
	router.POST("/validate", w.ValidateHandler)
}

// setCertificate swaps the serving certificate; called by the certificate
// watcher on reload.
func (w *WebhookServer) setCertificate(cert tls.Certificate) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.certificate = &cert
}

// getCertificate hands the current certificate to the TLS handshake.
func (w *WebhookServer) getCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.certificate == nil {
		return nil, fmt.Errorf("serving certificate not loaded")
	}
	return w.certificate, nil
}

// Run serves the router over TLS until the context is cancelled. The
// certificate is reloaded on file changes without dropping connections.
func (w *WebhookServer) Run(ctx context.Context, router *gin.Engine) error {
	log := logf.Log.WithName("webhook-server")

	cert, err := tls.LoadX509KeyPair(w.certPath, w.keyPath)
	if err != nil {
		return fmt.Errorf("loading serving certificate: %w", err)
	}
	w.setCertificate(cert)

	watcher := NewCertificateWatcher(w.certPath, w.keyPath, w.setCertificate)
	go func() {
		if err := watcher.Start(ctx); err != nil {
			log.Error(err, "Certificate watcher stopped")
		}
	}()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", w.port),
		Handler: router,
		TLSConfig: &tls.Config{
			MinVersion:     tls.VersionTLS13,
			GetCertificate: w.getCertificate,
		},
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting webhook server", "port", w.port)
		errCh <- srv.ListenAndServeTLS("", "")
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
