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
	"context"
	"crypto/tls"
	"crypto/x509"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
	logf "sigs.k8s.io/controller-runtime/pkg/log"
)

// reloadDebounce coalesces the burst of filesystem events produced when the
// kubelet rewrites a mounted secret.
const reloadDebounce = 100 * time.Millisecond

// CertificateWatcher reloads the serving key pair when either file changes,
// so rotated certificates are picked up without a restart.
type CertificateWatcher struct {
	certPath string
	keyPath  string
	onReload func(tls.Certificate)
}

// NewCertificateWatcher creates a new certificate watcher.
func NewCertificateWatcher(certPath, keyPath string, onReload func(tls.Certificate)) *CertificateWatcher {
	return &CertificateWatcher{
		certPath: certPath,
		keyPath:  keyPath,
		onReload: onReload,
	}
}

// Start blocks until the context is cancelled or the underlying watcher
// fails. Kubernetes mounts secrets through symlinked directories, so the
// parent directory is watched rather than the files themselves.
func (cw *CertificateWatcher) Start(ctx context.Context) error {
	log := logf.Log.WithName("cert-watcher")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(cw.certPath)); err != nil {
		return err
	}
	if keyDir := filepath.Dir(cw.keyPath); keyDir != filepath.Dir(cw.certPath) {
		if err := watcher.Add(keyDir); err != nil {
			return err
		}
	}

	log.Info("Watching serving certificate", "cert-path", cw.certPath, "key-path", cw.keyPath)

	debounce := time.NewTimer(0)
	if !debounce.Stop() {
		<-debounce.C
	}
	pending := false

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if event.Name != cw.certPath && event.Name != cw.keyPath {
				continue
			}
			if !pending {
				pending = true
				debounce.Reset(reloadDebounce)
			}

		case <-debounce.C:
			pending = false
			if err := cw.reload(log); err != nil {
				log.Error(err, "Failed to reload certificate")
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error(err, "Certificate watcher error")

		case <-ctx.Done():
			return nil
		}
	}
}

func (cw *CertificateWatcher) reload(log logr.Logger) error {
	cert, err := tls.LoadX509KeyPair(cw.certPath, cw.keyPath)
	if err != nil {
		return err
	}

	if leaf, err := x509.ParseCertificate(cert.Certificate[0]); err == nil {
		log.Info("Reloaded serving certificate", "not-after", leaf.NotAfter)
	} else {
		log.Info("Reloaded serving certificate")
	}

	if cw.onReload != nil {
		cw.onReload(cert)
	}
	return nil
}
