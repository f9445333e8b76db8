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

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	admissionv1 "k8s.io/api/admission/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/ahoma/subnetguard/internal/aws"
	"github.com/ahoma/subnetguard/internal/cache"
	"github.com/ahoma/subnetguard/internal/config"
	"github.com/ahoma/subnetguard/internal/server"
	"github.com/ahoma/subnetguard/pkg/metrics"
	guardwebhook "github.com/ahoma/subnetguard/pkg/webhook"
)

var (
	// Build-time variables
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		configFile  = flag.String("config", "", "Path to the configuration file.")
		showVersion = flag.Bool("version", false, "Show version information and exit.")
	)

	flag.Parse()

	if *showVersion {
		fmt.Printf("Subnetguard Webhook\n")
		fmt.Printf("Version: %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Build Date: %s\n", buildDate)
		os.Exit(0)
	}

	loader := config.NewConfigurationLoader()
	cfg, err := loader.LoadConfiguration(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	opts := zap.Options{
		Development: cfg.Logging.Development || cfg.Logging.Level == "debug",
	}
	logger := zap.New(zap.UseFlagOptions(&opts))
	ctrl.SetLogger(logger)

	setupLog := logger.WithName("setup")
	setupLog.Info("Starting Subnetguard webhook",
		"version", version,
		"commit", commit,
		"buildDate", buildDate,
		"port", cfg.Webhook.Port,
		"region", cfg.AWS.Region,
		"threshold-percent", cfg.Throttle.ThresholdPercent,
		"cache-ttl", cfg.Throttle.CacheTTL,
		"dry-run", cfg.Throttle.DryRun,
		"fail-open", cfg.Throttle.FailOpen,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	provider, err := aws.NewSubnetProvider(ctx, cfg.AWS.Region, cfg.AWS.DescribeTimeout)
	if err != nil {
		setupLog.Error(err, "failed to create subnet provider")
		os.Exit(1)
	}
	usageCache := cache.New(provider, cfg.Throttle.CacheTTL)

	// Cluster access is optional. Without it NodeClaims that reference an
	// EC2NodeClass cannot be resolved, but direct subnet selectors still
	// work.
	var (
		resolver   guardwebhook.NodeClassResolver
		kubeClient kubernetes.Interface
	)
	if restConfig, err := ctrl.GetConfig(); err != nil {
		setupLog.Info("Running without cluster access, node class resolution disabled", "reason", err.Error())
	} else {
		clusterClient, err := client.New(restConfig, client.Options{})
		if err != nil {
			setupLog.Error(err, "failed to create cluster client")
			os.Exit(1)
		}
		resolver = guardwebhook.NewClusterNodeClassResolver(clusterClient)

		kubeClient, err = kubernetes.NewForConfig(restConfig)
		if err != nil {
			setupLog.Error(err, "failed to create kubernetes clientset")
			os.Exit(1)
		}
	}

	collector := metrics.NewCollector()
	handler := guardwebhook.NewValidationHandler(
		usageCache,
		guardwebhook.NewRequestParser(resolver),
		collector,
		guardwebhook.ValidationConfig{
			ThresholdPercent: cfg.Throttle.ThresholdPercent,
			DryRun:           cfg.Throttle.DryRun,
			FailOpen:         cfg.Throttle.FailOpen,
		},
	)

	scheme := runtime.NewScheme()
	if err := admissionv1.AddToScheme(scheme); err != nil {
		setupLog.Error(err, "failed to register admission types")
		os.Exit(1)
	}

	webhookServer := server.NewWebhookServer(server.WebhookServerConfig{
		Port:     cfg.Webhook.Port,
		CertPath: cfg.Webhook.CertPath,
		KeyPath:  cfg.Webhook.KeyPath,
	}, handler, scheme)
	healthChecker := server.NewHealthChecker(kubeClient)
	metricsServer := server.NewMetricsServer(collector)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	webhookServer.SetupRoutes(router)
	healthChecker.SetupRoutes(router)
	metricsServer.SetupRoutes(router)

	setupLog.Info("Starting webhook server")
	if err := webhookServer.Run(ctx, router); err != nil {
		setupLog.Error(err, "webhook server failed")
		os.Exit(1)
	}

	setupLog.Info("Webhook stopped")
}
