// Package cmd wires the proxy's top-level modes: the long-running service,
// the interactive login flow, and account management.
package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/aetherbridge/AetherBridge/internal/api"
	"github.com/aetherbridge/AetherBridge/internal/api/handlers"
	"github.com/aetherbridge/AetherBridge/internal/auth"
	"github.com/aetherbridge/AetherBridge/internal/config"
	"github.com/aetherbridge/AetherBridge/internal/fallback"
	"github.com/aetherbridge/AetherBridge/internal/fingerprint"
	"github.com/aetherbridge/AetherBridge/internal/upstream"
	"github.com/aetherbridge/AetherBridge/internal/usage"
	"github.com/aetherbridge/AetherBridge/internal/util"
	"github.com/aetherbridge/AetherBridge/internal/watcher"
)

// StartService runs the proxy until SIGINT or SIGTERM.
func StartService(cfg *config.Config) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := auth.NewTokenStore()
	if err != nil {
		log.Fatalf("failed to open account store: %v", err)
	}

	refreshClient := util.SetProxy(cfg.ProxyURL, &http.Client{Timeout: 30 * time.Second})
	pool, err := auth.NewPool(store, refreshClient)
	if err != nil {
		log.Fatalf("failed to load accounts: %v", err)
	}
	if pool.Len() == 0 {
		log.Warn("no accounts stored; run with --login to authenticate")
	} else {
		log.Infof("loaded %d account(s)", pool.Len())
	}

	fp := fingerprint.Generate()
	log.Debugf("fingerprint: %s quota_user=%s", fp.UserAgent, fp.QuotaUser)

	usageStore, errUsage := usage.Open(filepath.Join(filepath.Dir(store.Path()), "usage.db"))
	if errUsage != nil {
		log.Warnf("usage counters disabled: %v", errUsage)
		usageStore = nil
	}

	orchestrator := fallback.New(pool, usageStore, func(account *auth.Account) *upstream.Client {
		return upstream.NewClient(account, fp, cfg.ProjectID, cfg.ProxyURL)
	})
	orchestrator.SetMaxRotations(cfg.RequestRetry)

	accountWatcher, errWatch := watcher.NewWatcher(store.Path(), func() {
		if errReload := pool.Reload(); errReload != nil {
			log.Errorf("account pool reload failed: %v", errReload)
			return
		}
		log.Infof("account pool reloaded, %d account(s)", pool.Len())
	})
	if errWatch != nil {
		log.Warnf("account hot reload disabled: %v", errWatch)
	} else if errStart := accountWatcher.Start(ctx); errStart != nil {
		log.Warnf("account hot reload disabled: %v", errStart)
	}

	base := handlers.NewBaseHandler(orchestrator, pool, usageStore, cfg)
	server := api.NewServer(cfg, base)

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Infof("received %s, shutting down", sig)
	case errServe := <-errChan:
		if errServe != nil {
			log.Errorf("server failed: %v", errServe)
			if usageStore != nil {
				usageStore.LogSummary()
				_ = usageStore.Close()
			}
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if errStop := server.Stop(shutdownCtx); errStop != nil {
		log.Errorf("graceful shutdown failed: %v", errStop)
	}
	if accountWatcher != nil {
		_ = accountWatcher.Stop()
	}
	if usageStore != nil {
		usageStore.LogSummary()
		_ = usageStore.Close()
	}
}
