package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopstream/opstrack/internal/cms"
	"github.com/shopstream/opstrack/internal/config"
	"github.com/shopstream/opstrack/internal/httpapi"
	"github.com/shopstream/opstrack/internal/notify"
	"github.com/shopstream/opstrack/internal/tabular"
	"github.com/shopstream/opstrack/internal/tracker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("configuration: %v", err)
	}

	store, err := tabular.BuildStoreFromDSN(cfg.StoreDSN, tabular.FactoryOptions{
		SheetsToken:   cfg.SheetsToken,
		SpreadsheetID: cfg.SpreadsheetID,
		UserAgent:     "opstrack",
	})
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer store.Close()

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 10*time.Second)
	if err := store.Ping(pingCtx); err != nil {
		cancelPing()
		log.Fatalf("store unreachable: %v", err)
	}
	cancelPing()

	rules, err := config.NewRulesWatcher(cfg.AlertRulesFile)
	if err != nil {
		log.Fatalf("alert rules: %v", err)
	}
	defer rules.Close()

	dispatcher, err := notify.NewSMTPDispatcher(notify.SMTPOptions{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		To:       cfg.SMTPTo,
	})
	if err != nil {
		log.Fatalf("smtp: %v", err)
	}

	cmsClient, err := cms.NewClient(cms.ClientOptions{
		BaseURL:  cfg.CMSBaseURL,
		Token:    cfg.CMSToken,
		PageSize: cfg.SyncBatchSize,
	})
	if err != nil {
		log.Fatalf("cms: %v", err)
	}

	events := tracker.NewEventLog(0)
	orders := tracker.NewOrderTracker(store, dispatcher, rules, cmsClient, events)
	inventory := tracker.NewInventoryTracker(store, dispatcher, rules, cmsClient, events)
	support := tracker.NewSupportTracker(store, dispatcher, rules, events)
	journeys := tracker.NewJourneyTracker(store, events)
	bi := tracker.NewBusinessIntelligence(store, events)

	scheduler := tracker.NewScheduler(orders, inventory, support, journeys, bi, tracker.SchedulerOptions{
		Interval: cfg.SyncInterval,
	})
	scheduler.Start()
	defer scheduler.Stop()

	handler, err := httpapi.NewServer(httpapi.Trackers{
		Orders:    orders,
		Inventory: inventory,
		Support:   support,
		Journeys:  journeys,
	}, events, httpapi.ServerConfig{
		WebhookSecret: cfg.WebhookSecret,
		MaxBodyBytes:  cfg.MaxBodyBytes,
	})
	if err != nil {
		log.Fatalf("server: %v", err)
	}

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Printf("opstrack listening on %s", cfg.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Printf("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server failed: %v", err)
		}
	}
}
