// Package main is the entry point for the Lumina controller backend.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/lumina-control/backend/internal/access"
	"github.com/lumina-control/backend/internal/activity"
	"github.com/lumina-control/backend/internal/api"
	"github.com/lumina-control/backend/internal/auth"
	"github.com/lumina-control/backend/internal/config"
	"github.com/lumina-control/backend/internal/device"
	"github.com/lumina-control/backend/internal/dispatch"
	"github.com/lumina-control/backend/internal/mqttbridge"
	"github.com/lumina-control/backend/internal/reconcile"
	"github.com/lumina-control/backend/internal/registry"
	"github.com/lumina-control/backend/internal/schedule"
	"github.com/lumina-control/backend/internal/storage"
	"github.com/lumina-control/backend/internal/usage"
	"github.com/lumina-control/backend/internal/websocket"
)

// version is set at build time via -ldflags "-X main.version=x.y.z".
// Defaults to "dev" when not provided.
var version = "dev"

func main() {
	addr := flag.String("addr", "", "HTTP server address (overrides config)")
	dataDir := flag.String("data", "", "Data directory for SQLite database (overrides config)")
	staticDir := flag.String("static", "", "Directory for static frontend files (overrides config)")
	configDir := flag.String("config", "", "Extra directory to search for config.yaml")
	healthCheck := flag.Bool("health-check", false, "Run health check and exit")
	flag.Parse()

	var searchDirs []string
	if *configDir != "" {
		searchDirs = append(searchDirs, *configDir)
	}
	cfg, err := config.Load(searchDirs...)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *staticDir != "" {
		cfg.StaticDir = *staticDir
	}

	// Health check mode for Docker HEALTHCHECK
	if *healthCheck {
		if err := runHealthCheck(cfg.Addr); err != nil {
			log.Fatalf("Health check failed: %v", err)
		}
		os.Exit(0)
	}

	if envVer := os.Getenv("VERSION"); envVer != "" {
		version = envVer
	}
	log.Printf("Starting Lumina controller backend (version: %s)...", version)

	tokens, err := auth.NewTokens(cfg.JWTSecret)
	if err != nil {
		log.Fatalf("Invalid JWT secret (set %s_JWT_SECRET): %v", config.EnvPrefix, err)
	}
	location, err := cfg.Location()
	if err != nil {
		log.Fatalf("Invalid timezone: %v", err)
	}

	db, err := storage.Open(cfg.DBPath())
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	log.Println("Database migrations complete")

	hub := websocket.NewHub()
	go hub.Run()
	broadcaster := websocket.NewEventBroadcaster(hub)

	reg := registry.New(storage.NewDeviceRepository(db))
	if err := reg.Load(context.Background()); err != nil {
		log.Fatalf("Failed to load devices: %v", err)
	}
	reg.Subscribe(broadcaster)

	activityLog := activity.New(storage.NewActivityRepository(db), broadcaster, cfg.ActivityCapacity)

	var clientOpts []device.Option
	if cfg.MDNSEnabled {
		resolver, err := device.NewMDNSResolver(cfg.MDNSCacheTTL)
		if err != nil {
			log.Printf("Warning: mDNS disabled: %v", err)
		} else {
			defer resolver.Close()
			clientOpts = append(clientOpts, device.WithResolver(resolver))
		}
	}
	channel := device.NewClient(clientOpts...)

	dispatcher := dispatch.New(reg, channel, activityLog, cfg.CommandTimeout)
	engine := reconcile.New(reg, channel, activityLog, reconcile.Config{
		Interval:      cfg.ProbeInterval,
		Timeout:       cfg.ProbeTimeout,
		MaxConcurrent: cfg.MaxConcurrentProbes,
	})
	scheduler := schedule.New(reg, dispatcher, usage.New(reg), location)

	var (
		bridge     *mqttbridge.Bridge
		mqttClient mqtt.Client
	)
	if cfg.MQTTEnabled() {
		bridge = mqttbridge.NewBridge(reg, dispatcher, access.Actor{
			ID:   cfg.MQTTActorID,
			Name: "MQTT",
			Role: access.RoleSuperAdmin,
		})
		reg.Subscribe(bridge)
		_, mqttClient, err = mqttbridge.Connect(mqttbridge.BrokerConfig{
			Broker:      cfg.MQTTBroker,
			ClientID:    cfg.MQTTClientID,
			Username:    cfg.MQTTUsername,
			Password:    cfg.MQTTPassword,
			TopicPrefix: cfg.MQTTTopicPrefix,
		}, func(m mqttbridge.Manager) {
			if err := bridge.Attach(m); err != nil {
				log.Printf("Failed to attach MQTT bridge: %v", err)
			}
		})
		if err != nil {
			log.Printf("Warning: MQTT bridge unavailable: %v", err)
		}
	}

	if err := engine.Start(); err != nil {
		log.Fatalf("Failed to start reconciliation engine: %v", err)
	}
	if err := scheduler.Start(); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	router := api.NewRouter(api.Services{
		DB:        db,
		Hub:       hub,
		Registry:  reg,
		Commands:  dispatcher,
		Prober:    engine,
		Activity:  activityLog,
		Tokens:    tokens,
		Version:   version,
		StaticDir: cfg.StaticDir,
	})

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	engine.Stop()
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	// In-flight device commands finish (or time out) before the store closes.
	dispatcher.Wait()
	if bridge != nil {
		bridge.Wait()
		bridge.Close()
	}
	if mqttClient != nil {
		// also cancels a startup connection still retrying
		mqttClient.Disconnect(250)
	}
	hub.Stop()

	log.Println("Server stopped")
}

// runHealthCheck performs a health check against the running server.
func runHealthCheck(addr string) error {
	resp, err := http.Get("http://localhost" + addr + "/api/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
