package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gin-gonic/gin"

	"panelbridge/database"
	"panelbridge/internal/config"
	"panelbridge/internal/microservices/audit"
	"panelbridge/internal/microservices/http-api/handler"
	"panelbridge/internal/microservices/http-api/middleware"
	"panelbridge/internal/microservices/http-api/repository"
	"panelbridge/internal/microservices/http-api/service"
	mqttbridge "panelbridge/internal/microservices/mqtt-bridge"
	"panelbridge/internal/microservices/relay"
	"panelbridge/internal/microservices/tcp"
	"panelbridge/internal/protocol"
	"panelbridge/internal/state"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server_error", "error", err.Error())
		os.Exit(1)
	}
	logger.Info("server_stopped_gracefully")
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	ctx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	store := state.NewStoreFromConfig(cfg)

	hub := relay.NewHub(store, relay.HubOptions{
		EchoMode:      cfg.EchoMode,
		UnknownPolicy: cfg.UnknownPolicy,
		Session: relay.SessionOptions{
			RateLimit:  cfg.SessionRateLimit,
			RateBurst:  cfg.SessionRateBurst,
			SendBuffer: cfg.SessionSendBuffer,
		},
		Logger: logger,
	})

	// Background workers outlive the signal so they can drain what the hub
	// emits while it shuts down.
	workCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	var tokens service.TokenService
	if cfg.PanelJWTSecret != "" {
		tokens = service.NewTokenService(cfg)
	}

	// Everything below registers listeners, so it has to happen before hub.Run
	var waits []func()

	if cfg.StateStore == "redis" {
		persister, err := state.NewRedisPersister(ctx, cfg.RedisAddr(), cfg.RedisPassword, "panelbridge")
		if err != nil {
			return err
		}
		defer persister.Close()

		wb := state.NewWriteBehind(store, persister, 0)
		restored, err := wb.LoadInto(ctx)
		if err != nil {
			logger.Warn("state_restore_failed", "error", err)
		}
		logger.Info("state_store_ready", "backend", "redis", "key", persister.Key(), "restored", restored)

		hub.AddListener(relay.ChangeListenerFunc(func(change state.Change, _ relay.Origin) {
			wb.OnChange(change)
		}))
		go wb.Run(workCtx)
		waits = append(waits, wb.Wait)
	}

	var logs repository.CommandLogRepository
	if cfg.DatabaseURL != "" {
		db, err := database.ConnectDB(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return err
		}
		defer database.Close(db)

		logs = repository.NewCommandLogRepository(db)
		recorder := audit.NewRecorder(logs, audit.Options{Logger: logger})
		hub.AddObserver(recorder)
		go recorder.Run(workCtx)
		waits = append(waits, recorder.Wait)
	}

	if cfg.MQTTBroker != "" {
		bridge := mqttbridge.New(hub, mqttbridge.Options{TopicRoot: cfg.MQTTTopicRoot, QoS: 1, Logger: logger})
		client := mqtt.NewClient(bridge.ClientOptions(cfg.MQTTBroker, cfg.MQTTClientID))
		hub.AddListener(bridge)
		if err := bridge.Start(workCtx, client); err != nil {
			return err
		}
		waits = append(waits, bridge.Wait)
		logger.Info("mqtt_bridge_started", "broker", cfg.MQTTBroker, "topic_root", cfg.MQTTTopicRoot)
	}

	var tcpServer *tcp.TCPServer
	if addr := cfg.TCPListenAddr(); addr != "" {
		tcpOpts := tcp.Options{
			RejectUnknown: cfg.UnknownPolicy == relay.UnknownReject,
			RateLimit:     cfg.SessionRateLimit,
			RateBurst:     cfg.SessionRateBurst,
			SendBuffer:    cfg.SessionSendBuffer,
			Logger:        logger,
		}
		if tokens != nil {
			tcpOpts.Auth = tokens
		}
		tcpServer = tcp.NewServer(addr, hub, tcpOpts)
		hub.AddListener(tcpServer.Manager)
		if err := tcpServer.Listen(); err != nil {
			return err
		}
	}

	defaultCodec, err := protocol.ByName(cfg.DefaultCodec)
	if err != nil {
		return err
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))

	wsOpts := relay.WSHandlerOptions{DefaultCodec: defaultCodec}
	if tokens != nil {
		wsOpts.Auth = tokens
	}
	r.GET(cfg.WSPath, relay.WSHandler(hub, wsOpts))

	handler.Mount(r, handler.Routes{
		Relay:             hub,
		Tokens:            tokens,
		RequirePanelToken: tokens != nil,
		AdminUser:         cfg.AdminUser,
		AdminPasswordHash: cfg.AdminPasswordHash,
		Logs:              logs,
	})

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)

	tcpDone := make(chan struct{})
	if tcpServer != nil {
		go func() {
			defer close(tcpDone)
			tcpServer.Serve(ctx)
		}()
	} else {
		close(tcpDone)
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("starting_relay_server",
			"addr", srv.Addr,
			"ws_path", cfg.WSPath,
			"tls", cfg.TLSEnabled,
			"echo_mode", cfg.EchoMode,
			"unknown_policy", cfg.UnknownPolicy,
			"displays", len(cfg.Displays),
			"admin_routes", cfg.AdminEnabled(),
			"panel_tokens", tokens != nil,
		)
		var err error
		if cfg.TLSEnabled {
			err = srv.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("received_shutdown_signal")
	case runErr = <-errChan:
	}
	cancelRun()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http_shutdown_failed", "error", err)
	}
	<-tcpDone

	// Hijacked WebSocket connections are not closed by Shutdown; stopping
	// the hub closes every session with a close frame.
	stopHub()
	<-hub.Done()

	stopWorkers()
	for _, wait := range waits {
		wait()
	}
	return runErr
}
