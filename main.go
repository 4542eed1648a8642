package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"realtimesvc/internal/broker"
	"realtimesvc/internal/config"
	"realtimesvc/internal/events"
	"realtimesvc/internal/heartbeat"
	"realtimesvc/internal/http/http_server"
	"realtimesvc/internal/http/opshandler"
	"realtimesvc/internal/locks"
	"realtimesvc/internal/presence"
	"realtimesvc/internal/redis/connmgr"
	"realtimesvc/internal/redis/watcher/presencewatcher"
	"realtimesvc/internal/ws"
)

var (
	Log, _ = zap.NewDevelopment()
)

func main() {
	defer Log.Sync()
	zap.ReplaceGlobals(Log)

	// 1. Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		Log.Fatal("Failed to load configuration", zap.Error(err))
	}
	if cfg.ServerID == "" {
		cfg.ServerID = uuid.NewString()
	}
	Log.Debug("Configuration loaded successfully", zap.Any("config", cfg))

	// 2. Context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGINT, syscall.SIGTERM,
	)
	defer stop()

	// 3. Redis: one command connection, one subscriber connection
	mgr := connmgr.New(connmgr.Options{
		Host:            cfg.RedisHost,
		Port:            cfg.RedisPort,
		ConnectAttempts: cfg.ConnectAttempts,
		BackoffStep:     cfg.ConnectBackoffStep,
		BackoffCap:      cfg.ConnectBackoffCap,
	}, Log)
	if err := mgr.Connect(ctx); err != nil {
		Log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer mgr.Close()
	mgr.Watch(ctx, cfg.HeartbeatInterval)

	// 4. Message broker over the subscriber connection
	msgBroker := broker.New(ctx, mgr, Log)
	defer msgBroker.Close()

	// 5. Presence + locks on the command connection
	tracker := presence.NewTracker(mgr.Command(), cfg.PresenceTTL, Log)
	lockMgr := locks.NewManager(mgr.Command(), cfg.LockTTL, cfg.LockTTLMax, Log)

	// 6. WebSocket gateway + transport
	gateway := ws.NewGateway(Log)
	wsSrv := ws.NewServer(gateway, tracker, lockMgr, Log)

	// 7. Event handlers: broker channels ➜ room broadcasts
	alertsHandler := events.NewAlertsHandler(msgBroker, gateway, Log)
	handlers := []interface {
		Initialize() error
		Shutdown()
	}{
		events.NewSessionHandler(msgBroker, gateway, Log),
		events.NewAnalyticsHandler(msgBroker, gateway, Log),
		alertsHandler,
		events.NewMonitorHandler(msgBroker, gateway, Log),
	}
	for _, h := range handlers {
		if err := h.Initialize(); err != nil {
			Log.Fatal("Failed to initialize event handler", zap.Error(err))
		}
		defer h.Shutdown()
	}

	// 8. Background: presence key-expiry pruner + server heartbeat
	go presencewatcher.Run(ctx, mgr.Subscriber(), mgr.Command(), Log)
	heartbeat.New(mgr.Command(), cfg.ServerID, gateway, alertsHandler, cfg.HeartbeatInterval, Log).Run(ctx)

	// 9. HTTP + WS server
	ops := opshandler.New(mgr, tracker, lockMgr)
	httpServer := http_server.NewHttpServer(ctx, cfg.HttpServerPort, wsSrv, ops)

	go func() {
		<-ctx.Done()
		_ = httpServer.Dispose()
	}()

	if err := httpServer.Start(); err != nil {
		Log.Warn("HTTP server stopped", zap.Error(err))
	}
}
