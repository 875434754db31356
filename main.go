package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"collabrelay/internal/config"
	"collabrelay/internal/document"
	"collabrelay/internal/http/http_server"
	"collabrelay/internal/ws"
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
	Log.Debug("Configuration loaded successfully", zap.Any("config", cfg))

	// 2. Context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGINT, syscall.SIGTERM,
	)
	defer stop()

	// 3. Room registry; passed explicitly into the servers rather than
	// living as package state. Rooms get a fresh update-log document.
	registry := ws.NewRoomManager(document.NewUpdateLog)

	// 4. WebSocket connection server
	wsSrv := ws.NewWsServer(ctx, registry, cfg.MaxMessageSize, cfg.RateLimitPerIP)

	// 5. HTTP + WS server
	httpServer := http_server.NewHttpServer(ctx, cfg, wsSrv, registry)

	go func() {
		<-ctx.Done()
		Log.Info("shutting down")
		if err := httpServer.Dispose(); err != nil {
			Log.Error("shutdown", zap.Error(err))
		}
		registry.CloseAll()
	}()

	Log.Info("relay starting", zap.Uint16("port", cfg.HttpServerPort))
	if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		Log.Fatal("Failed to start HTTP server", zap.Error(err))
	}
}
