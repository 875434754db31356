package http_server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"collabrelay/internal/config"
	"collabrelay/internal/ws"
)

type httpServer struct {
	cfg      *config.Config
	srv      http.Server
	ln       net.Listener
	wsSrv    *ws.WsServer
	registry *ws.RoomManager
	ctx      context.Context
}

func NewHttpServer(ctx context.Context, cfg *config.Config, wsSrv *ws.WsServer, registry *ws.RoomManager) *httpServer {
	return &httpServer{
		cfg:      cfg,
		wsSrv:    wsSrv,
		registry: registry,
		ctx:      ctx,
	}
}

func (h *httpServer) Start() error {
	listenAddr := fmt.Sprintf(":%d", h.cfg.HttpServerPort)

	// A restarting process can race its predecessor for the port; retry
	// a bounded number of times before giving up for good.
	var err error
	for attempt := 0; ; attempt++ {
		h.ln, err = net.Listen("tcp", listenAddr)
		if err == nil {
			break
		}
		if !errors.Is(err, syscall.EADDRINUSE) || attempt >= h.cfg.BindRetries {
			return err
		}
		zap.L().Warn("http_bind_retry",
			zap.String("addr", listenAddr),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
		time.Sleep(h.cfg.BindRetryDelay())
	}

	routerEngine := gin.New()
	routerEngine.Use(ginzap.RecoveryWithZap(zap.L(), true))

	// websocket endpoint
	routerEngine.GET("/ws", h.wsSrv.Handle)

	routerEngine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	routerEngine.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"rooms":   h.registry.Count(),
			"clients": h.registry.TotalClients(),
		})
	})

	h.srv = http.Server{
		Handler: routerEngine,
	}

	return h.srv.Serve(h.ln)
}

// Dispose gracefully shuts the HTTP server down: the listener closes,
// live connections finish their in-flight writes, and after 10 s the
// remainder is abandoned.
func (h *httpServer) Dispose() error {
	// h.ctx is already canceled by the time the signal handler calls
	// Dispose, so the drain deadline hangs off Background instead.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := h.srv.Shutdown(ctx); err != nil {
		zap.L().Error("http_dispose", zap.Error(err))
		return err
	}
	return nil
}
