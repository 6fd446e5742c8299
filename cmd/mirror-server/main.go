package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"novelhub/internal/app"
	"novelhub/internal/fetch"
	"novelhub/internal/mirror"
	"novelhub/internal/notify"
	synchub "novelhub/internal/sync"
	"novelhub/pkg/utils"
)

func main() {
	configPath := flag.String("config", "", "config file (default $NOVELHUB_CONFIG or ~/.novelhub/config.toml)")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	cfg, err := utils.LoadConfig(*configPath)
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Log, *verbose)
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("mirror-server failed", zap.Error(err))
	}
}

func run(cfg utils.Config, logger *zap.Logger) error {
	a, err := app.Open(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Log.Format == "json" {
		gin.SetMode(gin.ReleaseMode)
	}

	hub := synchub.NewHub(logger.Named("sync"))
	defer hub.Close()
	tcpSrv := synchub.NewServer(cfg.Mirror.TCPAddr, hub, logger)
	udpSrv := notify.NewServer(cfg.Mirror.UDPAddr, notify.NewRegistry(), logger)

	// No operator is attached, so every merge is declined.
	orch := a.Orchestrator(nil)
	orch.Observer = fetch.Observers{hub, udpSrv}

	defaults, err := a.FetchOptions()
	if err != nil {
		return err
	}
	handler := mirror.NewHandler(a.Store, orch, defaults, logger.Named("mirror"))
	router := mirror.NewRouter(handler, hub, a.Tokens())
	router.GET("/ready", func(c *gin.Context) {
		stats := hub.Stats()
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := a.DB.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "db_error": err.Error(), "subscribers": stats})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready", "db": "ok", "subscribers": stats})
	})

	httpSrv := &http.Server{
		Addr:              cfg.Mirror.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 3)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := tcpSrv.Run(ctx); err != nil {
			errCh <- err
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := udpSrv.Run(ctx); err != nil {
			errCh <- err
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("HTTP mirror listening", zap.String("addr", cfg.Mirror.Addr), zap.String("store", cfg.Store.Path))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case runErr = <-errCh:
		logger.Error("server error", zap.Error(runErr))
	}
	stop()

	logger.Info("shutting down servers")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}

	wg.Wait()
	logger.Info("servers stopped")
	return runErr
}
