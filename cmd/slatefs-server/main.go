// slatefs export server.
//
// Serves a local directory tree read-only over HTTP for slatefs-mount
// clients, with JWT auth, Prometheus metrics, and structured logging.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/slatefs/slatefs/internal/auth"
	"github.com/slatefs/slatefs/internal/config"
	"github.com/slatefs/slatefs/internal/export"
	"github.com/slatefs/slatefs/internal/logging"
)

func main() {
	cfg, err := config.LoadServer()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	if fi, err := os.Stat(cfg.ExportRoot); err != nil || !fi.IsDir() {
		logging.Fatal("export root is not a directory", zap.String("root", cfg.ExportRoot), zap.Error(err))
	}

	logging.Info("slatefs server starting",
		zap.String("listen", cfg.ListenAddr),
		zap.String("root", cfg.ExportRoot))

	a := auth.New(cfg.JWTSecret, cfg.AuthUser, cfg.AuthPassword, cfg.TokenTTL)
	srv := export.NewServer(cfg.ExportRoot, a)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpServer.Shutdown(ctx)
	}()

	if cfg.TLSCertFile != "" && cfg.TLSKeyFile != "" {
		logging.Info("serving HTTPS")
		err = httpServer.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
	} else {
		err = httpServer.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		logging.Fatal("server failed", zap.Error(err))
	}
	logging.Info("server stopped")
}
