package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/seractech/planwatch/internal/api"
	"github.com/seractech/planwatch/internal/app"
)

// startListener serves the operational API on addr in the background. The
// returned func shuts it down.
func startListener(a *app.App, addr string) func() {
	logger := a.Logger()
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewServer(a.Ready, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("http listener starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http listener failed", zap.Error(err))
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("http listener shutdown", zap.Error(err))
		}
	}
}
