package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/sly67/projconv/internal/logging"
)

const shutdownTimeout = 10 * time.Second

// serveHTTP runs an HTTP server until ctx is done, then shuts it down
// gracefully. onShutdown, if set, runs when shutdown starts.
func serveHTTP(ctx context.Context, name, addr string, handler http.Handler, onShutdown func()) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if onShutdown != nil {
		srv.RegisterOnShutdown(onShutdown)
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info(name+" listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("%s on %s: %w", name, addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Warn(name+" shutdown error", zap.Error(err))
		return err
	}
	logging.Debug(name + " stopped")
	return nil
}
