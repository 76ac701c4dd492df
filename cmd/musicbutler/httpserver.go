package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ============================================================================
// HTTP Server
// ============================================================================
// Local status surface: health, metrics, the annotated camera preview and the
// state websocket. Nothing here changes daemon state.
// ============================================================================

type httpDeps struct {
	Snapshots *SnapshotStore
	Preview   *Preview // nil when the preview is disabled
	State     *StateServer
}

func newRouter(deps httpDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(struct {
			Status string        `json:"status"`
			State  StateSnapshot `json:"state"`
		}{Status: "ok", State: deps.Snapshots.Load()})
	})
	r.Handle("/metrics", promhttp.Handler())

	if deps.Preview != nil {
		r.Group(func(r chi.Router) {
			r.Use(previewRateLimit())
			r.Get("/preview.mjpg", deps.Preview.ServeMJPEG)
			r.Get("/preview.jpg", deps.Preview.ServeJPEG)
		})
	}
	if deps.State != nil {
		r.Handle("/ws/state", deps.State)
	}
	return r
}

// previewRateLimit caps preview requests per client IP. Every request costs a
// JPEG encode on the Pi.
func previewRateLimit() func(http.Handler) http.Handler {
	return httprate.Limit(
		previewRequestLimit,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "60")
			http.Error(w, "too many preview requests", http.StatusTooManyRequests)
		}),
	)
}

// runHTTPServer serves handler on listen and shuts down gracefully when ctx is canceled.
func runHTTPServer(ctx context.Context, listen string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              listen,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		// MJPEG streams never finish on their own.
		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
		}
		<-errCh
		return nil

	case err := <-errCh:
		return err
	}
}
