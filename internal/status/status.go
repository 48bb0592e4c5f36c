// Package status serves a small read-only HTTP view of the poll loop.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"rpi4-alarm/internal/alarm"
)

// StatsSource provides poll loop counters.
type StatsSource interface {
	Stats() alarm.Stats
}

type statusResponse struct {
	Service string      `json:"service"`
	Name    string      `json:"name"`
	Stats   alarm.Stats `json:"stats"`
}

// NewRouter returns the status routes for the daemon called name.
func NewRouter(name string, src StatsSource) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		jsonResponse(w, http.StatusOK, map[string]string{"status": "ok", "service": "rpi4-alarm"})
	})
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		jsonResponse(w, http.StatusOK, statusResponse{Service: "rpi4-alarm", Name: name, Stats: src.Stats()})
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		errorResponse(w, http.StatusNotFound, "not found")
	})
	return r
}

// Serve listens on addr until ctx is cancelled, then shuts down. The daemon
// only calls it when ALARM_STATUS_ADDR is set; by default there is no
// network listener.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Printf("Status: listening on %s", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data) //nolint: errcheck
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]interface{}{
		"error": message,
		"code":  status,
	})
}
