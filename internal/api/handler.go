// Package api exposes the HTTP surface: application lifecycle, message
// execution, reversal, and the operational endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/schemachat/schemachat/internal/config"
	"github.com/schemachat/schemachat/internal/observability"
	"github.com/schemachat/schemachat/internal/registry"
)

type ReadinessCheck func(ctx context.Context) error

// TableProvisioner creates the physical storage behind an application's
// tables. Foreign keys are added in a second pass over all tables so
// creation order does not matter.
type TableProvisioner interface {
	Provision(ctx context.Context, handle *registry.Handle) error
	AddForeignKeys(ctx context.Context, handle *registry.Handle) error
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	DependencyTimeout time.Duration
	Catalog           ApplicationCatalog
	Provisioner       TableProvisioner
	Registry          *registry.Registry
	Messages          MessageService
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	mux.HandleFunc("POST /v1/applications", func(w http.ResponseWriter, r *http.Request) {
		handleCreateApplication(deps, w, r)
	})
	mux.HandleFunc("GET /v1/applications/{name}", func(w http.ResponseWriter, r *http.Request) {
		handleGetApplication(deps, w, r)
	})
	mux.HandleFunc("POST /v1/messages", func(w http.ResponseWriter, r *http.Request) {
		handleExecuteMessage(deps, w, r)
	})
	mux.HandleFunc("POST /v1/messages/reverse", func(w http.ResponseWriter, r *http.Request) {
		handleReverseMessage(deps, w, r)
	})

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

func CheckMetadataDSN(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.Metadata.DSN == "" {
			return errors.New("metadata dsn is not configured")
		}
		return nil
	}
}

func CheckInferenceConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.Inference.BaseURL == "" {
			return errors.New("inference base url is not configured")
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
