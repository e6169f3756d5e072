package main

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/prajwalbharadwajbm/bidbeacon/internal/endpoint"
	"github.com/prajwalbharadwajbm/bidbeacon/internal/middleware"
	"github.com/prajwalbharadwajbm/bidbeacon/internal/transport"
)

// routes builds the HTTP handler with request ids and metrics on every route
func (a *app) routes() http.Handler {
	checks := map[string]transport.HealthCheck{
		"ledger": a.ledger.Ping,
	}
	if a.db != nil {
		checks["database"] = a.db.HealthCheck
	}
	if a.redis != nil {
		checks["redis"] = func(ctx context.Context) error { return a.redis.Ping(ctx).Err() }
	}

	return transport.NewHTTPHandler(
		endpoint.MakeAdEndpoints(a.ad),
		endpoint.MakeLifecycleEndpoints(a.lifecycle),
		transport.Options{
			Service: serviceName,
			Version: a.cfg.General.Version,
			Checks:  checks,
			Health:  a.metrics,
			Middlewares: []mux.MiddlewareFunc{
				middleware.NewRequestIDMiddleware().Middleware,
				middleware.NewMetricsMiddleware(a.metrics).Middleware,
			},
			Metrics: promhttp.Handler(),
			Logger:  a.logger,
		},
	)
}
