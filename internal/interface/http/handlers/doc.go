// Package handlers contains reusable HTTP building blocks: health checks
// and middleware.
//
// # Health Checks
//
// Checks run in parallel, each under its own timeout. Critical checks
// decide liveness; optional ones only readiness:
//
//	checker := handlers.NewCompositeHealthChecker("v0.1.0")
//	checker.AddCheck("postgres", handlers.NewPingCheck(conn))
//	checker.AddOptionalCheck("redis", handlers.NewPingCheck(cache))
//	checker.AddOptionalCheck("payload_sink_breaker", handlers.NewBreakerCheck(publish.Breaker()))
//
// # Middleware
//
//	auth := handlers.NewAPIKeyAuth("X-API-Key", keys)
//	h := handlers.ChainHandler(ingest,
//	    handlers.SecurityHeadersMiddleware,
//	    handlers.RequestSizeLimitMiddleware(1<<20),
//	    auth.Middleware,
//	)
package handlers
