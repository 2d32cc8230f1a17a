// Package httpmw provides HTTP middleware for the admin API server.
//
// httpserver.NewHandler composes it outermost first: security headers,
// panic recovery, request ID, client IP extraction, rate limiting, OTEL
// tracing, trace response headers, metrics, request scoped logging, then
// the chi router with route annotation, access logging and body limits.
//
// Request bodies and credentials are never logged. Query strings are logged
// as received since the admin API carries no secrets in them.
package httpmw
