// Package server exposes an engine over HTTP with gin.
//
//	POST /graphql   GraphQL request: {"query", "operationName", "variables"}
//	GET  /graphql   the same, from query string parameters
//	POST /cascade   {"updated":[{"type","id"}], "deleted":[...]}
//	GET  /healthz   per-target health and pool usage, cache stats
//	GET  /metrics   Prometheus exposition, when a registry is configured
//
// The caller is read from request headers (config.HeaderConfig). The server
// trusts them; put it behind something that authenticates.
package server
