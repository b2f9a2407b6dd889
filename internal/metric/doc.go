// Package metric wraps a Prometheus registry shared by the cache, engine and
// HTTP server.
package metric
