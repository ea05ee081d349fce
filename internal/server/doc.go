// Package server exposes the operational HTTP surface using Echo.
//
// Routes: /healthz (connection + session state) and /metrics
// (Prometheus). The relay has no user-facing HTTP API.
package server
