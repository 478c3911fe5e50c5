// Package server implements the HTTP API of the tollgate engine
//
// This package provides REST endpoints for starting, inspecting, resuming,
// and cancelling executions, for resolving callbacks, a Slack interaction
// webhook, and a WebSocket stream of execution state
package server
