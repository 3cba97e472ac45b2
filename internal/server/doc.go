// Package server hosts the Fiber HTTP service that fronts the dispatch pipeline.
// NewApp attaches recover, request-id, CORS and origin-guard middlewares, then
// forwards every request outside /-/ to a Dispatcher and writes the returned
// envelope (status, headers, disposition, JSON/text/binary or streamed body).
// Diagnostics endpoints live in the routes subpackage.
package server
