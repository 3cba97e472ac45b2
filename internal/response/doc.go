// Package response defines the envelope every dispatched request resolves to,
// the status-code reason table, and the constructors route handlers use to
// build JSON, text, buffer, stream and status-only responses. The transport
// layer translates an Envelope into wire headers and body.
package response
