// Package httputil provides shared JSON response and request helpers for the
// telemetry API handlers, so every endpoint answers with the same envelope.
package httputil
