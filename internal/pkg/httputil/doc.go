// Package httputil provides shared HTTP response/request utilities for handlers.
//
// Handler files use these helpers instead of writing raw http.ResponseWriter
// calls, keeping JSON formatting, error envelopes, and logging consistent
// across all endpoints.
package httputil
