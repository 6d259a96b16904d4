// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the application.
const (
	// HTTP attributes
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"
	HTTPURLKey        = "http.url"

	// Media attributes
	MediaFileKey   = "media.file"
	MediaSourceKey = "media.source"
	MediaBytesKey  = "media.bytes"

	// Bulk download attributes
	BulkVersionKey     = "bulk.version"
	BulkUserTypeKey    = "bulk.user_type"
	BulkTotalKey       = "bulk.total"
	BulkConcurrencyKey = "bulk.concurrency"

	// Session attributes
	SessionIDKey = "session.id"
	SessionRole  = "session.role"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route, url string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.String(HTTPURLKey, url),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// MediaAttributes describes a single media resolution. Empty source is omitted.
func MediaAttributes(file, source string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String(MediaFileKey, file)}
	if source != "" {
		attrs = append(attrs, attribute.String(MediaSourceKey, source))
	}
	return attrs
}

// BulkAttributes describes a bulk pre-fetch run.
func BulkAttributes(version, userType string, total, concurrency int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(BulkVersionKey, version),
		attribute.String(BulkUserTypeKey, userType),
		attribute.Int(BulkTotalKey, total),
		attribute.Int(BulkConcurrencyKey, concurrency),
	}
}

// SessionAttributes identifies a bus participant.
func SessionAttributes(sessionID, role string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(SessionIDKey, sessionID),
		attribute.String(SessionRole, role),
	}
}

// ErrorAttributes marks a span as failed with a coarse error class.
func ErrorAttributes(errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
