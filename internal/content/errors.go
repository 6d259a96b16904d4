// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package content

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// Sentinel errors for errors.Is checks at the boundary.
	ErrNotFound            = errors.New("content: object not found")
	ErrUnauthorized        = errors.New("content: unauthorized")
	ErrUpstreamUnavailable = errors.New("content: backend unreachable or transport failure")
	ErrUpstreamError       = errors.New("content: backend internal error (5xx)")
	ErrBadResponse         = errors.New("content: invalid response format")
	ErrInvalidPath         = errors.New("content: invalid object path")
	ErrNotConfigured       = errors.New("content: no backend configured")
)

// Error wraps a sentinel with request context.
type Error struct {
	Sentinel  error
	Operation string
	Status    int
	Err       error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("content: %s: %v", e.Operation, e.Sentinel)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Sentinel
}

// StatusSentinel maps an HTTP status to its sentinel; nil for 2xx.
func StatusSentinel(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return ErrUnauthorized
	case status >= 500:
		return ErrUpstreamError
	default:
		return ErrBadResponse
	}
}

// IsBackendFailure reports whether err indicates the backend itself is
// unhealthy, as opposed to a request it rightly refused.
func IsBackendFailure(err error) bool {
	return errors.Is(err, ErrUpstreamUnavailable) || errors.Is(err, ErrUpstreamError)
}
