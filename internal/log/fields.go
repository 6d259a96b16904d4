// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID     = "session_id"
	FieldRole          = "role"
	FieldCorrelationID = "correlation_id"
	FieldRequestID     = "request_id"
	FieldCommandID     = "command_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"

	// Media fields
	FieldFileName = "file_name"
	FieldPath     = "path"
	FieldURL      = "url"
	FieldBytes    = "bytes"
	FieldCache    = "cache"

	// Playback fields
	FieldAction   = "action"
	FieldTime     = "time"
	FieldDrift    = "drift"
	FieldOldState = "old_state"
	FieldNewState = "new_state"
)
