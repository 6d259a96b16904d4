// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads the daemon configuration.
//
// Precedence is environment (RON_*) over the YAML file over defaults. The
// file is parsed strictly: unknown keys are errors. A Holder keeps the
// current configuration and reloads it on file change or SIGHUP.
package config
