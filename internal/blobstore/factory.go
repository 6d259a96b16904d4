// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package blobstore

import (
	"fmt"
	"path/filepath"
)

// Open creates a blob store for the configured backend. Nothing touches the
// disk until the first operation.
func Open(backend, dir string, clock Clock) (Store, error) {
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "sqlite":
		if dir == "" {
			return NewMemoryStore(clock), nil
		}
		return NewSQLiteStore(filepath.Join(dir, "media_blobs.sqlite"), clock), nil
	case "badger":
		if dir == "" {
			return NewBadgerStore("", clock), nil
		}
		return NewBadgerStore(filepath.Join(dir, "media_blobs.badger"), clock), nil
	case "memory":
		return NewMemoryStore(clock), nil
	default:
		return nil, fmt.Errorf("unknown blob store backend: %s (supported: sqlite, badger, memory)", backend)
	}
}
