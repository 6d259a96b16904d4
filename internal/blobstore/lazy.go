// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package blobstore

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// lazyHandle opens a backend handle on first use. Concurrent first callers
// share one pending open; a successful open is memoized for the lifetime of
// the store, a failed one is reported to every waiter and retried by the
// next caller.
type lazyHandle[T any] struct {
	open func(ctx context.Context) (T, error)

	mu     sync.Mutex
	val    T
	ok     bool
	closed bool
	group  singleflight.Group
}

func (l *lazyHandle[T]) get(ctx context.Context) (T, error) {
	var zero T
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return zero, ErrClosed
	}
	if l.ok {
		v := l.val
		l.mu.Unlock()
		return v, nil
	}
	l.mu.Unlock()

	// The open must not die with whichever caller happened to start it.
	ch := l.group.DoChan("open", func() (any, error) {
		l.mu.Lock()
		if l.ok {
			v := l.val
			l.mu.Unlock()
			return v, nil
		}
		l.mu.Unlock()

		v, err := l.open(context.WithoutCancel(ctx))
		if err != nil {
			return zero, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		l.mu.Lock()
		l.val, l.ok = v, true
		l.mu.Unlock()
		return v, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// peek returns the handle if it has been opened, without opening it.
func (l *lazyHandle[T]) peek() (T, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.val, l.ok
}

func (l *lazyHandle[T]) markClosed() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
}
