// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package swcache

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrUnsatisfiableRange means the range does not overlap the object.
	ErrUnsatisfiableRange = errors.New("range not satisfiable")
	// ErrMultiRange is returned for multi-part range requests.
	ErrMultiRange = errors.New("multi-range not supported")
)

// ByteRange is an inclusive byte interval.
type ByteRange struct {
	Start int64
	End   int64
}

// Len is the number of bytes covered.
func (r ByteRange) Len() int64 { return r.End - r.Start + 1 }

// ParseRange resolves a single "bytes=" range against an object of size
// bytes. An open end means size-1 and an end past the object is clamped.
func ParseRange(header string, size int64) (ByteRange, error) {
	spec, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !ok {
		return ByteRange{}, ErrUnsatisfiableRange
	}
	if strings.Contains(spec, ",") {
		return ByteRange{}, ErrMultiRange
	}
	startStr, endStr, ok := strings.Cut(spec, "-")
	if !ok {
		return ByteRange{}, ErrUnsatisfiableRange
	}
	startStr, endStr = strings.TrimSpace(startStr), strings.TrimSpace(endStr)

	if size <= 0 {
		return ByteRange{}, ErrUnsatisfiableRange
	}

	if startStr == "" {
		// bytes=-N, the last N bytes
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return ByteRange{}, ErrUnsatisfiableRange
		}
		return ByteRange{Start: size - min(n, size), End: size - 1}, nil
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 || start >= size {
		return ByteRange{}, ErrUnsatisfiableRange
	}
	r := ByteRange{Start: start, End: size - 1}
	if endStr != "" {
		end, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || end < start {
			return ByteRange{}, ErrUnsatisfiableRange
		}
		r.End = min(end, size-1)
	}
	return r, nil
}

// ContentRange formats the Content-Range header of a 206.
func ContentRange(r ByteRange, size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, size)
}

// UnsatisfiedRange formats the Content-Range header of a 416.
func UnsatisfiedRange(size int64) string {
	return fmt.Sprintf("bytes */%d", size)
}
