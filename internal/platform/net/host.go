// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package net

import (
	"fmt"
	"net"
	"strings"

	"golang.org/x/net/idna"
)

// NormalizeHost validates a bare host (no scheme, port, path or userinfo)
// and returns its lower-case ASCII form. IDN hosts are converted to
// punycode so that visually identical names compare equal.
func NormalizeHost(raw string) (string, error) {
	host := strings.TrimSpace(raw)
	if host == "" {
		return "", fmt.Errorf("host is empty")
	}
	switch {
	case strings.Contains(host, "://"):
		return "", fmt.Errorf("host must not include scheme: %s", raw)
	case strings.Contains(host, "/"):
		return "", fmt.Errorf("host must not include path: %s", raw)
	case strings.Contains(host, "@"):
		return "", fmt.Errorf("host must not include userinfo: %s", raw)
	}
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	if strings.Contains(host, ":") && net.ParseIP(host) == nil {
		return "", fmt.Errorf("host must not include port: %s", raw)
	}
	host = strings.TrimSuffix(host, ".")
	if host == "" {
		return "", fmt.Errorf("host is empty")
	}
	if ip := net.ParseIP(host); ip != nil {
		return strings.ToLower(ip.String()), nil
	}
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", fmt.Errorf("invalid host %q: %w", raw, err)
	}
	return strings.ToLower(ascii), nil
}

// HostAllowlist matches hosts exactly, or by suffix for entries written
// with a leading dot (".example.com" matches "cdn.example.com").
type HostAllowlist struct {
	exact    map[string]struct{}
	suffixes []string
}

// NewHostAllowlist normalizes every entry.
func NewHostAllowlist(entries []string) (*HostAllowlist, error) {
	a := &HostAllowlist{exact: make(map[string]struct{}, len(entries))}
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		wildcard := strings.HasPrefix(e, ".")
		host, err := NormalizeHost(strings.TrimPrefix(e, "."))
		if err != nil {
			return nil, err
		}
		if wildcard {
			a.suffixes = append(a.suffixes, "."+host)
			continue
		}
		a.exact[host] = struct{}{}
	}
	return a, nil
}

// Allows reports whether raw is on the list. Invalid hosts never match.
func (a *HostAllowlist) Allows(raw string) bool {
	if a == nil {
		return false
	}
	host, err := NormalizeHost(raw)
	if err != nil {
		return false
	}
	if _, ok := a.exact[host]; ok {
		return true
	}
	for _, s := range a.suffixes {
		if strings.HasSuffix(host, s) {
			return true
		}
	}
	return false
}

// Len is the number of entries.
func (a *HostAllowlist) Len() int {
	if a == nil {
		return 0
	}
	return len(a.exact) + len(a.suffixes)
}
