// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package net

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ErrOutboundNotAllowed indicates the URL did not pass the outbound policy.
var ErrOutboundNotAllowed = errors.New("outbound url not allowed")

// OutboundPolicy limits where server-side fetches made on behalf of a
// caller may go.
type OutboundPolicy struct {
	Hosts *HostAllowlist
	// CIDRs re-allow addresses that are blocked by default (loopback,
	// private, link-local).
	CIDRs    []*net.IPNet
	Resolver *net.Resolver
}

// ValidateOutboundURL checks u against the policy. The host must be on
// the allowlist and every address it resolves to must be public or inside
// one of the allowed CIDRs.
func ValidateOutboundURL(ctx context.Context, u *url.URL, policy OutboundPolicy) error {
	if u == nil {
		return fmt.Errorf("%w: empty url", ErrOutboundNotAllowed)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("%w: scheme %q", ErrOutboundNotAllowed, u.Scheme)
	}
	if u.User != nil || u.Fragment != "" {
		return fmt.Errorf("%w: credentials or fragment", ErrOutboundNotAllowed)
	}
	host, err := NormalizeHost(u.Hostname())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOutboundNotAllowed, err)
	}
	if !policy.Hosts.Allows(host) {
		return fmt.Errorf("%w: host %s", ErrOutboundNotAllowed, host)
	}

	ips, err := resolveHostIPs(ctx, policy.Resolver, host)
	if err != nil {
		return err
	}
	for _, ip := range ips {
		if isBlockedIP(ip) && !ipInCIDRs(ip, policy.CIDRs) {
			return fmt.Errorf("%w: blocked ip %s", ErrOutboundNotAllowed, ip)
		}
	}
	return nil
}

// ParseCIDRs accepts CIDR blocks and bare IPs.
func ParseCIDRs(entries []string) ([]*net.IPNet, error) {
	var nets []*net.IPNet
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if _, ipnet, err := net.ParseCIDR(entry); err == nil {
			nets = append(nets, ipnet)
			continue
		}
		ip := net.ParseIP(entry)
		if ip == nil {
			return nil, fmt.Errorf("invalid CIDR or IP: %s", entry)
		}
		bits := 32
		if ip.To4() == nil {
			bits = 128
		}
		nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return nets, nil
}

func resolveHostIPs(ctx context.Context, r *net.Resolver, host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}
	if r == nil {
		r = net.DefaultResolver
	}
	addrs, err := r.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("resolve host %q: %w", host, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("resolve host %q: no addresses", host)
	}
	ips := make([]net.IP, 0, len(addrs))
	for _, addr := range addrs {
		ips = append(ips, addr.IP)
	}
	return ips, nil
}

func isBlockedIP(ip net.IP) bool {
	if ip == nil {
		return true
	}
	return ip.IsLoopback() ||
		ip.IsUnspecified() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsMulticast()
}

func ipInCIDRs(ip net.IP, cidrs []*net.IPNet) bool {
	for _, n := range cidrs {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
