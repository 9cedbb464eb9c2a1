package server

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

const (
	ipSourceRemoteAddr    = "remote_addr"
	ipSourceXForwardedFor = "x_forwarded_for"
	ipSourceXRealIP       = "x_real_ip"
)

// clientIPResolver decides whether forwarded headers can be believed for a
// given peer. The headers are spoofable, so they only count when the direct
// peer is a configured proxy or the deployment opted into trusting them
// outright.
type clientIPResolver struct {
	trustAll bool
	proxies  []*net.IPNet
}

func newClientIPResolver(cfg RateLimitConfig) (*clientIPResolver, error) {
	resolver := &clientIPResolver{trustAll: cfg.TrustForwardedHeaders}
	for _, entry := range cfg.TrustedProxies {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if _, network, err := net.ParseCIDR(entry); err == nil {
			resolver.proxies = append(resolver.proxies, network)
			continue
		}
		ip := net.ParseIP(entry)
		if ip == nil {
			return nil, fmt.Errorf("parse trusted proxy %q: not a CIDR block or IP", entry)
		}
		bits := 32
		if ip.To4() == nil {
			bits = 128
		}
		resolver.proxies = append(resolver.proxies, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return resolver, nil
}

// ClientIPFromRequest resolves the caller's IP and reports which source
// supplied it.
func (res *clientIPResolver) ClientIPFromRequest(r *http.Request) (string, string) {
	remote := clientIP(r.RemoteAddr)
	if res == nil || !res.trusts(remote) {
		return remote, ipSourceRemoteAddr
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip, ipSourceXForwardedFor
		}
	}
	if xrip := strings.TrimSpace(r.Header.Get("X-Real-IP")); xrip != "" {
		return xrip, ipSourceXRealIP
	}
	return remote, ipSourceRemoteAddr
}

func (res *clientIPResolver) trusts(remote string) bool {
	if res.trustAll {
		return true
	}
	if len(res.proxies) == 0 {
		return false
	}
	ip := net.ParseIP(remote)
	if ip == nil {
		return false
	}
	for _, network := range res.proxies {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

func resolveClientIP(r *http.Request, resolver *clientIPResolver) (string, string) {
	if resolver == nil {
		return clientIP(r.RemoteAddr), ipSourceRemoteAddr
	}
	return resolver.ClientIPFromRequest(r)
}

func clientIP(remoteAddr string) string {
	if remoteAddr == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
