package main

import (
	"net/url"
	"strings"
	"time"

	"streamswitch/internal/server"
)

// startupSummaryInput captures the resolved configuration for the boot log
// line. DSNs are redacted before they reach the logger.
type startupSummaryInput struct {
	CatalogDriver   string
	CatalogPath     string
	CatalogDSN      string
	CatalogURL      string
	SinkDriver      string
	SinkEndpoint    string
	SinkRedisAddr   string
	SinkStream      string
	RateLimit       server.RateLimitConfig
	MonitorInterval time.Duration
	SessionTTL      time.Duration
	GuardEnabled    bool
}

type startupSummary struct {
	input startupSummaryInput
}

func newStartupSummary(input startupSummaryInput) startupSummary {
	return startupSummary{input: input}
}

func (s startupSummary) LogArgs() []any {
	catalogSummary := map[string]any{"driver": s.input.CatalogDriver}
	switch s.input.CatalogDriver {
	case "json":
		if s.input.CatalogPath != "" {
			catalogSummary["path"] = s.input.CatalogPath
		}
	case "postgres":
		if s.input.CatalogDSN != "" {
			catalogSummary["dsn"] = redactDSN(s.input.CatalogDSN)
		}
	case "http":
		if s.input.CatalogURL != "" {
			catalogSummary["url"] = s.input.CatalogURL
		}
	}

	throttle := map[string]any{"driver": "memory"}
	if addr := strings.TrimSpace(s.input.RateLimit.RedisAddr); addr != "" {
		throttle["driver"] = "redis"
		throttle["addr"] = addr
	}
	if s.input.RateLimit.SessionLimit > 0 {
		throttle["limit"] = s.input.RateLimit.SessionLimit
		throttle["window"] = s.input.RateLimit.SessionWindow.String()
	}

	sinkDriver := strings.TrimSpace(s.input.SinkDriver)
	if sinkDriver == "" {
		sinkDriver = "none"
	}
	sinkSummary := map[string]any{"driver": sinkDriver}
	switch sinkDriver {
	case "http":
		if s.input.SinkEndpoint != "" {
			sinkSummary["endpoint"] = redactDSN(s.input.SinkEndpoint)
		}
	case "redis":
		if s.input.SinkRedisAddr != "" {
			sinkSummary["addr"] = s.input.SinkRedisAddr
		}
		if s.input.SinkStream != "" {
			sinkSummary["stream"] = s.input.SinkStream
		}
	}

	monitorSummary := map[string]any{"interval": s.input.MonitorInterval.String()}
	sessionSummary := map[string]any{"ttl": s.input.SessionTTL.String()}
	authSummary := map[string]any{"enabled": s.input.GuardEnabled}

	return []any{
		"catalog", catalogSummary,
		"session_throttle", throttle,
		"analytics_sink", sinkSummary,
		"monitor", monitorSummary,
		"sessions", sessionSummary,
		"auth", authSummary,
	}
}

// redactDSN masks the password component of a connection string. Values that
// do not parse as URLs pass through untouched rather than leaking by halves.
func redactDSN(dsn string) string {
	parsed, err := url.Parse(dsn)
	if err != nil || parsed.User == nil {
		return dsn
	}
	if _, hasPassword := parsed.User.Password(); hasPassword {
		parsed.User = url.UserPassword(parsed.User.Username(), "*****")
	}
	return parsed.String()
}
