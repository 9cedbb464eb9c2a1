// Command server starts the streamswitch API HTTP service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"streamswitch/internal/analytics"
	"streamswitch/internal/api"
	"streamswitch/internal/auth"
	"streamswitch/internal/catalog"
	"streamswitch/internal/monitor"
	"streamswitch/internal/observability/logging"
	"streamswitch/internal/observability/metrics"
	"streamswitch/internal/playback"
	"streamswitch/internal/probe"
	"streamswitch/internal/server"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	dataPath := flag.String("data", "", "path to the JSON catalog file")
	catalogDriver := flag.String("catalog-driver", "", "catalog driver (json, postgres, or http)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	postgresMaxConns := flag.Int("postgres-max-conns", 0, "maximum connections in the Postgres pool")
	postgresMinConns := flag.Int("postgres-min-conns", 0, "minimum idle connections maintained by the Postgres pool")
	postgresMaxConnLifetime := flag.Duration("postgres-max-conn-lifetime", 0, "maximum lifetime for a pooled Postgres connection")
	postgresMaxConnIdle := flag.Duration("postgres-max-conn-idle", 0, "maximum idle time for a pooled Postgres connection")
	postgresHealthInterval := flag.Duration("postgres-health-interval", 0, "interval between Postgres health checks")
	postgresAcquireTimeout := flag.Duration("postgres-acquire-timeout", 0, "timeout when acquiring a Postgres connection from the pool")
	postgresAppName := flag.String("postgres-app-name", "", "application_name reported to Postgres")
	catalogURL := flag.String("catalog-url", "", "base URL of a remote catalog service")
	catalogToken := flag.String("catalog-token", "", "bearer token for the remote catalog service")
	mode := flag.String("mode", "", "server runtime mode (development or production)")
	apiToken := flag.String("api-token", "", "bearer token guarding the operator API")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	probeSamples := flag.Int("probe-samples", 0, "timed download samples per bandwidth probe")
	probeSampleTimeout := flag.Duration("probe-sample-timeout", 0, "timeout for a single bandwidth sample")
	probeTimeout := flag.Duration("probe-timeout", 0, "timeout for one reachability probe")
	monitorInterval := flag.Duration("monitor-interval", 0, "pause between health sweep starts")
	monitorBatchSize := flag.Int("monitor-batch-size", 0, "items probed concurrently per sweep batch")
	monitorBatchDelay := flag.Duration("monitor-batch-delay", 0, "delay between sweep batches")
	bufferTarget := flag.Int("buffer-target-seconds", 0, "playback buffer target handed to players")
	autoReturn := flag.Bool("auto-return", false, "let failed-over sessions re-attempt the primary source")
	autoReturnAfter := flag.Duration("auto-return-after", 0, "delay before a failed-over session re-attempts the primary")
	sessionTTL := flag.Duration("session-ttl", 0, "idle time before a playback session is purged")
	sessionPurgeInterval := flag.Duration("session-purge-interval", 0, "interval between idle session sweeps")
	analyticsSink := flag.String("analytics-sink", "", "analytics sink driver (none, http, or redis)")
	analyticsHTTPEndpoint := flag.String("analytics-http-endpoint", "", "endpoint for the HTTP analytics sink")
	analyticsHTTPToken := flag.String("analytics-http-token", "", "bearer token for the HTTP analytics sink")
	analyticsRedisAddr := flag.String("analytics-redis-addr", "", "Redis address for the analytics stream sink")
	analyticsRedisAddrs := flag.String("analytics-redis-addrs", "", "comma separated Redis addresses for the analytics stream sink")
	analyticsRedisUsername := flag.String("analytics-redis-username", "", "Redis username for the analytics sink")
	analyticsRedisPassword := flag.String("analytics-redis-password", "", "Redis password for the analytics sink")
	analyticsRedisStream := flag.String("analytics-redis-stream", "", "Redis stream key for analytics events")
	analyticsRedisMasterName := flag.String("analytics-redis-sentinel-master", "", "Redis sentinel master name for the analytics sink")
	analyticsRedisPoolSize := flag.Int("analytics-redis-pool-size", 0, "maximum Redis connections for the analytics sink")
	analyticsRedisTLSCA := flag.String("analytics-redis-tls-ca", "", "path to Redis TLS CA certificate for the analytics sink")
	analyticsRedisTLSCert := flag.String("analytics-redis-tls-cert", "", "path to Redis TLS client certificate for the analytics sink")
	analyticsRedisTLSKey := flag.String("analytics-redis-tls-key", "", "path to Redis TLS client key for the analytics sink")
	analyticsRedisTLSServerName := flag.String("analytics-redis-tls-server-name", "", "override Redis TLS server name for the analytics sink")
	analyticsRedisTLSSkipVerify := flag.Bool("analytics-redis-tls-skip-verify", false, "skip Redis TLS verification for the analytics sink")
	globalRPS := flag.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := flag.Int("rate-global-burst", 0, "global rate limit burst allowance")
	sessionLimit := flag.Int("rate-session-limit", 0, "maximum session creates per window for a single IP")
	sessionWindow := flag.Duration("rate-session-window", 0, "window for counting session creates")
	trustForwarded := flag.Bool("rate-trust-forwarded-headers", false, "trust proxy-provided client IP headers")
	trustedProxies := flag.String("rate-trusted-proxies", "", "comma separated CIDR blocks or IPs of trusted proxies")
	redisAddr := flag.String("rate-redis-addr", "", "Redis address for distributed session throttling")
	redisPassword := flag.String("rate-redis-password", "", "Redis password for distributed session throttling")
	redisTimeout := flag.Duration("rate-redis-timeout", 0, "timeout for Redis rate limit operations")
	redisTLSCA := flag.String("rate-redis-tls-ca", "", "path to Redis TLS CA certificate for session throttling")
	redisTLSCert := flag.String("rate-redis-tls-cert", "", "path to Redis TLS client certificate for session throttling")
	redisTLSKey := flag.String("rate-redis-tls-key", "", "path to Redis TLS client key for session throttling")
	redisTLSServerName := flag.String("rate-redis-tls-server-name", "", "override Redis TLS server name for session throttling")
	redisTLSSkipVerify := flag.Bool("rate-redis-tls-skip-verify", false, "skip Redis TLS verification for session throttling")
	corsOperatorOrigins := flag.String("cors-operator-origins", "", "comma separated origins allowed for operator tooling")
	corsPlayerOrigins := flag.String("cors-player-origins", "", "comma separated origins allowed for embedded players")
	flag.Parse()

	logger := logging.New(logging.Config{Level: firstNonEmpty(*logLevel, os.Getenv("STREAMSWITCH_LOG_LEVEL"))})
	auditLogger := logging.WithComponent(logger, "audit")
	recorder := metrics.Default()

	serverMode := modeValue(*mode, os.Getenv("STREAMSWITCH_MODE"))
	listenAddr := resolveListenAddr(*addr, serverMode, os.Getenv("STREAMSWITCH_ADDR"))

	tlsCertPath := firstNonEmpty(*tlsCert, os.Getenv("STREAMSWITCH_TLS_CERT"))
	tlsKeyPath := firstNonEmpty(*tlsKey, os.Getenv("STREAMSWITCH_TLS_KEY"))

	remoteCatalogURL := firstNonEmpty(*catalogURL, os.Getenv("STREAMSWITCH_CATALOG_URL"))
	postgresDefaultDSN := resolvePostgresDSN(*postgresDSN)
	driver, _, err := resolveCatalogDriver(*catalogDriver, os.Getenv("STREAMSWITCH_CATALOG_DRIVER"), postgresDefaultDSN, remoteCatalogURL)
	if err != nil {
		logger.Error("failed to resolve catalog driver", "error", err)
		os.Exit(1)
	}
	if serverMode == "production" {
		if err := validateProductionCatalog(driver, postgresDefaultDSN, os.Getenv("STREAMSWITCH_POSTGRES_DSN")); err != nil {
			logger.Error("production catalog validation failed", "error", err)
			os.Exit(1)
		}
	}

	var (
		store       catalog.Repository
		catalogFile string
	)
	switch driver {
	case "json":
		catalogFile = resolveDataPath(*dataPath, os.Getenv("STREAMSWITCH_DATA"))
		store, err = catalog.NewStore(catalogFile)
	case "postgres":
		if postgresDefaultDSN == "" {
			logger.Error("postgres catalog selected without DSN")
			os.Exit(1)
		}
		store, err = catalog.NewPostgresStore(catalog.PostgresConfig{
			DSN:                 postgresDefaultDSN,
			MaxConnections:      int32(resolveInt(*postgresMaxConns, "STREAMSWITCH_POSTGRES_MAX_CONNS")),
			MinConnections:      int32(resolveInt(*postgresMinConns, "STREAMSWITCH_POSTGRES_MIN_CONNS")),
			MaxConnLifetime:     resolveDuration(*postgresMaxConnLifetime, "STREAMSWITCH_POSTGRES_MAX_CONN_LIFETIME", 0),
			MaxConnIdleTime:     resolveDuration(*postgresMaxConnIdle, "STREAMSWITCH_POSTGRES_MAX_CONN_IDLE", 0),
			HealthCheckInterval: resolveDuration(*postgresHealthInterval, "STREAMSWITCH_POSTGRES_HEALTH_INTERVAL", 0),
			AcquireTimeout:      resolveDuration(*postgresAcquireTimeout, "STREAMSWITCH_POSTGRES_ACQUIRE_TIMEOUT", 0),
			ApplicationName:     firstNonEmpty(*postgresAppName, os.Getenv("STREAMSWITCH_POSTGRES_APP_NAME")),
		})
	case "http":
		if remoteCatalogURL == "" {
			logger.Error("http catalog selected without URL")
			os.Exit(1)
		}
		store, err = catalog.NewHTTPCatalog(catalog.HTTPCatalogConfig{
			BaseURL: remoteCatalogURL,
			Token:   firstNonEmpty(*catalogToken, os.Getenv("STREAMSWITCH_CATALOG_TOKEN")),
			Logger:  logging.WithComponent(logger, "catalog"),
		})
	default:
		logger.Error("unsupported catalog driver", "driver", driver)
		os.Exit(1)
	}
	if err != nil {
		logger.Error("failed to open catalog", "error", err)
		os.Exit(1)
	}

	prober := probe.NewProber(probe.ProberConfig{
		SampleSize:    resolveInt(*probeSamples, "STREAMSWITCH_PROBE_SAMPLES"),
		SampleTimeout: resolveDuration(*probeSampleTimeout, "STREAMSWITCH_PROBE_SAMPLE_TIMEOUT", 0),
		Logger:        logging.WithComponent(logger, "probe"),
	})
	checker := probe.NewChecker(probe.CheckerConfig{
		Timeout: resolveDuration(*probeTimeout, "STREAMSWITCH_PROBE_TIMEOUT", 0),
		Logger:  logging.WithComponent(logger, "probe"),
		Metrics: recorder,
	})

	sinkDriver := strings.ToLower(firstNonEmpty(*analyticsSink, os.Getenv("STREAMSWITCH_ANALYTICS_SINK")))
	httpSinkCfg := analytics.HTTPSinkConfig{
		Endpoint: firstNonEmpty(*analyticsHTTPEndpoint, os.Getenv("STREAMSWITCH_ANALYTICS_HTTP_ENDPOINT")),
		Token:    firstNonEmpty(*analyticsHTTPToken, os.Getenv("STREAMSWITCH_ANALYTICS_HTTP_TOKEN")),
	}
	redisSinkCfg := analytics.RedisSinkConfig{
		Addr:       firstNonEmpty(*analyticsRedisAddr, os.Getenv("STREAMSWITCH_ANALYTICS_REDIS_ADDR")),
		Addrs:      splitAndTrim(firstNonEmpty(*analyticsRedisAddrs, os.Getenv("STREAMSWITCH_ANALYTICS_REDIS_ADDRS"))),
		Username:   firstNonEmpty(*analyticsRedisUsername, os.Getenv("STREAMSWITCH_ANALYTICS_REDIS_USERNAME")),
		Password:   firstNonEmpty(*analyticsRedisPassword, os.Getenv("STREAMSWITCH_ANALYTICS_REDIS_PASSWORD")),
		Stream:     firstNonEmpty(*analyticsRedisStream, os.Getenv("STREAMSWITCH_ANALYTICS_REDIS_STREAM")),
		MasterName: firstNonEmpty(*analyticsRedisMasterName, os.Getenv("STREAMSWITCH_ANALYTICS_REDIS_SENTINEL_MASTER")),
		PoolSize:   resolveInt(*analyticsRedisPoolSize, "STREAMSWITCH_ANALYTICS_REDIS_POOL_SIZE"),
		TLS: analytics.RedisTLSConfig{
			CAFile:             firstNonEmpty(*analyticsRedisTLSCA, os.Getenv("STREAMSWITCH_ANALYTICS_REDIS_TLS_CA")),
			CertFile:           firstNonEmpty(*analyticsRedisTLSCert, os.Getenv("STREAMSWITCH_ANALYTICS_REDIS_TLS_CERT")),
			KeyFile:            firstNonEmpty(*analyticsRedisTLSKey, os.Getenv("STREAMSWITCH_ANALYTICS_REDIS_TLS_KEY")),
			ServerName:         firstNonEmpty(*analyticsRedisTLSServerName, os.Getenv("STREAMSWITCH_ANALYTICS_REDIS_TLS_SERVER_NAME")),
			InsecureSkipVerify: resolveBool(*analyticsRedisTLSSkipVerify, "STREAMSWITCH_ANALYTICS_REDIS_TLS_SKIP_VERIFY"),
		},
	}
	sink, err := configureSink(sinkDriver, httpSinkCfg, redisSinkCfg)
	if err != nil {
		logger.Error("failed to configure analytics sink", "error", err)
		os.Exit(1)
	}
	events := analytics.NewRecorder(analytics.Config{
		Sink:    sink,
		Logger:  logging.WithComponent(logger, "analytics"),
		Metrics: recorder,
	})

	manager := playback.NewManager(playback.ManagerConfig{
		Prober:              prober,
		Checker:             checker,
		Events:              events,
		Logger:              logging.WithComponent(logger, "playback"),
		Metrics:             recorder,
		BufferTargetSeconds: resolveInt(*bufferTarget, "STREAMSWITCH_BUFFER_TARGET_SECONDS"),
		AutoReturn:          resolveBool(*autoReturn, "STREAMSWITCH_AUTO_RETURN"),
		AutoReturnAfter:     resolveDuration(*autoReturnAfter, "STREAMSWITCH_AUTO_RETURN_AFTER", 0),
	})

	sweepInterval := resolveDuration(*monitorInterval, "STREAMSWITCH_MONITOR_INTERVAL", 5*time.Minute)
	mon, err := monitor.New(monitor.Config{
		Catalog:      store,
		Checker:      checker,
		Logger:       logging.WithComponent(logger, "monitor"),
		Metrics:      recorder,
		Interval:     sweepInterval,
		BatchSize:    resolveInt(*monitorBatchSize, "STREAMSWITCH_MONITOR_BATCH_SIZE"),
		BatchDelay:   resolveDuration(*monitorBatchDelay, "STREAMSWITCH_MONITOR_BATCH_DELAY", 0),
		ProbeTimeout: resolveDuration(*probeTimeout, "STREAMSWITCH_PROBE_TIMEOUT", 0),
	})
	if err != nil {
		logger.Error("failed to configure health monitor", "error", err)
		os.Exit(1)
	}

	handler := api.NewHandler(store, manager)
	handler.Prober = prober
	handler.Checker = checker
	handler.Monitor = mon
	handler.Analytics = events

	purgeTTL := resolveDuration(*sessionTTL, "STREAMSWITCH_SESSION_TTL", time.Hour)
	purgeInterval := resolveDuration(*sessionPurgeInterval, "STREAMSWITCH_SESSION_PURGE_INTERVAL", 5*time.Minute)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	janitorStop := startSessionJanitor(workerCtx, logging.WithComponent(logger, "session-janitor"), manager, purgeInterval, purgeTTL)
	defer janitorStop()
	monitorStop := mon.Start(workerCtx)
	defer monitorStop()
	go func() {
		// Health exists before the first interval elapses.
		if err := mon.RunCycle(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("initial health sweep failed", "error", err)
		}
	}()

	guard := auth.NewGuard(firstNonEmpty(*apiToken, os.Getenv("STREAMSWITCH_API_TOKEN")))
	if !guard.Enabled() && serverMode == "production" {
		logger.Warn("operator API is unauthenticated; set STREAMSWITCH_API_TOKEN")
	}

	rateCfg := server.RateLimitConfig{
		GlobalRPS:             resolveFloat(*globalRPS, "STREAMSWITCH_RATE_GLOBAL_RPS"),
		GlobalBurst:           resolveInt(*globalBurst, "STREAMSWITCH_RATE_GLOBAL_BURST"),
		SessionLimit:          resolveInt(*sessionLimit, "STREAMSWITCH_RATE_SESSION_LIMIT"),
		SessionWindow:         resolveDuration(*sessionWindow, "STREAMSWITCH_RATE_SESSION_WINDOW", time.Minute),
		TrustForwardedHeaders: resolveBool(*trustForwarded, "STREAMSWITCH_RATE_TRUST_FORWARDED_HEADERS"),
		TrustedProxies:        splitAndTrim(firstNonEmpty(*trustedProxies, os.Getenv("STREAMSWITCH_RATE_TRUSTED_PROXIES"))),
		RedisAddr:             firstNonEmpty(*redisAddr, os.Getenv("STREAMSWITCH_RATE_REDIS_ADDR")),
		RedisPassword:         firstNonEmpty(*redisPassword, os.Getenv("STREAMSWITCH_RATE_REDIS_PASSWORD")),
		RedisTimeout:          resolveDuration(*redisTimeout, "STREAMSWITCH_RATE_REDIS_TIMEOUT", 2*time.Second),
		RedisTLS: server.RedisTLSConfig{
			CAFile:             firstNonEmpty(*redisTLSCA, os.Getenv("STREAMSWITCH_RATE_REDIS_TLS_CA")),
			CertFile:           firstNonEmpty(*redisTLSCert, os.Getenv("STREAMSWITCH_RATE_REDIS_TLS_CERT")),
			KeyFile:            firstNonEmpty(*redisTLSKey, os.Getenv("STREAMSWITCH_RATE_REDIS_TLS_KEY")),
			ServerName:         firstNonEmpty(*redisTLSServerName, os.Getenv("STREAMSWITCH_RATE_REDIS_TLS_SERVER_NAME")),
			InsecureSkipVerify: resolveBool(*redisTLSSkipVerify, "STREAMSWITCH_RATE_REDIS_TLS_SKIP_VERIFY"),
		},
	}

	corsCfg := server.CORSConfig{
		OperatorOrigins: splitAndTrim(firstNonEmpty(*corsOperatorOrigins, os.Getenv("STREAMSWITCH_CORS_OPERATOR_ORIGINS"))),
		PlayerOrigins:   splitAndTrim(firstNonEmpty(*corsPlayerOrigins, os.Getenv("STREAMSWITCH_CORS_PLAYER_ORIGINS"))),
	}

	tlsCfg := server.TLSConfig{
		CertFile: tlsCertPath,
		KeyFile:  tlsKeyPath,
	}

	summary := newStartupSummary(startupSummaryInput{
		CatalogDriver:   driver,
		CatalogPath:     catalogFile,
		CatalogDSN:      postgresDefaultDSN,
		CatalogURL:      remoteCatalogURL,
		SinkDriver:      sinkDriver,
		SinkEndpoint:    httpSinkCfg.Endpoint,
		SinkRedisAddr:   redisSinkCfg.Addr,
		SinkStream:      redisSinkCfg.Stream,
		RateLimit:       rateCfg,
		MonitorInterval: sweepInterval,
		SessionTTL:      purgeTTL,
		GuardEnabled:    guard.Enabled(),
	})
	logger.Info("configuration resolved", summary.LogArgs()...)

	srv, err := server.New(handler, server.Config{
		Addr:        listenAddr,
		TLS:         tlsCfg,
		RateLimit:   rateCfg,
		CORS:        corsCfg,
		Guard:       guard,
		Logger:      logger,
		AuditLogger: auditLogger,
		Metrics:     recorder,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info("streamswitch API listening", "addr", listenAddr, "mode", serverMode)
		if tlsCfg.CertFile != "" && tlsCfg.KeyFile != "" {
			logger.Info("TLS enabled", "cert_file", tlsCfg.CertFile)
		}
		logger.Info("metrics endpoint available", "path", "/metrics")
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errs:
		logger.Error("server error", "error", err)
	}

	workerCancel()
	janitorStop()
	monitorStop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
	}

	events.Close()
	if closer, ok := sink.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Warn("failed to close analytics sink", "error", err)
		}
	}

	if err := store.Close(ctx); err != nil {
		logger.Warn("failed to close catalog", "error", err)
	}

	logger.Info("server stopped")
}

func configureSink(driver string, httpCfg analytics.HTTPSinkConfig, redisCfg analytics.RedisSinkConfig) (analytics.Sink, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "http":
		if strings.TrimSpace(httpCfg.Endpoint) == "" {
			return nil, fmt.Errorf("analytics endpoint is required for the http sink")
		}
		return analytics.NewHTTPSink(httpCfg)
	case "redis":
		if len(redisCfg.Addrs) == 0 && strings.TrimSpace(redisCfg.Addr) == "" {
			return nil, fmt.Errorf("redis addr is required for the analytics sink")
		}
		return analytics.NewRedisSink(redisCfg)
	case "", "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported analytics sink %q", driver)
	}
}

func resolveListenAddr(flagValue, mode, envAddr string) string {
	listenAddr := strings.TrimSpace(flagValue)
	if listenAddr == "" {
		listenAddr = strings.TrimSpace(envAddr)
	}
	if listenAddr == "" {
		listenAddr = defaultListenForMode(mode)
	}
	return listenAddr
}

func modeValue(flagMode, envMode string) string {
	mode := strings.ToLower(strings.TrimSpace(flagMode))
	if mode == "" {
		mode = strings.ToLower(strings.TrimSpace(envMode))
	}
	if mode == "" {
		mode = "development"
	}
	return mode
}

func defaultListenForMode(mode string) string {
	if mode == "production" {
		return ":80"
	}
	return ":8080"
}

func resolveCatalogDriver(flagValue, envValue, postgresDSN, catalogURL string) (string, bool, error) {
	if driver := strings.ToLower(strings.TrimSpace(flagValue)); driver != "" {
		return driver, true, nil
	}
	if driver := strings.ToLower(strings.TrimSpace(envValue)); driver != "" {
		return driver, true, nil
	}
	if strings.TrimSpace(postgresDSN) != "" {
		return "postgres", false, nil
	}
	if strings.TrimSpace(catalogURL) != "" {
		return "http", false, nil
	}
	return "", false, fmt.Errorf("no catalog configured: provide --catalog-driver json, configure Postgres via STREAMSWITCH_POSTGRES_DSN, DATABASE_URL, or --postgres-dsn, or point --catalog-url at a remote catalog")
}

func validateProductionCatalog(driver, resolvedPostgresDSN, envPostgresDSN string) error {
	switch driver {
	case "postgres":
		if strings.TrimSpace(envPostgresDSN) == "" {
			return fmt.Errorf("production mode requires STREAMSWITCH_POSTGRES_DSN to be set")
		}
		if strings.TrimSpace(resolvedPostgresDSN) == "" {
			return fmt.Errorf("postgres catalog selected without DSN")
		}
		return nil
	case "http":
		return nil
	case "":
		return fmt.Errorf("production mode requires a shared catalog driver (postgres or http)")
	default:
		return fmt.Errorf("production mode requires a shared catalog driver (postgres or http), got %q", driver)
	}
}

func resolveDataPath(flagValue, envValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := strings.TrimSpace(envValue); env != "" {
		return env
	}
	return "data/catalog.json"
}

func resolvePostgresDSN(flagValue string) string {
	return strings.TrimSpace(firstNonEmpty(flagValue, os.Getenv("STREAMSWITCH_POSTGRES_DSN"), os.Getenv("DATABASE_URL")))
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func resolveFloat(flagValue float64, envKey string) float64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseFloat(strings.TrimSpace(env), 64); err == nil {
			return value
		}
	}
	return 0
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	if fallback > 0 {
		return fallback
	}
	return 0
}

func resolveBool(flagValue bool, envKey string) bool {
	if flagValue {
		return true
	}
	if env, ok := os.LookupEnv(envKey); ok {
		if value, err := strconv.ParseBool(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return false
}
