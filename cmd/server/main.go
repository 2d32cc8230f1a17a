package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/gorilla/securecookie"
	"github.com/redis/go-redis/v9"

	"github.com/keithlinneman/listings-admin/internal/adminhttp"
	"github.com/keithlinneman/listings-admin/internal/awsx"
	"github.com/keithlinneman/listings-admin/internal/cfg"
	"github.com/keithlinneman/listings-admin/internal/credstore"
	"github.com/keithlinneman/listings-admin/internal/health"
	"github.com/keithlinneman/listings-admin/internal/httpmw"
	"github.com/keithlinneman/listings-admin/internal/httpserver"
	"github.com/keithlinneman/listings-admin/internal/lifecycle"
	"github.com/keithlinneman/listings-admin/internal/log"
	"github.com/keithlinneman/listings-admin/internal/metrics"
	"github.com/keithlinneman/listings-admin/internal/objstore"
	"github.com/keithlinneman/listings-admin/internal/opshttp"
	"github.com/keithlinneman/listings-admin/internal/otelx"
	"github.com/keithlinneman/listings-admin/internal/prof"
	"github.com/keithlinneman/listings-admin/internal/ratelimit"
	"github.com/keithlinneman/listings-admin/internal/session"
	v "github.com/keithlinneman/listings-admin/internal/version"
	"github.com/keithlinneman/listings-admin/internal/xerrors"
)

// drainPeriod is how long readiness fails before the listeners close.
const drainPeriod = 30 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("%s %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			v.AppName, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		os.Exit(0)
	}

	cfg.FillFromEnv(flag.CommandLine, cfg.EnvPrefix, func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})
	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	lvl, _ := log.ParseLevel(conf.LogLevel)
	stackLvl, _ := log.ParseLevel(conf.StacktraceLevel)
	lg, err := log.New(log.Options{
		App:               v.AppName,
		Version:           vi.Version,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JsonFormat:        conf.LogJSON,
		MaxErrorLinks:     conf.MaxErrorLinks,
		IncludeErrorLinks: conf.IncludeErrorLinks,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", v.Component)
	ctx = log.WithContext(ctx, L)

	mode := "development"
	if conf.Production {
		mode = "production"
	}
	L.Info(ctx, "initializing application", append(vi.LogFields(),
		"mode", mode,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"trusted_hops", conf.TrustedHops,
		"media_bucket", conf.MediaBucket,
		"web_bucket", conf.WebBucket,
		"aws_region", conf.AWSRegion,
		"admin_secret_param", conf.AdminSecretParam,
		"session_store", sessionBackend(conf),
		"session_idle_timeout", conf.SessionIdleTimeout.String(),
		"enable_tracing", conf.EnableTracing,
		"enable_pyroscope", conf.EnablePyroscope,
	)...)

	stopProf, profErr := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       v.AppName,
			"component": v.Component,
			"version":   vi.Version,
			"commit":    vi.Commit,
		},
	})
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer stopProf()

	// the collector runs on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   v.AppName,
		Component: v.Component,
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
		shutdownOTEL = func(context.Context) error { return nil }
	}

	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, v.Component, &vi)
	m.SetProfilingActive(conf.EnablePyroscope && profErr == nil)

	awsCfg, err := awsx.Load(ctx, awsx.Options{
		Region:      conf.AWSRegion,
		Timeout:     conf.AWSTimeout,
		MaxAttempts: conf.AWSMaxAttempts,
	})
	if err != nil {
		L.Error(ctx, err, "failed to load AWS config")
		os.Exit(1)
	}
	objects := objstore.NewS3(s3.NewFromConfig(awsCfg))

	creds := credstore.New(ssm.NewFromConfig(awsCfg), credstore.Options{
		Param: conf.AdminSecretParam,
		Fallback: credstore.Credentials{
			Username:     conf.AdminUsername,
			PasswordHash: conf.AdminPasswordHash,
			Email:        conf.AdminEmail,
		},
		AllowFallback: !conf.Production || conf.AllowCredentialFallback,
		OnFallback:    m.IncCredentialFallback,
		Logger:        L,
	})

	// sessions and login attempts share redis when configured so every
	// instance sees the same window
	var (
		store    session.Store
		attempts ratelimit.Window
		rdb      *redis.Client
	)
	if conf.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: conf.RedisAddr})
		defer func() { _ = rdb.Close() }()
		store = session.NewRedisStore(rdb, conf.RedisPrefix)
		attempts = ratelimit.NewRedisWindow(rdb, conf.RedisPrefix, ratelimit.DefaultLoginAttempts, ratelimit.DefaultLoginWindow, time.Now)
	} else {
		mem := session.NewMemoryStore(time.Now)
		go mem.Sweep(ctx, 5*time.Minute)
		store = mem
		attempts = ratelimit.NewMemoryWindow(ctx, ratelimit.DefaultLoginAttempts, ratelimit.DefaultLoginWindow, time.Now)
	}
	if !conf.Production {
		attempts = ratelimit.Bypass{}
		L.Warn(ctx, "login rate limiting disabled outside production")
	}

	guard, err := session.NewGuard(session.Options{
		Store:       store,
		Credentials: creds,
		Limiter:     attempts,
		IdleTimeout: conf.SessionIdleTimeout,
		MaxAge:      conf.SessionMaxAge,
		OnLogin:     m.ObserveLogin,
		OnExpired:   m.IncSessionExpired,
	})
	if err != nil {
		L.Error(ctx, err, "invalid session settings")
		os.Exit(1)
	}

	secret := []byte(conf.SessionSecret)
	if len(secret) == 0 {
		// development only; Validate rejects this in production
		secret = securecookie.GenerateRandomKey(32)
		L.Warn(ctx, "no session secret configured, sessions will not survive a restart")
	}
	cookies, err := session.NewCookieCodec(session.CookieOptions{
		Secret: secret,
		Secure: conf.Production,
		MaxAge: conf.SessionMaxAge,
	})
	if err != nil {
		L.Error(ctx, err, "invalid cookie settings")
		os.Exit(1)
	}

	engine, err := lifecycle.New(lifecycle.Options{
		Store:          objects,
		Buckets:        lifecycle.Buckets{Media: conf.MediaBucket, Web: conf.WebBucket},
		OnOperation:    m.ObserveOperation,
		OnCompensation: m.ObserveCompensation,
	})
	if err != nil {
		L.Error(ctx, err, "invalid lifecycle settings")
		os.Exit(1)
	}

	api := adminhttp.NewAPI(adminhttp.Options{
		Guard:      guard,
		Cookies:    cookies,
		Engine:     engine,
		Production: conf.Production,
		Region:     awsCfg.Region,
	})

	var gate health.ShutdownGate
	readiness := health.All(
		gate.Probe(),
		health.Named("s3", health.Timeout(health.CheckFunc(func(ctx context.Context) error {
			return objects.CheckBucket(ctx, conf.MediaBucket)
		}), 3*time.Second)),
	)
	if rdb != nil {
		readiness = health.All(readiness, health.Named("redis", health.Timeout(health.CheckFunc(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}), time.Second)))
	}

	limiter := ratelimit.New(ctx,
		ratelimit.WithRate(10, 30),
		ratelimit.WithOnDenied(func(string) { m.IncRateLimitDenied() }),
		ratelimit.WithOnFirstDenied(func(ip string) {
			L.Warn(ctx, "rate limit triggered", "client.address", ip)
		}),
		ratelimit.WithOnCapacity(func() {
			m.IncRateLimitCapacity()
			L.Warn(ctx, "rate limit capacity reached, rejecting new visitors until some are evicted")
		}),
	)

	httpStop, err := httpserver.Start(ctx, &httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		MetricsMW:    m.Middleware,
		RateLimitMW:  limiter.Middleware,
		ClientIPOpts: httpmw.ClientIPOptions{TrustedHops: conf.TrustedHops},
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		APIRoutes:    api.RegisterRoutes,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start http listener")
		os.Exit(1)
	}

	// the ops port is reachable from monitoring only
	opsStop, err := opshttp.Start(ctx, L, &opshttp.Options{
		Port:         conf.AdminPort,
		Metrics:      m.Handler(),
		EnablePprof:  conf.EnablePprof,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		_ = httpStop(context.Background())
		os.Exit(1)
	}

	if err := notifySystemd(); err != nil {
		L.Debug(ctx, "systemd notify skipped", "reason", err.Error())
	}

	<-ctx.Done()
	stop()
	bg := context.Background()
	L.Info(bg, "shutdown signal received")

	gate.Set("draining")
	L.Info(bg, "shutdown gate closed, draining", "period", drainPeriod.String())
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(drainPeriod):
		L.Info(bg, "drain period complete")
	case <-forceCh:
		L.Warn(bg, "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	shutdownCtx, cancel := context.WithTimeout(bg, 15*time.Second)
	defer cancel()

	if err := httpStop(shutdownCtx); err != nil {
		L.Error(bg, err, "http server shutdown")
	}
	if err := opsStop(shutdownCtx); err != nil {
		L.Error(bg, err, "ops http server shutdown")
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(bg, err, "otel shutdown")
	}

	L.Info(bg, "shutdown complete")
}

func sessionBackend(c cfg.App) string {
	if c.RedisAddr != "" {
		return "redis"
	}
	return "memory"
}

func notifySystemd() error {
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return xerrors.New("NOTIFY_SOCKET not set")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return xerrors.Wrap(err, "systemd notify dial")
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		return xerrors.Wrap(err, "systemd notify write")
	}
	return nil
}
