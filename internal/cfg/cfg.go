// Package cfg binds the server configuration to flags, fills unset flags
// from LISTADM_* environment variables and validates the result.
package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/keithlinneman/listings-admin/internal/log"
	"github.com/keithlinneman/listings-admin/internal/pathutil"
)

// EnvPrefix maps flag "media-bucket" to LISTADM_MEDIA_BUCKET.
const EnvPrefix = "LISTADM_"

// MinSessionSecret is the cookie signing key length required in production.
const MinSessionSecret = 32

type App struct {
	LogJSON           bool
	LogLevel          string
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int

	HTTPPort    int
	AdminPort   int
	TrustedHops int

	EnableTracing   bool
	OTLPEndpoint    string
	TraceSample     float64
	EnablePyroscope bool
	PyroServer      string
	PyroTenantID    string
	EnablePprof     bool

	Production bool

	AdminSecretParam        string
	AdminUsername           string
	AdminPasswordHash       string
	AdminEmail              string
	AllowCredentialFallback bool

	SessionSecret      string
	SessionIdleTimeout time.Duration
	SessionMaxAge      time.Duration
	RedisAddr          string
	RedisPrefix        string

	AWSRegion      string
	MediaBucket    string
	WebBucket      string
	AWSTimeout     time.Duration
	AWSMaxAttempts int
}

// Register binds all config fields to fs with defaults inline.
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or text (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error chain links in log records")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")

	fs.IntVar(&c.HTTPPort, "http-port", 8080, "public listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "ops listen TCP port for metrics, probes and pprof (1..65535)")
	fs.IntVar(&c.TrustedHops, "trusted-hops", 1, "reverse proxies in front of the server; 0 ignores X-Forwarded-For")

	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP gRPC endpoint (host:port)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing profiles to pyro-server")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof (ops port only)")

	fs.BoolVar(&c.Production, "production", false, "production mode: login rate limiting, secure cookies, generic backend errors")

	fs.StringVar(&c.AdminSecretParam, "admin-secret-param", "/app/listings-admin/admin-credentials", "SSM parameter holding the admin credential JSON")
	fs.StringVar(&c.AdminUsername, "admin-username", "admin", "fallback admin username")
	fs.StringVar(&c.AdminPasswordHash, "admin-password-hash", "", "fallback admin bcrypt password hash")
	fs.StringVar(&c.AdminEmail, "admin-email", "", "fallback admin email")
	fs.BoolVar(&c.AllowCredentialFallback, "allow-credential-fallback", false, "allow the fallback identity in production when the SSM parameter cannot be read")

	fs.StringVar(&c.SessionSecret, "session-secret", "", "session cookie signing key (>= 32 bytes in production)")
	fs.DurationVar(&c.SessionIdleTimeout, "session-idle-timeout", 2*time.Hour, "destroy sessions idle longer than this")
	fs.DurationVar(&c.SessionMaxAge, "session-max-age", 24*time.Hour, "session store TTL and cookie max age")
	fs.StringVar(&c.RedisAddr, "redis-addr", "", "redis host:port for sessions and login attempts; empty keeps them in process")
	fs.StringVar(&c.RedisPrefix, "redis-prefix", "listadm:", "redis key prefix")

	fs.StringVar(&c.AWSRegion, "aws-region", "", "AWS region; empty uses the SDK default chain")
	fs.StringVar(&c.MediaBucket, "media-bucket", "", "S3 bucket holding pending, approved and featured content")
	fs.StringVar(&c.WebBucket, "web-bucket", "", "S3 bucket serving the public showcase")
	fs.DurationVar(&c.AWSTimeout, "aws-timeout", 10*time.Second, "per request AWS HTTP timeout")
	fs.IntVar(&c.AWSMaxAttempts, "aws-max-attempts", 3, "total attempts per AWS call; only transient errors are retried")
}

// FillFromEnv sets every flag not passed on the command line from its
// environment variable. Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := EnvKey(prefix, f.Name)
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value overrides env %s", f.Name, key)
			}
			return
		}
		prev := f.Value.String()
		if fs.Set(f.Name, envVal) != nil {
			_ = fs.Set(f.Name, prev)
			if logf != nil {
				// neither the value nor the parse error is echoed; some flags are secrets
				logf("flag -%s: ignoring invalid env %s", f.Name, key)
			}
		}
	})
}

func EnvKey(prefix, flagName string) string {
	return prefix + strings.ReplaceAll(strings.ToUpper(flagName), "-", "_")
}

// FallbackIdentity reports whether a complete fallback identity is set.
func (c App) FallbackIdentity() bool {
	return c.AdminUsername != "" && c.AdminPasswordHash != ""
}

// Validate reports every invalid field, joined, or nil.
func Validate(c App) error {
	var errs []error

	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}
	if c.TrustedHops < 0 || c.TrustedHops > 8 {
		errs = append(errs, fmt.Errorf("invalid TRUSTED_HOPS %d (must be 0..8)", c.TrustedHops))
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}
	if c.IncludeErrorLinks && (c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64) {
		errs = append(errs, fmt.Errorf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks))
	}

	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}
	if c.EnablePyroscope {
		if u, err := url.Parse(c.PyroServer); c.PyroServer == "" || err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL when ENABLE_PYROSCOPE=true (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}

	if c.AdminSecretParam == "" && !c.FallbackIdentity() {
		errs = append(errs, fmt.Errorf("ADMIN_SECRET_PARAM or ADMIN_USERNAME and ADMIN_PASSWORD_HASH required"))
	}
	if c.AdminPasswordHash != "" && !strings.HasPrefix(c.AdminPasswordHash, "$2") {
		errs = append(errs, fmt.Errorf("ADMIN_PASSWORD_HASH must be a bcrypt hash"))
	}

	if c.Production && len(c.SessionSecret) < MinSessionSecret {
		errs = append(errs, fmt.Errorf("SESSION_SECRET must be at least %d bytes in production", MinSessionSecret))
	}
	if c.SessionIdleTimeout <= 0 {
		errs = append(errs, fmt.Errorf("SESSION_IDLE_TIMEOUT must be positive (got %s)", c.SessionIdleTimeout))
	}
	if c.SessionMaxAge <= c.SessionIdleTimeout {
		errs = append(errs, fmt.Errorf("SESSION_MAX_AGE %s must exceed SESSION_IDLE_TIMEOUT %s", c.SessionMaxAge, c.SessionIdleTimeout))
	}
	if c.RedisAddr != "" {
		if _, _, err := net.SplitHostPort(c.RedisAddr); err != nil {
			errs = append(errs, fmt.Errorf("REDIS_ADDR must be host:port (got %q): %v", c.RedisAddr, err))
		}
	}

	for _, b := range []struct{ name, v string }{{"MEDIA_BUCKET", c.MediaBucket}, {"WEB_BUCKET", c.WebBucket}} {
		if b.v == "" {
			errs = append(errs, fmt.Errorf("%s is required", b.name))
		} else if !pathutil.IsSingleSegment(b.v) {
			errs = append(errs, fmt.Errorf("%s %q is not a valid bucket name", b.name, b.v))
		}
	}
	if c.AWSTimeout <= 0 {
		errs = append(errs, fmt.Errorf("AWS_TIMEOUT must be positive (got %s)", c.AWSTimeout))
	}
	if c.AWSMaxAttempts < 1 || c.AWSMaxAttempts > 10 {
		errs = append(errs, fmt.Errorf("AWS_MAX_ATTEMPTS must be 1..10 (got %d)", c.AWSMaxAttempts))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
