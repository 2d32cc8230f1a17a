package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/keithlinneman/listings-admin/internal/adminerr"
	"github.com/keithlinneman/listings-admin/internal/credstore"
	"github.com/keithlinneman/listings-admin/internal/log"
	"github.com/keithlinneman/listings-admin/internal/ratelimit"
	"github.com/keithlinneman/listings-admin/internal/xerrors"
)

const (
	DefaultIdleTimeout = 2 * time.Hour
	DefaultMaxAge      = 24 * time.Hour
)

// Login results passed to Options.OnLogin.
const (
	ResultSuccess     = "success"
	ResultInvalid     = "invalid"
	ResultRateLimited = "rate_limited"
	ResultError       = "error"
)

// CredentialSource returns the current admin identity.
type CredentialSource interface {
	Fetch(ctx context.Context) (credstore.Credentials, error)
}

type Options struct {
	Store       Store
	Credentials CredentialSource
	// Limiter counts login attempts per client IP. Use ratelimit.Bypass to
	// disable limiting.
	Limiter ratelimit.Window

	IdleTimeout time.Duration
	// MaxAge is the store TTL of a session regardless of activity. It must
	// exceed IdleTimeout so idle sessions are seen, and destroyed, as expired.
	MaxAge time.Duration

	Now func() time.Time

	OnLogin   func(result string)
	OnExpired func()
}

// Guard implements login, the authenticated request gate, logout and status.
type Guard struct {
	store   Store
	creds   CredentialSource
	limiter ratelimit.Window
	idle    time.Duration
	maxAge  time.Duration
	now     func() time.Time

	onLogin   func(string)
	onExpired func()
}

func NewGuard(o Options) (*Guard, error) {
	if o.Store == nil {
		return nil, xerrors.New("session store is required")
	}
	if o.Credentials == nil {
		return nil, xerrors.New("credential source is required")
	}
	if o.Limiter == nil {
		return nil, xerrors.New("login limiter is required")
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = DefaultIdleTimeout
	}
	if o.MaxAge <= 0 {
		o.MaxAge = DefaultMaxAge
	}
	if o.MaxAge <= o.IdleTimeout {
		return nil, xerrors.Newf("session max age %s must exceed idle timeout %s", o.MaxAge, o.IdleTimeout)
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	g := &Guard{
		store:     o.Store,
		creds:     o.Credentials,
		limiter:   o.Limiter,
		idle:      o.IdleTimeout,
		maxAge:    o.MaxAge,
		now:       o.Now,
		onLogin:   o.OnLogin,
		onExpired: o.OnExpired,
	}
	if g.onLogin == nil {
		g.onLogin = func(string) {}
	}
	if g.onExpired == nil {
		g.onExpired = func() {}
	}
	return g, nil
}

func (g *Guard) IdleTimeout() time.Duration { return g.idle }

type LoginInput struct {
	Username string
	Password string
	ClientIP string
	// PriorID is the session id the client presented, destroyed on success.
	PriorID string
}

// dummyHash is compared against when the username does not match so both
// failure paths cost one bcrypt verification.
var dummyHash = func() []byte {
	h, err := bcrypt.GenerateFromPassword([]byte("listings-admin-dummy"), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}
	return h
}()

// Login checks the attempt budget, then the credentials, and stores a new
// session under a fresh id.
func (g *Guard) Login(ctx context.Context, in LoginInput) (string, Record, error) {
	lg := log.FromContext(ctx).With("username", in.Username, "client.address", in.ClientIP)

	ok, err := g.limiter.Hit(ctx, in.ClientIP)
	if err != nil {
		g.onLogin(ResultError)
		return "", Record{}, adminerr.BackendUnavailable("login limiter unavailable", err)
	}
	if !ok {
		g.onLogin(ResultRateLimited)
		lg.Warn(ctx, "admin login rate limited")
		return "", Record{}, adminerr.RateLimited()
	}

	if strings.TrimSpace(in.Username) == "" || in.Password == "" {
		return "", Record{}, adminerr.Validation("username and password are required")
	}

	creds, err := g.creds.Fetch(ctx)
	if err != nil {
		g.onLogin(ResultError)
		lg.Error(ctx, err, "admin login failed", "reason", "credentials_unavailable")
		if adminerr.KindOf(err) == adminerr.KindInternal {
			err = adminerr.BackendUnavailable("credential store unavailable", err)
		}
		return "", Record{}, err
	}

	userOK := usernameMatches(in.Username, creds.Username)
	hash := []byte(creds.PasswordHash)
	if !userOK {
		hash = dummyHash
	}
	err = bcrypt.CompareHashAndPassword(hash, []byte(in.Password))
	passOK := err == nil

	if !userOK || !passOK {
		reason := "password_mismatch"
		switch {
		case !userOK:
			reason = "username_mismatch"
		case !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
			// a broken stored hash still answers as invalid credentials
			lg.Error(ctx, xerrors.Wrap(err, "verify admin password hash"), "admin password hash is unusable")
			reason = "bad_password_hash"
		}
		g.onLogin(ResultInvalid)
		lg.Warn(ctx, "admin login failed", "reason", reason)
		return "", Record{}, adminerr.InvalidCredentials()
	}

	now := g.now()
	rec := Record{
		Authenticated: true,
		Username:      creds.Username,
		Email:         creds.Email,
		LoginTime:     now,
		LastActivity:  now,
	}
	id := uuid.NewString()
	if err := g.store.Save(ctx, id, rec, g.maxAge); err != nil {
		g.onLogin(ResultError)
		lg.Error(ctx, err, "admin login failed", "reason", "session_store")
		return "", Record{}, adminerr.BackendUnavailable("session store unavailable", err)
	}
	if in.PriorID != "" && in.PriorID != id {
		if err := g.store.Delete(ctx, in.PriorID); err != nil {
			lg.Warn(ctx, "failed to destroy previous session", "error", err.Error())
		}
	}

	g.onLogin(ResultSuccess)
	lg.Info(ctx, "admin login succeeded")
	return id, rec, nil
}

func usernameMatches(given, want string) bool {
	a := strings.ToLower(strings.TrimSpace(given))
	b := strings.ToLower(strings.TrimSpace(want))
	return b != "" && subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Validate is the authenticated request gate.
func (g *Guard) Validate(ctx context.Context, id string) (Record, error) {
	if id == "" {
		return Record{}, adminerr.Unauthenticated()
	}
	now := g.now()
	rec, err := g.store.Touch(ctx, id, now, g.idle)
	switch {
	case errors.Is(err, ErrNotFound):
		return Record{}, adminerr.Unauthenticated()
	case errors.Is(err, ErrExpired):
		g.onExpired()
		log.FromContext(ctx).Info(ctx, "admin session expired",
			"username", rec.Username,
			"idle", rec.Idle(now).Truncate(time.Second).String(),
		)
		return Record{}, adminerr.SessionExpired()
	case err != nil:
		return Record{}, adminerr.BackendUnavailable("session store unavailable", err)
	}
	if !rec.Authenticated {
		return Record{}, adminerr.Unauthenticated()
	}
	return rec, nil
}

// Logout destroys the session. Unknown or empty ids succeed.
func (g *Guard) Logout(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if err := g.store.Delete(ctx, id); err != nil {
		return adminerr.LogoutFailed(err)
	}
	return nil
}

// Status is the read-only view returned by the status query.
type Status struct {
	Authenticated bool       `json:"authenticated"`
	Username      string     `json:"username,omitempty"`
	Email         string     `json:"email,omitempty"`
	LoginTime     *time.Time `json:"loginTime,omitempty"`
	LastActivity  *time.Time `json:"lastActivity,omitempty"`
}

// Status never fails and never mutates the session. A session past its idle
// timeout reports as unauthenticated.
func (g *Guard) Status(ctx context.Context, id string) Status {
	if id == "" {
		return Status{}
	}
	rec, err := g.store.Load(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.FromContext(ctx).Warn(ctx, "session status lookup failed", "error", err.Error())
		}
		return Status{}
	}
	if !rec.Authenticated || rec.Idle(g.now()) > g.idle {
		return Status{}
	}
	return Status{
		Authenticated: true,
		Username:      rec.Username,
		Email:         rec.Email,
		LoginTime:     &rec.LoginTime,
		LastActivity:  &rec.LastActivity,
	}
}

// ErrorWriter renders a gate failure.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// Validator is the single session check used by every admin route. A
// request that already passed it is not touched again, so stacking the
// middleware on a route group and a handler is harmless.
type Validator struct {
	guard   *Guard
	cookies *CookieCodec
	onError ErrorWriter
}

func NewValidator(g *Guard, c *CookieCodec, onError ErrorWriter) *Validator {
	return &Validator{guard: g, cookies: c, onError: onError}
}

func (v *Validator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := FromContext(r.Context()); ok {
			next.ServeHTTP(w, r)
			return
		}
		rec, err := v.guard.Validate(r.Context(), v.cookies.Read(r))
		if err != nil {
			if adminerr.IsKind(err, adminerr.KindSessionExpired) {
				v.cookies.Clear(w)
			}
			v.onError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withRecord(r.Context(), rec)))
	})
}
