package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/keithlinneman/listings-admin/internal/adminerr"
	"github.com/keithlinneman/listings-admin/internal/credstore"
	"github.com/keithlinneman/listings-admin/internal/ratelimit"
)

type fakeCreds struct {
	creds credstore.Credentials
	err   error
}

func (f *fakeCreds) Fetch(context.Context) (credstore.Credentials, error) { return f.creds, f.err }

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func mustHash(t *testing.T, pw string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(h)
}

type guardFixture struct {
	guard   *Guard
	store   *MemoryStore
	clock   *testClock
	creds   *fakeCreds
	results []string
	expired int
}

func newGuardFixture(t *testing.T, limiter ratelimit.Window) *guardFixture {
	t.Helper()
	f := &guardFixture{
		clock: &testClock{t: t0},
		creds: &fakeCreds{creds: credstore.Credentials{
			Username:     "Admin",
			PasswordHash: mustHash(t, "correct horse"),
			Email:        "admin@example.com",
		}},
	}
	f.store = NewMemoryStore(f.clock.Now)
	if limiter == nil {
		ctx, cancel := context.WithCancel(context.Background())
		t.Cleanup(cancel)
		limiter = ratelimit.NewMemoryWindow(ctx, 5, 15*time.Minute, f.clock.Now)
	}
	g, err := NewGuard(Options{
		Store:       f.store,
		Credentials: f.creds,
		Limiter:     limiter,
		Now:         f.clock.Now,
		OnLogin:     func(r string) { f.results = append(f.results, r) },
		OnExpired:   func() { f.expired++ },
	})
	if err != nil {
		t.Fatalf("NewGuard: %v", err)
	}
	f.guard = g
	return f
}

func (f *guardFixture) login(t *testing.T, user, pass string) (string, error) {
	t.Helper()
	id, _, err := f.guard.Login(t.Context(), LoginInput{Username: user, Password: pass, ClientIP: "203.0.113.9"})
	return id, err
}

func TestLogin_Success(t *testing.T) {
	f := newGuardFixture(t, nil)

	id, rec, err := f.guard.Login(t.Context(), LoginInput{Username: "  admin ", Password: "correct horse", ClientIP: "203.0.113.9"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if id == "" {
		t.Fatal("empty session id")
	}
	if !rec.Authenticated || rec.Username != "Admin" || rec.Email != "admin@example.com" {
		t.Fatalf("rec = %+v", rec)
	}
	if !rec.LoginTime.Equal(t0) || !rec.LastActivity.Equal(t0) {
		t.Fatalf("timestamps = %s / %s", rec.LoginTime, rec.LastActivity)
	}
	if _, err := f.store.Load(t.Context(), id); err != nil {
		t.Fatalf("session not stored: %v", err)
	}
	if len(f.results) != 1 || f.results[0] != ResultSuccess {
		t.Fatalf("results = %v", f.results)
	}
}

func TestLogin_MissingFields(t *testing.T) {
	f := newGuardFixture(t, nil)
	for _, in := range [][2]string{{"", "pw"}, {"admin", ""}, {"   ", "pw"}} {
		if _, err := f.login(t, in[0], in[1]); !adminerr.IsKind(err, adminerr.KindValidation) {
			t.Errorf("Login(%q, %q) = %v, want validation error", in[0], in[1], err)
		}
	}
}

func TestLogin_FailuresIndistinguishable(t *testing.T) {
	f := newGuardFixture(t, ratelimit.Bypass{})

	_, wrongPass := f.login(t, "admin", "wrong")
	_, wrongUser := f.login(t, "someone", "correct horse")
	_, both := f.login(t, "someone", "wrong")

	for _, err := range []error{wrongPass, wrongUser, both} {
		if !adminerr.IsKind(err, adminerr.KindInvalidCredentials) {
			t.Fatalf("err = %v, want invalid credentials", err)
		}
		if err.Error() != wrongPass.Error() {
			t.Fatalf("error text differs: %q vs %q", err.Error(), wrongPass.Error())
		}
		if adminerr.PublicMessage(err, true) != adminerr.PublicMessage(wrongPass, true) {
			t.Fatal("public message differs between failure causes")
		}
	}
}

func TestLogin_BrokenStoredHashIsInvalidCredentials(t *testing.T) {
	f := newGuardFixture(t, ratelimit.Bypass{})
	f.creds.creds.PasswordHash = "not-a-bcrypt-hash"

	if _, err := f.login(t, "admin", "correct horse"); !adminerr.IsKind(err, adminerr.KindInvalidCredentials) {
		t.Fatalf("err = %v, want invalid credentials", err)
	}
}

func TestLogin_SixthAttemptRateLimited(t *testing.T) {
	f := newGuardFixture(t, nil)

	for i := 0; i < 5; i++ {
		if _, err := f.login(t, "admin", "wrong"); !adminerr.IsKind(err, adminerr.KindInvalidCredentials) {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}
	// correct credentials do not help once the budget is spent
	if _, err := f.login(t, "admin", "correct horse"); !adminerr.IsKind(err, adminerr.KindRateLimited) {
		t.Fatalf("6th attempt: %v, want rate limited", err)
	}
	if last := f.results[len(f.results)-1]; last != ResultRateLimited {
		t.Fatalf("last result = %s", last)
	}

	f.clock.Advance(15 * time.Minute)
	if _, err := f.login(t, "admin", "correct horse"); err != nil {
		t.Fatalf("after window: %v", err)
	}
}

func TestLogin_BypassInDevelopment(t *testing.T) {
	f := newGuardFixture(t, ratelimit.Bypass{})
	for i := 0; i < 10; i++ {
		f.login(t, "admin", "wrong")
	}
	if _, err := f.login(t, "admin", "correct horse"); err != nil {
		t.Fatalf("bypassed limiter should allow login: %v", err)
	}
}

type failingWindow struct{}

func (failingWindow) Hit(context.Context, string) (bool, error) { return false, errors.New("redis down") }

func TestLogin_BackendFailures(t *testing.T) {
	f := newGuardFixture(t, failingWindow{})
	if _, err := f.login(t, "admin", "correct horse"); !adminerr.IsKind(err, adminerr.KindBackendUnavailable) {
		t.Fatalf("limiter failure: %v", err)
	}

	f = newGuardFixture(t, ratelimit.Bypass{})
	f.creds.err = errors.New("ssm unreachable")
	if _, err := f.login(t, "admin", "correct horse"); !adminerr.IsKind(err, adminerr.KindBackendUnavailable) {
		t.Fatalf("credential failure: %v", err)
	}
}

func TestLogin_RotatesPriorSession(t *testing.T) {
	f := newGuardFixture(t, ratelimit.Bypass{})
	old, err := f.login(t, "admin", "correct horse")
	if err != nil {
		t.Fatal(err)
	}

	id, _, err := f.guard.Login(t.Context(), LoginInput{Username: "admin", Password: "correct horse", PriorID: old})
	if err != nil {
		t.Fatal(err)
	}
	if id == old {
		t.Fatal("login must issue a fresh session id")
	}
	if _, err := f.store.Load(t.Context(), old); !errors.Is(err, ErrNotFound) {
		t.Fatalf("prior session should be destroyed: %v", err)
	}
}

func TestValidate_IdleTimeout(t *testing.T) {
	f := newGuardFixture(t, ratelimit.Bypass{})
	id, _ := f.login(t, "admin", "correct horse")

	f.clock.Advance(time.Hour)
	rec, err := f.guard.Validate(t.Context(), id)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !rec.LastActivity.Equal(t0.Add(time.Hour)) {
		t.Fatalf("LastActivity = %s", rec.LastActivity)
	}

	f.clock.Advance(2*time.Hour + time.Second)
	if st := f.guard.Status(t.Context(), id); st.Authenticated {
		t.Fatal("status must report idle session as unauthenticated")
	}
	// status did not destroy it
	if _, err := f.store.Load(t.Context(), id); err != nil {
		t.Fatalf("status mutated the session: %v", err)
	}

	if _, err := f.guard.Validate(t.Context(), id); !adminerr.IsKind(err, adminerr.KindSessionExpired) {
		t.Fatalf("Validate after idle: %v, want session expired", err)
	}
	if f.expired != 1 {
		t.Fatalf("expired hook calls = %d", f.expired)
	}
	if _, err := f.store.Load(t.Context(), id); !errors.Is(err, ErrNotFound) {
		t.Fatal("expired session should be destroyed")
	}
	if st := f.guard.Status(t.Context(), id); st.Authenticated {
		t.Fatal("status after expiry should be unauthenticated")
	}
	if _, err := f.guard.Validate(t.Context(), id); !adminerr.IsKind(err, adminerr.KindUnauthenticated) {
		t.Fatalf("second Validate: %v, want unauthenticated", err)
	}
}

func TestValidate_NoSession(t *testing.T) {
	f := newGuardFixture(t, ratelimit.Bypass{})
	for _, id := range []string{"", "unknown"} {
		if _, err := f.guard.Validate(t.Context(), id); !adminerr.IsKind(err, adminerr.KindUnauthenticated) {
			t.Errorf("Validate(%q) = %v", id, err)
		}
	}
}

func TestStatus(t *testing.T) {
	f := newGuardFixture(t, ratelimit.Bypass{})
	if st := f.guard.Status(t.Context(), ""); st.Authenticated || st.LoginTime != nil {
		t.Fatalf("anonymous status = %+v", st)
	}
	id, _ := f.login(t, "admin", "correct horse")
	st := f.guard.Status(t.Context(), id)
	if !st.Authenticated || st.Username != "Admin" || st.Email != "admin@example.com" || !st.LoginTime.Equal(t0) {
		t.Fatalf("status = %+v", st)
	}
}

type failingDeleteStore struct{ *MemoryStore }

func (failingDeleteStore) Delete(context.Context, string) error { return errors.New("store down") }

func TestLogout(t *testing.T) {
	f := newGuardFixture(t, ratelimit.Bypass{})
	id, _ := f.login(t, "admin", "correct horse")

	if err := f.guard.Logout(t.Context(), id); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := f.store.Load(t.Context(), id); !errors.Is(err, ErrNotFound) {
		t.Fatal("session should be gone")
	}
	if err := f.guard.Logout(t.Context(), ""); err != nil {
		t.Fatalf("Logout without session: %v", err)
	}
	if err := f.guard.Logout(t.Context(), "unknown"); err != nil {
		t.Fatalf("Logout unknown: %v", err)
	}

	f.guard.store = failingDeleteStore{f.store}
	if err := f.guard.Logout(t.Context(), id); !adminerr.IsKind(err, adminerr.KindLogoutFailed) {
		t.Fatalf("Logout with failing store: %v", err)
	}
}

func TestNewGuard_RejectsShortMaxAge(t *testing.T) {
	_, err := NewGuard(Options{
		Store:       NewMemoryStore(nil),
		Credentials: &fakeCreds{},
		Limiter:     ratelimit.Bypass{},
		IdleTimeout: 2 * time.Hour,
		MaxAge:      time.Hour,
	})
	if err == nil {
		t.Fatal("expected error when max age <= idle timeout")
	}
}

// countingStore counts Touch calls.
type countingStore struct {
	*MemoryStore
	touches int
}

func (c *countingStore) Touch(ctx context.Context, id string, now time.Time, idle time.Duration) (Record, error) {
	c.touches++
	return c.MemoryStore.Touch(ctx, id, now, idle)
}

func TestValidator_Middleware(t *testing.T) {
	f := newGuardFixture(t, ratelimit.Bypass{})
	cs := &countingStore{MemoryStore: f.store}
	f.guard.store = cs
	cookies, _ := NewCookieCodec(CookieOptions{Secret: testSecret})

	var gotErr error
	v := NewValidator(f.guard, cookies, func(w http.ResponseWriter, r *http.Request, err error) {
		gotErr = err
		w.WriteHeader(adminerr.Status(adminerr.KindOf(err)))
	})

	var seen Record
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	// stacked twice, as a route group pre-filter and on the handler
	h := v.Middleware(v.Middleware(inner))

	req := httptest.NewRequest(http.MethodGet, "/api/admin/dashboard", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized || !adminerr.IsKind(gotErr, adminerr.KindUnauthenticated) {
		t.Fatalf("anonymous: code=%d err=%v", rec.Code, gotErr)
	}

	id, _ := f.login(t, "admin", "correct horse")
	w := httptest.NewRecorder()
	cookies.Write(w, id)
	ck := w.Result().Cookies()[0]

	f.clock.Advance(time.Minute)
	req = httptest.NewRequest(http.MethodGet, "/api/admin/dashboard", nil)
	req.AddCookie(ck)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("authenticated: code=%d", rec.Code)
	}
	if seen.Username != "Admin" || !seen.LastActivity.Equal(t0.Add(time.Minute)) {
		t.Fatalf("record in context = %+v", seen)
	}
	if cs.touches != 1 {
		t.Fatalf("touches = %d, want 1", cs.touches)
	}

	f.clock.Advance(3 * time.Hour)
	req = httptest.NewRequest(http.MethodGet, "/api/admin/dashboard", nil)
	req.AddCookie(ck)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if !adminerr.IsKind(gotErr, adminerr.KindSessionExpired) {
		t.Fatalf("expired: err=%v", gotErr)
	}
	cleared := rec.Result().Cookies()
	if len(cleared) != 1 || cleared[0].MaxAge >= 0 {
		t.Fatalf("expired session cookie should be cleared, got %+v", cleared)
	}
}
