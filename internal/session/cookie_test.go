package session

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func TestCookieCodec_RoundTrip(t *testing.T) {
	c, err := NewCookieCodec(CookieOptions{Secret: testSecret, Secure: true, MaxAge: 24 * time.Hour})
	if err != nil {
		t.Fatalf("NewCookieCodec: %v", err)
	}

	rec := httptest.NewRecorder()
	if err := c.Write(rec, "session-id-1"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("got %d cookies", len(cookies))
	}
	ck := cookies[0]
	if ck.Name != DefaultCookieName || !ck.HttpOnly || !ck.Secure || ck.SameSite != http.SameSiteLaxMode || ck.Path != "/" {
		t.Fatalf("cookie attributes = %+v", ck)
	}
	if ck.Value == "session-id-1" {
		t.Fatal("cookie value should be signed, not the raw id")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/admin/auth/status", nil)
	req.AddCookie(ck)
	if got := c.Read(req); got != "session-id-1" {
		t.Fatalf("Read = %q", got)
	}
}

func TestCookieCodec_RejectsTampered(t *testing.T) {
	c, _ := NewCookieCodec(CookieOptions{Secret: testSecret})
	other, _ := NewCookieCodec(CookieOptions{Secret: []byte("ffffffffffffffffffffffffffffffff")})

	rec := httptest.NewRecorder()
	other.Write(rec, "forged")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(rec.Result().Cookies()[0])
	if got := c.Read(req); got != "" {
		t.Fatalf("Read of foreign cookie = %q, want empty", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	if got := c.Read(req); got != "" {
		t.Fatalf("Read without cookie = %q", got)
	}
}

func TestCookieCodec_Clear(t *testing.T) {
	c, _ := NewCookieCodec(CookieOptions{Secret: testSecret})
	rec := httptest.NewRecorder()
	c.Clear(rec)
	ck := rec.Result().Cookies()[0]
	if ck.MaxAge >= 0 || ck.Value != "" || ck.Secure {
		t.Fatalf("clear cookie = %+v", ck)
	}
}

func TestCookieCodec_EmptySecret(t *testing.T) {
	if _, err := NewCookieCodec(CookieOptions{}); err == nil {
		t.Fatal("expected error for empty secret")
	}
}
