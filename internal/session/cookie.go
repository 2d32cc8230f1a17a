package session

import (
	"net/http"
	"time"

	"github.com/gorilla/securecookie"

	"github.com/keithlinneman/listings-admin/internal/xerrors"
)

const DefaultCookieName = "listadm_session"

// CookieCodec signs the session id into the session cookie. The cookie
// carries nothing but the id.
type CookieCodec struct {
	sc     *securecookie.SecureCookie
	name   string
	secure bool
	maxAge time.Duration
}

type CookieOptions struct {
	Name string
	// Secret is the HMAC signing key.
	Secret []byte
	// Secure sets the Secure attribute, required in production.
	Secure bool
	MaxAge time.Duration
}

func NewCookieCodec(o CookieOptions) (*CookieCodec, error) {
	if len(o.Secret) == 0 {
		return nil, xerrors.New("session cookie secret is empty")
	}
	if o.Name == "" {
		o.Name = DefaultCookieName
	}
	sc := securecookie.New(o.Secret, nil)
	if o.MaxAge > 0 {
		sc.MaxAge(int(o.MaxAge / time.Second))
	}
	return &CookieCodec{sc: sc, name: o.Name, secure: o.Secure, maxAge: o.MaxAge}, nil
}

// Read returns the session id carried by r, "" when there is none or the
// signature does not verify.
func (c *CookieCodec) Read(r *http.Request) string {
	ck, err := r.Cookie(c.name)
	if err != nil {
		return ""
	}
	var id string
	if err := c.sc.Decode(c.name, ck.Value, &id); err != nil {
		return ""
	}
	return id
}

func (c *CookieCodec) Write(w http.ResponseWriter, id string) error {
	v, err := c.sc.Encode(c.name, id)
	if err != nil {
		return xerrors.Wrap(err, "encode session cookie")
	}
	http.SetCookie(w, c.cookie(v, int(c.maxAge/time.Second)))
	return nil
}

func (c *CookieCodec) Clear(w http.ResponseWriter) {
	http.SetCookie(w, c.cookie("", -1))
}

func (c *CookieCodec) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     c.name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	}
}
