package session

import (
	"context"
	"time"
)

// Record is the server side session state.
type Record struct {
	Authenticated bool      `json:"authenticated"`
	Username      string    `json:"username"`
	Email         string    `json:"email"`
	LoginTime     time.Time `json:"loginTime"`
	LastActivity  time.Time `json:"lastActivity"`
}

// Idle reports how long the record has been idle at now.
func (r Record) Idle(now time.Time) time.Duration {
	return now.Sub(r.LastActivity)
}

// touched returns r with LastActivity advanced to now, never moved backwards.
func (r Record) touched(now time.Time) Record {
	if now.After(r.LastActivity) {
		r.LastActivity = now
	}
	return r
}

type recordKey struct{}

// withRecord marks ctx as carrying a validated session.
func withRecord(ctx context.Context, rec Record) context.Context {
	return context.WithValue(ctx, recordKey{}, rec)
}

// FromContext returns the session validated for this request, if any.
func FromContext(ctx context.Context) (Record, bool) {
	rec, ok := ctx.Value(recordKey{}).(Record)
	return rec, ok
}
