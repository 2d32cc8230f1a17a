package credstore

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/keithlinneman/listings-admin/internal/adminerr"
	"github.com/keithlinneman/listings-admin/internal/log"
)

type fakeSSM struct {
	value *string
	err   error
	calls int
	in    *ssm.GetParameterInput
}

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.calls++
	f.in = in
	if f.err != nil {
		return nil, f.err
	}
	return &ssm.GetParameterOutput{Parameter: &ssmtypes.Parameter{Value: f.value}}, nil
}

// errorLog records Error calls.
type errorLog struct {
	log.Logger
	mu   sync.Mutex
	msgs []string
}

func (l *errorLog) Error(_ context.Context, _ error, msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, msg)
}

var fallbackCreds = Credentials{Username: "fallback", PasswordHash: "$2a$10$fallbackhash", Email: "ops@example.com"}

func newTestStore(f *fakeSSM, allow bool) (*Store, *errorLog, *[]string) {
	lg := &errorLog{Logger: log.Nop()}
	var reasons []string
	s := &Store{client: f, opts: Options{
		Param:         "/listings/admin/credentials",
		Fallback:      fallbackCreds,
		AllowFallback: allow,
		OnFallback:    func(r string) { reasons = append(reasons, r) },
		Logger:        lg,
	}}
	return s, lg, &reasons
}

func TestFetch_FromParameter(t *testing.T) {
	f := &fakeSSM{value: aws.String(`{"username":" admin ","passwordHash":"$2a$10$abc","email":"a@example.com"}`)}
	s, lg, reasons := newTestStore(f, false)

	c, err := s.Fetch(t.Context())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if c.Username != "admin" || c.PasswordHash != "$2a$10$abc" || c.Email != "a@example.com" {
		t.Fatalf("creds = %+v", c)
	}
	if !aws.ToBool(f.in.WithDecryption) || aws.ToString(f.in.Name) != "/listings/admin/credentials" {
		t.Fatalf("input = %+v", f.in)
	}
	if len(lg.msgs) != 0 || len(*reasons) != 0 {
		t.Fatalf("unexpected fallback: logs=%v reasons=%v", lg.msgs, *reasons)
	}
}

func TestFetch_NoCaching(t *testing.T) {
	f := &fakeSSM{value: aws.String(`{"username":"admin","passwordHash":"h1"}`)}
	s, _, _ := newTestStore(f, false)

	if _, err := s.Fetch(t.Context()); err != nil {
		t.Fatal(err)
	}
	f.value = aws.String(`{"username":"admin","passwordHash":"h2"}`)
	c, err := s.Fetch(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if c.PasswordHash != "h2" || f.calls != 2 {
		t.Fatalf("rotation not picked up: hash=%q calls=%d", c.PasswordHash, f.calls)
	}
}

func TestFetch_FallbackAllowed(t *testing.T) {
	tests := []struct {
		name   string
		f      *fakeSSM
		reason string
	}{
		{"fetch error", &fakeSSM{err: errors.New("ParameterNotFound")}, ReasonFetch},
		{"nil value", &fakeSSM{}, ReasonMalformed},
		{"bad json", &fakeSSM{value: aws.String("not json")}, ReasonMalformed},
		{"missing hash", &fakeSSM{value: aws.String(`{"username":"admin"}`)}, ReasonMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, lg, reasons := newTestStore(tt.f, true)
			c, err := s.Fetch(t.Context())
			if err != nil {
				t.Fatalf("Fetch: %v", err)
			}
			if c != fallbackCreds {
				t.Fatalf("creds = %+v, want fallback", c)
			}
			if len(lg.msgs) != 1 || lg.msgs[0] != "admin credentials fallback in use" {
				t.Fatalf("logs = %v", lg.msgs)
			}
			if len(*reasons) != 1 || (*reasons)[0] != tt.reason {
				t.Fatalf("reasons = %v, want %s", *reasons, tt.reason)
			}
		})
	}
}

func TestFetch_FallbackRefused(t *testing.T) {
	s, lg, reasons := newTestStore(&fakeSSM{err: errors.New("timeout")}, false)

	_, err := s.Fetch(t.Context())
	if !adminerr.IsKind(err, adminerr.KindBackendUnavailable) {
		t.Fatalf("err = %v, want BackendUnavailable", err)
	}
	// refused fallbacks are still loud
	if len(lg.msgs) != 1 || len(*reasons) != 1 {
		t.Fatalf("logs=%v reasons=%v", lg.msgs, *reasons)
	}
}

func TestFetch_IncompleteFallback(t *testing.T) {
	s, _, _ := newTestStore(&fakeSSM{err: errors.New("timeout")}, true)
	s.opts.Fallback = Credentials{Username: "admin"}

	_, err := s.Fetch(t.Context())
	if !adminerr.IsKind(err, adminerr.KindBackendUnavailable) {
		t.Fatalf("err = %v, want BackendUnavailable", err)
	}
}

func TestFetch_NoParamConfigured(t *testing.T) {
	var reasons []string
	s := New(nil, Options{
		Fallback:      fallbackCreds,
		AllowFallback: true,
		OnFallback:    func(r string) { reasons = append(reasons, r) },
	})
	c, err := s.Fetch(t.Context())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if c != fallbackCreds || len(reasons) != 1 || reasons[0] != ReasonNoParam {
		t.Fatalf("creds=%+v reasons=%v", c, reasons)
	}
}
