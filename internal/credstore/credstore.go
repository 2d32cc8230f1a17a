// Package credstore fetches the admin identity from SSM Parameter Store.
//
// The parameter holds a JSON document:
//
//	{"username": "...", "passwordHash": "$2a$...", "email": "..."}
//
// Credentials are fetched on every call, never cached, so a rotated
// parameter takes effect on the next login. When the parameter cannot be
// read the store falls back to the configured identity, which is always
// logged at error level and reported through OnFallback. Whether the
// fallback is actually used is decided by Options.AllowFallback.
package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/listings-admin/internal/adminerr"
	"github.com/keithlinneman/listings-admin/internal/log"
	"github.com/keithlinneman/listings-admin/internal/xerrors"
)

// Credentials is the single admin identity. PasswordHash is a bcrypt hash.
type Credentials struct {
	Username     string `json:"username"`
	PasswordHash string `json:"passwordHash"`
	Email        string `json:"email"`
}

func (c Credentials) complete() bool {
	return strings.TrimSpace(c.Username) != "" && c.PasswordHash != ""
}

// ssmParamFetcher is the subset of the SSM API needed to read the credential
// parameter. Extracted as an interface to enable unit testing without live
// AWS credentials.
type ssmParamFetcher interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Fallback reasons passed to Options.OnFallback.
const (
	ReasonNoParam   = "no_param"
	ReasonFetch     = "fetch_error"
	ReasonMalformed = "malformed"
)

type Options struct {
	// Param is the SSM parameter name. Empty means the fallback identity is
	// the only source.
	Param string

	Fallback Credentials

	// AllowFallback permits using Fallback when Param cannot be read. When
	// false the fetch fails with a BackendUnavailable error instead.
	AllowFallback bool

	// OnFallback is called with one of the Reason* constants each time the
	// fallback path is taken, whether or not it is allowed.
	OnFallback func(reason string)

	Logger log.Logger
}

type Store struct {
	client ssmParamFetcher
	opts   Options
}

// New returns a Store reading through client. client may be nil when no
// parameter is configured.
func New(client *ssm.Client, opts Options) *Store {
	s := &Store{opts: opts}
	if client != nil {
		s.client = client
	}
	if s.opts.Logger == nil {
		s.opts.Logger = log.Nop()
	}
	return s
}

// Fetch returns the admin credentials.
func (s *Store) Fetch(ctx context.Context) (Credentials, error) {
	if s.opts.Param == "" || s.client == nil {
		return s.fallback(ctx, ReasonNoParam, xerrors.New("no admin secret parameter configured"))
	}

	creds, err := s.fetchParam(ctx)
	if err != nil {
		reason := ReasonFetch
		if errors.Is(err, errMalformed) {
			reason = ReasonMalformed
		}
		return s.fallback(ctx, reason, err)
	}
	return creds, nil
}

var errMalformed = xerrors.New("malformed credential payload")

func (s *Store) fetchParam(ctx context.Context) (Credentials, error) {
	out, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(s.opts.Param),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return Credentials{}, xerrors.Wrapf(err, "get SSM parameter %s", s.opts.Param)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return Credentials{}, xerrors.Wrapf(errMalformed, "SSM parameter %s has no value", s.opts.Param)
	}

	var c Credentials
	if err := json.Unmarshal([]byte(*out.Parameter.Value), &c); err != nil {
		return Credentials{}, xerrors.Wrapf(errMalformed, "decode SSM parameter %s: %v", s.opts.Param, err)
	}
	c.Username = strings.TrimSpace(c.Username)
	if !c.complete() {
		return Credentials{}, xerrors.Wrapf(errMalformed, "SSM parameter %s is missing username or passwordHash", s.opts.Param)
	}
	return c, nil
}

func (s *Store) fallback(ctx context.Context, reason string, cause error) (Credentials, error) {
	if s.opts.OnFallback != nil {
		s.opts.OnFallback(reason)
	}
	s.opts.Logger.Error(ctx, cause, "admin credentials fallback in use",
		"secret.param", s.opts.Param,
		"reason", reason,
		"allowed", s.opts.AllowFallback,
	)

	if !s.opts.AllowFallback {
		return Credentials{}, adminerr.BackendUnavailable("credential store unavailable", cause)
	}
	if !s.opts.Fallback.complete() {
		return Credentials{}, adminerr.BackendUnavailable("credential store unavailable",
			xerrors.Wrap(cause, "fallback admin identity is not configured"))
	}
	return s.opts.Fallback, nil
}
