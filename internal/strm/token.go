// Package strm implements the STRM reverse proxy: signed stable URLs
// written into .strm files, upstream resolution with refresh on expiry,
// HLS playlist rewriting, and transparent byte proxying.
package strm

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// AuthMode selects how proxy requests authenticate.
type AuthMode string

const (
	AuthNone   AuthMode = "none"
	AuthAPIKey AuthMode = "apikey"
	AuthToken  AuthMode = "token"
)

// Token verification failures.
var (
	ErrTokenExpired   = errors.New("strm: token expired")
	ErrBadSignature   = errors.New("strm: bad signature")
	ErrMissingParams  = errors.New("strm: missing signature parameters")
	ErrSignerDisabled = errors.New("strm: no signing secret configured")
)

// clockSkewTolerance absorbs small clock differences between the signer
// and a verifier on another host.
const clockSkewTolerance = 30 * time.Second

// canonicalKeys is the fixed parameter order the HMAC covers. Absent
// keys are skipped; extra query parameters never affect the signature.
var canonicalKeys = []string{"site", "slug", "s", "e", "lang", "provider", "exp", "u"}

// Signer issues and verifies HMAC-SHA256 URL signatures.
type Signer struct {
	secret []byte
	ttl    time.Duration
}

// NewSigner creates a signer. An empty secret yields a disabled signer
// whose Sign and Verify both fail; callers pair that with AuthNone.
func NewSigner(secret string, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	var key []byte
	if secret != "" {
		key = []byte(secret)
	}
	return &Signer{secret: key, ttl: ttl}
}

func (s *Signer) canonical(v url.Values) string {
	buf := make([]byte, 0, 128)
	for _, key := range canonicalKeys {
		if !v.Has(key) {
			continue
		}
		if len(buf) > 0 {
			buf = append(buf, '&')
		}
		buf = append(buf, key...)
		buf = append(buf, '=')
		buf = append(buf, v.Get(key)...)
	}
	return string(buf)
}

// Sign computes the hex signature over the canonical parameters. The
// caller must have set exp already.
func (s *Signer) Sign(v url.Values) (string, error) {
	if s.secret == nil {
		return "", ErrSignerDisabled
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(s.canonical(v)))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// SignedValues stamps an expiry and signature onto a copy of the given
// parameters.
func (s *Signer) SignedValues(v url.Values) (url.Values, error) {
	out := url.Values{}
	for key, vals := range v {
		for _, val := range vals {
			out.Add(key, val)
		}
	}
	out.Set("exp", strconv.FormatInt(time.Now().Add(s.ttl).Unix(), 10))

	sig, err := s.Sign(out)
	if err != nil {
		return nil, err
	}
	out.Set("sig", sig)
	return out, nil
}

// Verify checks expiry and signature of a request's query parameters.
// Comparison is constant-time.
func (s *Signer) Verify(v url.Values) error {
	if s.secret == nil {
		return ErrSignerDisabled
	}
	sig := v.Get("sig")
	expStr := v.Get("exp")
	if sig == "" || expStr == "" {
		return ErrMissingParams
	}

	exp, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad exp", ErrMissingParams)
	}
	if time.Now().Add(-clockSkewTolerance).Unix() > exp {
		return ErrTokenExpired
	}

	expected, err := s.Sign(v)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(sig), []byte(expected)) {
		return ErrBadSignature
	}
	return nil
}

// SignURL builds a complete signed URL from a base endpoint and
// parameters.
func (s *Signer) SignURL(endpoint string, params url.Values) (string, error) {
	signed, err := s.SignedValues(params)
	if err != nil {
		return "", err
	}
	return endpoint + "?" + signed.Encode(), nil
}
