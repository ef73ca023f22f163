package strm

import (
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testParams() url.Values {
	return url.Values{
		"site": {"aniworld.to"},
		"slug": {"frieren"},
		"s":    {"1"},
		"e":    {"5"},
		"lang": {"German Sub"},
	}
}

func TestSignedValuesVerify(t *testing.T) {
	signer := NewSigner("secret", time.Minute)

	signed, err := signer.SignedValues(testParams())
	require.NoError(t, err)
	assert.NotEmpty(t, signed.Get("sig"))
	assert.NotEmpty(t, signed.Get("exp"))

	assert.NoError(t, signer.Verify(signed))
}

func TestVerifyRejectsTampering(t *testing.T) {
	signer := NewSigner("secret", time.Minute)

	signed, err := signer.SignedValues(testParams())
	require.NoError(t, err)

	tampered := url.Values{}
	for k, vs := range signed {
		tampered[k] = append([]string(nil), vs...)
	}
	tampered.Set("e", "6")

	assert.ErrorIs(t, signer.Verify(tampered), ErrBadSignature)
}

func TestVerifyExpiry(t *testing.T) {
	signer := NewSigner("secret", time.Minute)

	expired := testParams()
	expired.Set("exp", strconv.FormatInt(time.Now().Add(-2*time.Minute).Unix(), 10))
	sig, err := signer.Sign(expired)
	require.NoError(t, err)
	expired.Set("sig", sig)

	assert.ErrorIs(t, signer.Verify(expired), ErrTokenExpired)

	// Inside the skew window a just-expired token still verifies.
	skewed := testParams()
	skewed.Set("exp", strconv.FormatInt(time.Now().Add(-10*time.Second).Unix(), 10))
	sig, err = signer.Sign(skewed)
	require.NoError(t, err)
	skewed.Set("sig", sig)

	assert.NoError(t, signer.Verify(skewed))
}

func TestVerifyMissingParams(t *testing.T) {
	signer := NewSigner("secret", time.Minute)

	assert.ErrorIs(t, signer.Verify(testParams()), ErrMissingParams)

	v := testParams()
	v.Set("exp", "not-a-number")
	v.Set("sig", "deadbeef")
	assert.ErrorIs(t, signer.Verify(v), ErrMissingParams)
}

func TestDisabledSigner(t *testing.T) {
	signer := NewSigner("", time.Minute)

	_, err := signer.SignedValues(testParams())
	assert.ErrorIs(t, err, ErrSignerDisabled)
	assert.ErrorIs(t, signer.Verify(testParams()), ErrSignerDisabled)
}

func TestSignatureIgnoresExtraParams(t *testing.T) {
	signer := NewSigner("secret", time.Minute)

	signed, err := signer.SignedValues(testParams())
	require.NoError(t, err)

	// Unsigned extra query parameters must not break verification.
	signed.Set("player", "kodi")
	assert.NoError(t, signer.Verify(signed))
}

func TestSignURL(t *testing.T) {
	signer := NewSigner("secret", time.Minute)

	u, err := signer.SignURL("http://bridge:8788/strm/stream", testParams())
	require.NoError(t, err)

	parsed, err := url.Parse(u)
	require.NoError(t, err)
	assert.Equal(t, "/strm/stream", parsed.Path)
	assert.NoError(t, signer.Verify(parsed.Query()))
}
