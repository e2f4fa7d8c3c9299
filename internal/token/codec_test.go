package token

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("shared-signing-secret")

func fixedNow() time.Time { return time.Unix(1_760_000_000, 0).UTC() }

func testCodec() *Codec {
	return NewCodec(testSecret, jwa.HS256).WithNow(fixedNow)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	codec := testCodec()
	claims := NewClaims("merchant-1", fixedNow(), 3*time.Hour)
	claims.Set("orderNumber", "1042")
	claims.Set("amount", 20.05)
	claims.Set("status", "SOLD")
	claims.Set("pin", "AAAA-BBBB")

	raw, err := codec.Encode(claims)
	require.NoError(t, err)

	decoded, err := codec.Decode(raw)
	require.NoError(t, err)
	require.Equal(t, claims.Issuer, decoded.Issuer)
	require.True(t, claims.IssuedAt.Equal(decoded.IssuedAt))
	require.True(t, claims.ExpiresAt.Equal(decoded.ExpiresAt))
	require.Equal(t, claims.Fields, decoded.Fields)
}

func TestNewClaimsBackdatesIssuedAt(t *testing.T) {
	claims := NewClaims("merchant-1", fixedNow(), 0)
	require.Equal(t, fixedNow().Add(-2*time.Minute), claims.IssuedAt)
	require.Equal(t, fixedNow().Add(DefaultTTL), claims.ExpiresAt)
}

func TestDecodeRejectsWrongSecret(t *testing.T) {
	raw, err := testCodec().Encode(NewClaims("merchant-1", fixedNow(), time.Hour))
	require.NoError(t, err)

	other := NewCodec([]byte("another-secret"), jwa.HS256).WithNow(fixedNow)
	_, err = other.Decode(raw)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestDecodeRejectsTamperedPayload(t *testing.T) {
	codec := testCodec()
	claims := NewClaims("merchant-1", fixedNow(), time.Hour)
	claims.Set("amount", 20.0)
	raw, err := codec.Encode(claims)
	require.NoError(t, err)

	forged := claims
	forged.Fields = map[string]any{"amount": 1.0}
	forgedRaw, err := NewCodec([]byte("attacker"), jwa.HS256).Encode(forged)
	require.NoError(t, err)

	parts := strings.Split(raw, ".")
	forgedParts := strings.Split(forgedRaw, ".")
	spliced := parts[0] + "." + forgedParts[1] + "." + parts[2]

	_, err = codec.Decode(spliced)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestDecodeExpired(t *testing.T) {
	codec := testCodec()
	claims := NewClaims("merchant-1", fixedNow().Add(-10*time.Hour), time.Hour)
	raw, err := codec.Encode(claims)
	require.NoError(t, err)

	_, err = codec.Decode(raw)
	require.ErrorIs(t, err, ErrExpired)
}

func TestDecodeRequiresExpiry(t *testing.T) {
	codec := testCodec()
	raw, err := codec.Encode(Claims{Issuer: "merchant-1", IssuedAt: fixedNow()})
	require.NoError(t, err)

	_, err = codec.Decode(raw)
	require.ErrorIs(t, err, ErrMalformedToken)
}

func TestDecodeMalformed(t *testing.T) {
	codec := testCodec()
	for _, raw := range []string{"", "not-a-token", "a.b", "a.b.c"} {
		_, err := codec.Decode(raw)
		require.ErrorIs(t, err, ErrMalformedToken, "input %q", raw)
	}
}

func TestDecodeUnsupportedAlgorithm(t *testing.T) {
	tok, err := jwt.NewBuilder().
		Issuer("merchant-1").
		IssuedAt(fixedNow()).
		Expiration(fixedNow().Add(time.Hour)).
		Build()
	require.NoError(t, err)
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS512, testSecret))
	require.NoError(t, err)

	_, err = testCodec().Decode(string(signed))
	require.ErrorIs(t, err, ErrUnsupportedAlgorithm)

	lenient := NewCodec(testSecret, jwa.HS256, jwa.HS256, jwa.HS512).WithNow(fixedNow)
	decoded, err := lenient.Decode(string(signed))
	require.NoError(t, err)
	require.Equal(t, "merchant-1", decoded.Issuer)
}

func TestDecodeRejectsNoneAlgorithm(t *testing.T) {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"iss":"merchant-1","exp":1999999999}`))

	_, err := testCodec().Decode(header + "." + payload + ".")
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrUnsupportedAlgorithm) || errors.Is(err, ErrMalformedToken), "unexpected error %v", err)
}

func TestClaimAccessors(t *testing.T) {
	claims := Claims{Fields: map[string]any{
		"orderNumber": float64(1042),
		"amount":      "20.05",
		"bad":         []any{1},
	}}

	id, ok := claims.String("orderNumber")
	require.True(t, ok)
	require.Equal(t, "1042", id)

	amount, ok := claims.Decimal("amount")
	require.True(t, ok)
	require.Equal(t, "20.05", amount.StringFixed(2))

	_, ok = claims.Decimal("bad")
	require.False(t, ok)
	_, ok = claims.String("missing")
	require.False(t, ok)
}

func TestParseAlgorithms(t *testing.T) {
	algs, err := ParseAlgorithms("HS256, hs512")
	require.NoError(t, err)
	require.Equal(t, []jwa.SignatureAlgorithm{jwa.HS256, jwa.HS512}, algs)

	_, err = ParseAlgorithms("RS256")
	require.ErrorIs(t, err, ErrUnsupportedAlgorithm)
}
