package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

var (
	// ErrInvalidSignature is returned when the token signature does not verify.
	ErrInvalidSignature = errors.New("token: invalid signature")
	// ErrExpired is returned when the expires-at claim lies in the past.
	ErrExpired = errors.New("token: expired")
	// ErrMalformedToken is returned when the token structure cannot be parsed.
	ErrMalformedToken = errors.New("token: malformed")
	// ErrUnsupportedAlgorithm is returned when the signing algorithm is not allowed.
	ErrUnsupportedAlgorithm = errors.New("token: unsupported algorithm")
)

// DefaultAlgorithm is used when a codec has no algorithm configured.
const DefaultAlgorithm = jwa.HS256

// Codec signs and verifies compact JWS claim sets with a shared secret.
type Codec struct {
	Secret    []byte
	Algorithm jwa.SignatureAlgorithm
	Allowed   []jwa.SignatureAlgorithm
	Skew      time.Duration

	now func() time.Time
}

// NewCodec builds a codec signing with alg and accepting the allowed algorithms.
// An empty allow-list accepts only the signing algorithm.
func NewCodec(secret []byte, alg jwa.SignatureAlgorithm, allowed ...jwa.SignatureAlgorithm) *Codec {
	if alg == "" {
		alg = DefaultAlgorithm
	}
	if len(allowed) == 0 {
		allowed = []jwa.SignatureAlgorithm{alg}
	}
	return &Codec{Secret: secret, Algorithm: alg, Allowed: allowed, now: time.Now}
}

// WithNow overrides the codec clock.
func (c *Codec) WithNow(now func() time.Time) *Codec {
	if now != nil {
		c.now = now
	}
	return c
}

// Encode signs the claim set.
func (c *Codec) Encode(claims Claims) (string, error) {
	if len(c.Secret) == 0 {
		return "", errors.New("token: signing secret not configured")
	}
	tok := jwt.New()
	for name, value := range claims.Fields {
		if err := tok.Set(name, value); err != nil {
			return "", fmt.Errorf("token: set claim %s: %w", name, err)
		}
	}
	if claims.Issuer != "" {
		if err := tok.Set(jwt.IssuerKey, claims.Issuer); err != nil {
			return "", err
		}
	}
	if !claims.IssuedAt.IsZero() {
		if err := tok.Set(jwt.IssuedAtKey, claims.IssuedAt); err != nil {
			return "", err
		}
	}
	if !claims.ExpiresAt.IsZero() {
		if err := tok.Set(jwt.ExpirationKey, claims.ExpiresAt); err != nil {
			return "", err
		}
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(c.algorithm(), c.Secret))
	if err != nil {
		return "", fmt.Errorf("token: sign: %w", err)
	}
	return string(signed), nil
}

// Decode verifies the signature before any claim is read, then parses and
// validates the claim set.
func (c *Codec) Decode(raw string) (Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Claims{}, ErrMalformedToken
	}
	alg, err := signatureAlgorithm(raw)
	if err != nil {
		return Claims{}, err
	}
	if !c.allowed(alg) {
		return Claims{}, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, alg)
	}
	payload, err := jws.Verify([]byte(raw), jws.WithKey(alg, c.Secret))
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	tok, err := jwt.Parse(payload, jwt.WithVerify(false), jwt.WithValidate(false))
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if tok.Expiration().IsZero() {
		return Claims{}, fmt.Errorf("%w: missing exp claim", ErrMalformedToken)
	}
	opts := []jwt.ValidateOption{
		jwt.WithClock(jwt.ClockFunc(c.clock)),
	}
	if c.Skew > 0 {
		opts = append(opts, jwt.WithAcceptableSkew(c.Skew))
	}
	if err := jwt.Validate(tok, opts...); err != nil {
		if errors.Is(err, jwt.ErrTokenExpired()) {
			return Claims{}, ErrExpired
		}
		return Claims{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	return claimsFromToken(tok), nil
}

func (c *Codec) algorithm() jwa.SignatureAlgorithm {
	if c.Algorithm == "" {
		return DefaultAlgorithm
	}
	return c.Algorithm
}

func (c *Codec) allowed(alg jwa.SignatureAlgorithm) bool {
	allowed := c.Allowed
	if len(allowed) == 0 {
		allowed = []jwa.SignatureAlgorithm{c.algorithm()}
	}
	for _, candidate := range allowed {
		if candidate == alg {
			return true
		}
	}
	return false
}

func (c *Codec) clock() time.Time {
	if c.now == nil {
		return time.Now()
	}
	return c.now()
}

// signatureAlgorithm reads the protected header only; the value selects the
// verification key and is never trusted on its own.
func signatureAlgorithm(raw string) (jwa.SignatureAlgorithm, error) {
	message, err := jws.ParseString(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	signatures := message.Signatures()
	if len(signatures) == 0 {
		return "", fmt.Errorf("%w: no signatures", ErrMalformedToken)
	}
	var algorithm jwa.SignatureAlgorithm
	for _, sig := range signatures {
		headers := sig.ProtectedHeaders()
		if headers == nil || headers.Algorithm() == "" {
			return "", fmt.Errorf("%w: missing algorithm", ErrMalformedToken)
		}
		alg := headers.Algorithm()
		if alg == jwa.NoSignature {
			return "", fmt.Errorf("%w: none", ErrUnsupportedAlgorithm)
		}
		if algorithm == "" {
			algorithm = alg
		} else if algorithm != alg {
			return "", fmt.Errorf("%w: mixed algorithms", ErrMalformedToken)
		}
	}
	return algorithm, nil
}

// ParseAlgorithms converts a comma separated list such as "HS256,HS512".
func ParseAlgorithms(csv string) ([]jwa.SignatureAlgorithm, error) {
	var out []jwa.SignatureAlgorithm
	for _, part := range strings.Split(csv, ",") {
		name := strings.ToUpper(strings.TrimSpace(part))
		if name == "" {
			continue
		}
		var alg jwa.SignatureAlgorithm
		if err := alg.Accept(name); err != nil {
			return nil, fmt.Errorf("token: %w", err)
		}
		switch alg {
		case jwa.HS256, jwa.HS384, jwa.HS512:
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, alg)
		}
		out = append(out, alg)
	}
	return out, nil
}
