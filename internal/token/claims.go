package token

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/shopspring/decimal"
)

// IssuedAtBackdate absorbs clock drift between this service and the processor.
const IssuedAtBackdate = 2 * time.Minute

// DefaultTTL is the lifetime of outbound claim sets.
const DefaultTTL = 6 * time.Hour

// Claims is a decoded claim set. Registered claims are lifted into fields,
// everything else stays in Fields.
type Claims struct {
	Issuer    string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Fields    map[string]any
}

// NewClaims returns a claim set issued by issuer with a backdated issued-at.
func NewClaims(issuer string, now time.Time, ttl time.Duration) Claims {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now = now.Truncate(time.Second)
	return Claims{
		Issuer:    issuer,
		IssuedAt:  now.Add(-IssuedAtBackdate),
		ExpiresAt: now.Add(ttl),
		Fields:    map[string]any{},
	}
}

// Set stores a private claim.
func (c *Claims) Set(name string, value any) {
	if c.Fields == nil {
		c.Fields = map[string]any{}
	}
	c.Fields[name] = value
}

// Has reports whether the claim is present.
func (c Claims) Has(name string) bool {
	_, ok := c.Fields[name]
	return ok
}

// String returns the claim as text. Numbers are formatted without exponent so
// numeric order identifiers survive.
func (c Claims) String(name string) (string, bool) {
	v, ok := c.Fields[name]
	if !ok || v == nil {
		return "", false
	}
	switch typed := v.(type) {
	case string:
		return typed, true
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64), true
	case json.Number:
		return typed.String(), true
	case int:
		return strconv.Itoa(typed), true
	case int64:
		return strconv.FormatInt(typed, 10), true
	default:
		return "", false
	}
}

// Decimal returns a numeric claim, accepting JSON numbers and numeric strings.
func (c Claims) Decimal(name string) (decimal.Decimal, bool) {
	v, ok := c.Fields[name]
	if !ok || v == nil {
		return decimal.Decimal{}, false
	}
	switch typed := v.(type) {
	case float64:
		return decimal.NewFromFloat(typed), true
	case json.Number:
		d, err := decimal.NewFromString(typed.String())
		return d, err == nil
	case int:
		return decimal.NewFromInt(int64(typed)), true
	case int64:
		return decimal.NewFromInt(typed), true
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(typed))
		return d, err == nil
	default:
		return decimal.Decimal{}, false
	}
}

func claimsFromToken(tok jwt.Token) Claims {
	fields := map[string]any{}
	for name, value := range tok.PrivateClaims() {
		fields[name] = value
	}
	return Claims{
		Issuer:    tok.Issuer(),
		IssuedAt:  tok.IssuedAt(),
		ExpiresAt: tok.Expiration(),
		Fields:    fields,
	}
}
