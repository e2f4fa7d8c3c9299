package payment

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
)

// Presentation data of the gateway.
const (
	MethodID          = "egift-certificate"
	MethodTitle       = "Debit Card via USDC"
	MethodDescription = "You will be redirected to a secure third-party service where you can purchase crypto and then send as payment."
)

// Method is the capability set a payment method offers the storefront.
type Method interface {
	IsAvailable(cart Cart) bool
	InitiateAgreement(ctx context.Context, orderID string) (RedirectTarget, error)
	AdminOptions(ctx context.Context) (AdminOptions, error)
}

// AdminOptions is the settings view shown to operators. Secrets are masked.
type AdminOptions struct {
	ID               string   `json:"id"`
	Title            string   `json:"title"`
	Enabled          bool     `json:"enabled"`
	Debug            bool     `json:"debug"`
	MerchantID       string   `json:"merchantId"`
	APIID            string   `json:"apiId"`
	APIKey           string   `json:"apiKey"`
	AdminAPIKey      string   `json:"adminApiKey"`
	MinimumTotal     string   `json:"minimumTotal"`
	AmountTolerance  string   `json:"amountTolerance"`
	Currencies       []string `json:"currencies"`
	Countries        []string `json:"countries"`
	Wallet           string   `json:"wallet"`
	WalletAssignedBy string   `json:"walletNotice"`
}

// Gateway is the mWire payment method.
type Gateway struct {
	Availability Availability
	Initiator    *Initiator
	Processor    Processor
	Reconciler   *Reconciler
	// AdminKeySet reports whether an admin API key is configured.
	AdminKeySet bool
	Debug       bool
	Logger      zerolog.Logger
}

var _ Method = (*Gateway)(nil)

// IsAvailable implements Method.
func (g *Gateway) IsAvailable(cart Cart) bool {
	return g.Availability.IsAvailable(cart)
}

// InitiateAgreement implements Method.
func (g *Gateway) InitiateAgreement(ctx context.Context, orderID string) (RedirectTarget, error) {
	return g.Initiator.InitiateAgreement(ctx, orderID)
}

// AdminOptions implements Method. A failed wallet lookup degrades to the
// placeholder text instead of failing the view.
func (g *Gateway) AdminOptions(ctx context.Context) (AdminOptions, error) {
	creds := g.Initiator.Credentials
	opts := AdminOptions{
		ID:               MethodID,
		Title:            MethodTitle,
		Enabled:          g.Availability.Enabled,
		Debug:            g.Debug,
		MerchantID:       creds.MerchantID,
		APIID:            creds.issuer(),
		APIKey:           mask(creds.APIKey),
		MinimumTotal:     g.Availability.minimum().StringFixed(2),
		Currencies:       nonNil(g.Availability.Currencies),
		Countries:        nonNil(g.Availability.Countries),
		Wallet:           NoWalletAssigned,
		WalletAssignedBy: "This wallet is assigned by mwire. If you need changes, contact info@mwire.co",
	}
	if g.AdminKeySet {
		opts.AdminAPIKey = "********"
	}
	if g.Reconciler != nil {
		opts.AmountTolerance = g.Reconciler.tolerance().StringFixed(2)
	}
	if !creds.Configured() || g.Processor == nil {
		g.Logger.Warn().Msg("wallet_lookup_skipped_missing_credentials")
		return opts, nil
	}
	wallet, err := g.Processor.MerchantWallet(ctx, creds.MerchantID, creds.APIKey)
	if err != nil {
		g.Logger.Warn().Err(err).Msg("wallet_lookup_failed")
		return opts, nil
	}
	opts.Wallet = wallet
	return opts, nil
}

// mask keeps the last four characters of a secret.
func mask(secret string) string {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return strings.Repeat("*", len(secret))
	}
	return strings.Repeat("*", len(secret)-4) + secret[len(secret)-4:]
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
