package payment

import (
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultMinimumTotal is the smallest storefront cart the gateway is offered for.
var DefaultMinimumTotal = decimal.NewFromInt(50)

// Cart is the snapshot the availability policy decides on.
type Cart struct {
	Total    decimal.Decimal
	Currency string
	Country  string
	// Admin marks administrative contexts such as the order edit screen.
	Admin bool
}

// Availability decides whether the gateway is offered for a cart.
type Availability struct {
	Enabled    bool
	Minimum    decimal.Decimal
	Currencies []string
	Countries  []string
}

// IsAvailable is always true for administrators. Storefront carts need the
// gateway enabled, an allowed currency and country, and a total of at least
// the minimum.
func (a Availability) IsAvailable(c Cart) bool {
	if c.Admin {
		return true
	}
	if !a.Enabled {
		return false
	}
	if !allowed(a.Currencies, c.Currency) || !allowed(a.Countries, c.Country) {
		return false
	}
	return c.Total.GreaterThanOrEqual(a.minimum())
}

func (a Availability) minimum() decimal.Decimal {
	if a.Minimum.IsZero() {
		return DefaultMinimumTotal
	}
	return a.Minimum
}

// allowed treats an empty list as unrestricted. A restricted list never
// matches an unknown value.
func allowed(list []string, value string) bool {
	if len(list) == 0 {
		return true
	}
	value = strings.TrimSpace(value)
	for _, v := range list {
		if strings.EqualFold(v, value) {
			return true
		}
	}
	return false
}
