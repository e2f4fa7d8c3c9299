package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/joho/godotenv"

	"github.com/noah-isme/mwire-gateway/internal/obs"
	"github.com/noah-isme/mwire-gateway/internal/token"
)

// mockipn signs a processor notification and posts it to a running gateway.
func main() {
	_ = godotenv.Load()

	target := flag.String("url", "http://localhost:8080/api/v1/webhooks/mwire", "notification endpoint")
	orderID := flag.String("order", "", "order number")
	status := flag.String("status", "SOLD", "SOLD or USED")
	pin := flag.String("pin", "", "eGift certificate PIN")
	amount := flag.String("amount", "", "order total in major units, e.g. 75.00")
	issuer := flag.String("issuer", firstNonEmpty(os.Getenv("API_ID"), os.Getenv("MERCHANT_ID")), "issuer claim")
	secret := flag.String("secret", os.Getenv("SIGNING_SECRET"), "signing secret")
	dryRun := flag.Bool("dry-run", false, "print the token instead of posting it")
	flag.Parse()

	logger := obs.NewLogger("console", "info")
	if *orderID == "" || *pin == "" || *amount == "" || *secret == "" {
		flag.Usage()
		os.Exit(2)
	}

	claims := token.NewClaims(*issuer, time.Now(), time.Hour)
	claims.Set("orderNumber", *orderID)
	claims.Set("status", strings.ToUpper(*status))
	claims.Set("pin", *pin)
	claims.Set("amount", *amount)

	signed, err := token.NewCodec([]byte(*secret), "").Encode(claims)
	if err != nil {
		logger.Fatal().Err(err).Msg("sign notification")
	}
	if *dryRun {
		fmt.Println(signed)
		return
	}

	resp, err := resty.New().
		SetTimeout(10*time.Second).
		R().
		SetHeader("Content-Type", "text/plain").
		SetBody(signed).
		Post(*target)
	if err != nil {
		logger.Fatal().Err(err).Msg("post notification")
	}
	logger.Info().Int("status", resp.StatusCode()).Str("body", strings.TrimSpace(resp.String())).Msg("notification delivered")
	if resp.IsError() {
		os.Exit(1)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
