package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/mwire-gateway/internal/obs"
	"github.com/noah-isme/mwire-gateway/internal/order"
)

type demoOrder struct {
	Total     string
	Currency  string
	FirstName string
	LastName  string
	Email     string
	Status    order.Status
}

var demoOrders = []demoOrder{
	{"75.00", "USD", "Ada", "Lovelace", "ada@example.com", order.StatusPending},
	{"120.50", "USD", "Grace", "Hopper", "grace@example.com", order.StatusPending},
	{"50.00", "USD", "Alan", "Turing", "alan@example.com", order.StatusFailed},
	{"249.99", "USD", "Katherine", "Johnson", "katherine@example.com", order.StatusOnHold},
	{"60.00", "EUR", "Edsger", "Dijkstra", "edsger@example.com", order.StatusPending},
}

func main() {
	migrateFirst := flag.Bool("migrate", false, "apply migrations before seeding")
	flag.Parse()

	logger := obs.NewLogger("console", "info")
	if err := godotenv.Load(); err != nil {
		logger.Info().Msg("no .env file found, relying on environment variables")
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		logger.Fatal().Msg("DATABASE_URL is not set")
	}
	if *migrateFirst {
		if err := order.Migrate(dbURL); err != nil {
			logger.Fatal().Err(err).Msg("run migrations")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}

	store := order.NewPGStore(pool)
	seeded := 0
	for _, d := range demoOrders {
		ord := order.Order{
			ID:       uuid.NewString(),
			Total:    decimal.RequireFromString(d.Total),
			Currency: d.Currency,
			Status:   d.Status,
			Billing: order.Billing{
				Email:     d.Email,
				FirstName: d.FirstName,
				LastName:  d.LastName,
			},
		}
		if err := store.Create(ctx, ord); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				logger.Fatal().Err(err).Msg("seeding timed out")
			}
			logger.Error().Err(err).Str("email", d.Email).Msg("seed order")
			continue
		}
		seeded++
		logger.Info().Str("order_id", ord.ID).Str("total", ord.Total.StringFixed(2)).Str("status", string(ord.Status)).Msg("order seeded")
	}
	logger.Info().Int("count", seeded).Msg("seeding completed")
}
