package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/mwire-gateway/internal/common"
	"github.com/noah-isme/mwire-gateway/internal/lock"
	"github.com/noah-isme/mwire-gateway/internal/order"
	"github.com/noah-isme/mwire-gateway/internal/token"
)

// Notification statuses declared by the processor.
const (
	StatusSold = "SOLD"
	StatusUsed = "USED"
)

// DefaultAmountTolerance absorbs processor rounding when comparing amounts. It
// applies only when no tolerance is configured; an explicit zero is exact.
var DefaultAmountTolerance = decimal.RequireFromString("0.10")

// Outcome describes what a notification did to the order.
type Outcome string

const (
	OutcomePINAttached Outcome = "pin_attached"
	OutcomeRedeemed    Outcome = "redeemed"
	// OutcomeDuplicate is a re-delivery of an event that is already applied.
	OutcomeDuplicate Outcome = "duplicate"
)

// Locker serialises work on one key.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Reconciler verifies processor notifications and applies them to orders.
// It keeps no state between calls; re-delivery is safe.
type Reconciler struct {
	Store     order.Store
	Codec     *token.Codec
	Issuer    string
	Tolerance decimal.NullDecimal

	Replay    ReplayGuard
	ReplayTTL time.Duration
	Locker    Locker
	LockTTL   time.Duration

	Logger zerolog.Logger
}

// Reconcile handles one raw notification body. Nothing is written before the
// issuer and amount checks pass.
func (r *Reconciler) Reconcile(ctx context.Context, body []byte) (outcome Outcome, err error) {
	ctx, span := otel.Tracer("payment.Reconciler").Start(ctx, "Reconciler.Reconcile")
	defer span.End()
	defer func() {
		span.SetAttributes(
			attribute.String("payment.ipn.result", resultLabel(err)),
			attribute.String("payment.ipn.outcome", string(outcome)),
		)
		if err != nil {
			span.SetStatus(codes.Error, resultLabel(err))
		}
	}()

	raw := strings.TrimSpace(string(body))
	if raw == "" {
		return "", ErrEmptyNotificationBody
	}
	claims, err := r.Codec.Decode(raw)
	if err != nil {
		r.Logger.Warn().Err(err).Msg("ipn_token_rejected")
		return "", ErrInvalidNotification
	}
	if !claims.Has("orderNumber") {
		r.Logger.Warn().Msg("ipn_order_number_missing")
		return "", ErrMalformedPayload
	}
	orderID, ok := claims.String("orderNumber")
	if !ok || strings.TrimSpace(orderID) == "" {
		return "", ErrMalformedPayload
	}
	orderID = strings.TrimSpace(orderID)
	span.SetAttributes(attribute.String("order.id", orderID))

	if r.Locker == nil {
		return r.apply(ctx, orderID, claims, []byte(raw))
	}
	lockErr := r.Locker.WithLock(ctx, lock.OrderKey(orderID), r.lockTTL(), func(ctx context.Context) error {
		outcome, err = r.apply(ctx, orderID, claims, []byte(raw))
		return err
	})
	if lockErr != nil && err == nil {
		return "", fmt.Errorf("lock order: %w", lockErr)
	}
	return outcome, err
}

func (r *Reconciler) apply(ctx context.Context, orderID string, claims token.Claims, raw []byte) (Outcome, error) {
	ord, err := r.Store.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			return "", ErrUnknownOrder
		}
		return "", fmt.Errorf("load order: %w", err)
	}
	if err := r.authenticate(ord, claims); err != nil {
		return "", err
	}

	status, _ := claims.String("status")
	status = strings.ToUpper(strings.TrimSpace(status))
	if status != StatusSold && status != StatusUsed {
		return "", ErrInvalidPayload
	}
	pin, _ := claims.String("pin")
	pin = strings.TrimSpace(pin)
	if pin == "" {
		return "", ErrInvalidPayload
	}

	key := replayKey(raw)
	if r.Replay != nil {
		fresh, err := r.Replay.Acquire(ctx, key, r.replayTTL())
		if err != nil {
			return "", fmt.Errorf("replay guard: %w", err)
		}
		if !fresh {
			return OutcomeDuplicate, nil
		}
	}

	var outcome Outcome
	if status == StatusSold {
		outcome, err = r.applySold(ctx, ord, pin)
	} else {
		outcome, err = r.applyUsed(ctx, ord, pin)
	}
	if err != nil && r.Replay != nil {
		if relErr := r.Replay.Release(context.WithoutCancel(ctx), key); relErr != nil {
			r.Logger.Error().Err(relErr).Str("order_id", ord.ID).Msg("ipn_replay_release_failed")
		}
	}
	return outcome, err
}

// authenticate checks the issuer and that the claimed amount is within the
// tolerance of the order total.
func (r *Reconciler) authenticate(ord order.Order, claims token.Claims) error {
	logger := r.Logger.With().Str("order_id", ord.ID).Str("issuer", claims.Issuer).Logger()
	if !common.SecureEqual(claims.Issuer, r.Issuer) {
		logger.Warn().Msg("ipn_issuer_mismatch")
		return ErrAuthenticationOrAmountMismatch
	}
	amount, ok := claims.Decimal("amount")
	if !ok {
		logger.Warn().Msg("ipn_amount_missing")
		return ErrAuthenticationOrAmountMismatch
	}
	if amount.Sub(ord.Total).Abs().GreaterThan(r.tolerance()) {
		logger.Warn().Str("claimed", amount.String()).Str("total", ord.Total.String()).Msg("ipn_amount_mismatch")
		return ErrAuthenticationOrAmountMismatch
	}
	return nil
}

// applySold attaches the PIN. The first PIN wins; repeating it is a no-op and
// a different one is a conflict.
func (r *Reconciler) applySold(ctx context.Context, ord order.Order, pin string) (Outcome, error) {
	if existing, ok := ord.PIN(); ok {
		return samePIN(existing, pin)
	}
	wrote, err := r.Store.AttachMetadata(ctx, ord.ID, order.PINMetaKey, pin,
		fmt.Sprintf("eGift certificate sold. PIN: %s", pin))
	if err != nil {
		return "", r.storeError("attach pin", err)
	}
	if !wrote {
		current, err := r.Store.Get(ctx, ord.ID)
		if err != nil {
			return "", r.storeError("reload order", err)
		}
		existing, _ := current.PIN()
		return samePIN(existing, pin)
	}
	r.Logger.Info().Str("order_id", ord.ID).Msg("ipn_pin_attached")
	return OutcomePINAttached, nil
}

// applyUsed completes the order when the redeemed PIN is the attached one.
func (r *Reconciler) applyUsed(ctx context.Context, ord order.Order, pin string) (Outcome, error) {
	existing, ok := ord.PIN()
	if !ok {
		r.Logger.Warn().Str("order_id", ord.ID).Msg("ipn_used_without_pin")
		return "", ErrPINNotAttached
	}
	if !common.SecureEqual(existing, pin) {
		r.Logger.Warn().Str("order_id", ord.ID).Msg("ipn_used_pin_mismatch")
		return "", ErrPINConflict
	}
	if ord.Status == order.StatusCompleted {
		return OutcomeDuplicate, nil
	}
	changed, err := r.Store.TransitionIfMeta(ctx, ord.ID, order.PINMetaKey, pin, order.StatusCompleted,
		fmt.Sprintf("eGift certificate redeemed. PIN: %s", pin))
	if err != nil {
		if errors.Is(err, order.ErrGuardMismatch) {
			return "", ErrPINConflict
		}
		return "", r.storeError("complete order", err)
	}
	if !changed {
		return OutcomeDuplicate, nil
	}
	r.Logger.Info().Str("order_id", ord.ID).Msg("ipn_order_completed")
	return OutcomeRedeemed, nil
}

func (r *Reconciler) storeError(op string, err error) error {
	if errors.Is(err, order.ErrNotFound) {
		return ErrUnknownOrder
	}
	return fmt.Errorf("%s: %w", op, err)
}

func samePIN(existing, claimed string) (Outcome, error) {
	if common.SecureEqual(existing, claimed) {
		return OutcomeDuplicate, nil
	}
	return "", ErrPINConflict
}

func (r *Reconciler) tolerance() decimal.Decimal {
	if !r.Tolerance.Valid {
		return DefaultAmountTolerance
	}
	return r.Tolerance.Decimal
}

func (r *Reconciler) replayTTL() time.Duration {
	if r.ReplayTTL <= 0 {
		return 24 * time.Hour
	}
	return r.ReplayTTL
}

func (r *Reconciler) lockTTL() time.Duration {
	if r.LockTTL <= 0 {
		return 10 * time.Second
	}
	return r.LockTTL
}
