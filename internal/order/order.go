package order

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the platform order status.
type Status string

const (
	StatusPending    Status = "pending"
	StatusOnHold     Status = "on-hold"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusRefunded   Status = "refunded"
)

// PINMetaKey stores the eGift certificate PIN attached on sale.
const PINMetaKey = "_egift_pin"

// AgreementAcknowledgedNote opens the note written when the processor
// acknowledges a payment agreement for the order.
const AgreementAcknowledgedNote = "Awaiting payment processing"

var (
	// ErrNotFound is returned when the order does not exist.
	ErrNotFound = errors.New("order: not found")
	// ErrGuardMismatch is returned by guarded transitions whose metadata guard does not hold.
	ErrGuardMismatch = errors.New("order: guard mismatch")
	// ErrInvalidStatus is returned for unknown status values.
	ErrInvalidStatus = errors.New("order: invalid status")
)

// Billing holds the billing contact of an order.
type Billing struct {
	Email     string `json:"email" validate:"omitempty,email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Phone     string `json:"phone"`
	Address   string `json:"address"`
}

// FullName mirrors the formatted billing full name.
func (b Billing) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(b.FirstName) + " " + strings.TrimSpace(b.LastName))
}

// Note is one entry of the append-only order note log.
type Note struct {
	ID        int64     `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// Order is the subset of the platform order this service reads and mutates.
type Order struct {
	ID        string            `json:"id"`
	Total     decimal.Decimal   `json:"total"`
	Currency  string            `json:"currency"`
	Billing   Billing           `json:"billing"`
	Status    Status            `json:"status"`
	Meta      map[string]string `json:"meta,omitempty"`
	Notes     []Note            `json:"notes,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// PIN returns the attached eGift PIN, if any.
func (o Order) PIN() (string, bool) {
	pin, ok := o.Meta[PINMetaKey]
	if !ok || pin == "" {
		return "", false
	}
	return pin, true
}

// AgreementAcknowledged reports whether the processor ever acknowledged an
// agreement for this order.
func (o Order) AgreementAcknowledged() bool {
	for _, n := range o.Notes {
		if strings.HasPrefix(n.Text, AgreementAcknowledgedNote) {
			return true
		}
	}
	return false
}

// ParseStatus normalises a status string, accepting the "wc-" prefix used by the platform.
func ParseStatus(value string) (Status, error) {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	trimmed = strings.TrimPrefix(trimmed, "wc-")
	switch Status(trimmed) {
	case StatusPending, StatusOnHold, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled, StatusRefunded:
		return Status(trimmed), nil
	}
	return "", ErrInvalidStatus
}

// IsPaid reports whether the status represents a paid order.
func (s Status) IsPaid() bool {
	return s == StatusProcessing || s == StatusCompleted
}

// AwaitingPayment reports whether a new payment agreement may be started.
func (s Status) AwaitingPayment() bool {
	return s == StatusPending || s == StatusFailed
}

// transitionNote appends the platform style status change sentence to note.
func transitionNote(note string, from, to Status) string {
	change := "Order status changed from " + statusLabel(from) + " to " + statusLabel(to) + "."
	note = strings.TrimSpace(note)
	if note == "" {
		return change
	}
	return note + " " + change
}

func statusLabel(s Status) string {
	switch s {
	case StatusOnHold:
		return "On hold"
	case "":
		return "Unknown"
	default:
		str := string(s)
		return strings.ToUpper(str[:1]) + str[1:]
	}
}
