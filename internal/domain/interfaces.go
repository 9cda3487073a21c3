package domain

import "context"

// Ledger holds each owner's spendable balance. Calls are idempotent per key:
// repeating a key that already applied is a no-op success.
type Ledger interface {
	// Debit returns ErrInsufficientFunds when the owner cannot cover amount.
	Debit(ctx context.Context, ownerID string, amount int64, idemKey string) error
	Credit(ctx context.Context, ownerID string, amount int64, idemKey string) error
}

// Wallets is implemented by ledgers that can provision and report balances.
type Wallets interface {
	EnsureWallet(ctx context.Context, ownerID string, starter int64) error
	Balance(ctx context.Context, ownerID string) (int64, error)
}

// Notifier delivers owner-facing alerts. Delivery is best effort; the engine
// only logs the returned error.
type Notifier interface {
	Notify(ctx context.Context, ownerID string, msg Message) error
}

type MessageKind string

const (
	MsgMaintenanceWarning  MessageKind = "maintenance_warning"
	MsgMaintenanceCritical MessageKind = "maintenance_critical"
	MsgMinorEvent          MessageKind = "minor_event"
	MsgCatastrophicEvent   MessageKind = "catastrophic_event"
	MsgShutdown            MessageKind = "shutdown"
)

type Field struct {
	Name  string
	Value string
}

type Message struct {
	Kind   MessageKind
	TypeID string
	Title  string
	Body   string
	Fields []Field
}
