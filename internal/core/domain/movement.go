package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MovementKind represents the kind of ledger operation that produced a movement.
type MovementKind string

const (
	MovementKindDeposit    MovementKind = "DEPOSIT"
	MovementKindWithdrawal MovementKind = "WITHDRAWAL"
	MovementKindConversion MovementKind = "CONVERSION"
	MovementKindTransfer   MovementKind = "TRANSFER"
)

// Movement is an immutable, append-only ledger entry. IDs are assigned by the store
// and increase monotonically.
//
// Amount semantics per kind:
//   - DEPOSIT, WITHDRAWAL: amount credited to / received from the wallet; fee is charged on top.
//   - CONVERSION: source amount debited; DestAmount is the net amount credited.
//   - TRANSFER: net amount credited to the counterparty; fee is charged on top to the sender.
type Movement struct {
	ID                  int64               `json:"id"`
	Kind                MovementKind        `json:"kind"`
	WalletAddress       string              `json:"wallet_address"`
	CounterpartyAddress *string             `json:"counterparty_address,omitempty"`
	CurrencyID          int32               `json:"-"`
	CurrencyCode        string              `json:"currency"`
	DestCurrencyID      *int32              `json:"-"`
	DestCurrencyCode    *string             `json:"dest_currency,omitempty"`
	Amount              decimal.Decimal     `json:"amount"`
	DestAmount          decimal.NullDecimal `json:"dest_amount"`
	Fee                 decimal.Decimal     `json:"fee"`
	FeeRate             decimal.Decimal     `json:"fee_rate"`
	Rate                decimal.NullDecimal `json:"rate"`
	IdempotencyKey      *string             `json:"-"`
	CreatedAt           time.Time           `json:"created_at"`
}

// TotalDebit returns the amount removed from the acting wallet's source balance.
func (m *Movement) TotalDebit() decimal.Decimal {
	switch m.Kind {
	case MovementKindDeposit:
		return decimal.Zero
	case MovementKindConversion:
		return m.Amount
	default:
		return m.Amount.Add(m.Fee)
	}
}

// Involves reports whether the wallet is the actor or the counterparty.
func (m *Movement) Involves(address string) bool {
	if m.WalletAddress == address {
		return true
	}
	return m.CounterpartyAddress != nil && *m.CounterpartyAddress == address
}
