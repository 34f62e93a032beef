package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// IdempotencyLog stores the movement produced for a caller-supplied idempotency token.
type IdempotencyLog struct {
	Key          string    `json:"key"` // Format: "address:KIND:token"
	MovementID   int64     `json:"movement_id"`
	ResponseJSON []byte    `json:"response_json"`
	CreatedAt    time.Time `json:"created_at"`
}

// BuildIdempotencyKey scopes a caller token to a wallet and an operation kind.
func BuildIdempotencyKey(address string, kind MovementKind, token string) string {
	return address + ":" + string(kind) + ":" + token
}

// RequestFingerprint digests the parameters of a ledger request. A token reused
// with a different fingerprint is a client error, not a replay.
// destCurrency and counterparty are empty when the kind has none.
func RequestFingerprint(kind MovementKind, currency, destCurrency, counterparty string, amount decimal.Decimal) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{
		string(kind), currency, destCurrency, counterparty, amount.String(),
	}, "|")))
	return hex.EncodeToString(sum[:])
}

// Fingerprint returns the RequestFingerprint of the request that produced m.
func (m *Movement) Fingerprint() string {
	var dest, counterparty string
	if m.DestCurrencyCode != nil {
		dest = *m.DestCurrencyCode
	}
	if m.CounterpartyAddress != nil {
		counterparty = *m.CounterpartyAddress
	}
	return RequestFingerprint(m.Kind, m.CurrencyCode, dest, counterparty, m.Amount)
}
