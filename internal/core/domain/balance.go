package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Balance is the amount of one currency held by one wallet.
type Balance struct {
	WalletAddress string          `json:"wallet_address"`
	CurrencyID    int32           `json:"currency_id"`
	CurrencyCode  string          `json:"currency_code"`
	CurrencyName  string          `json:"currency_name,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// BalanceKey identifies a single lockable balance row.
type BalanceKey struct {
	WalletAddress string
	CurrencyID    int32
}

// Less orders keys by wallet address, then currency.
func (k BalanceKey) Less(other BalanceKey) bool {
	if k.WalletAddress != other.WalletAddress {
		return k.WalletAddress < other.WalletAddress
	}
	return k.CurrencyID < other.CurrencyID
}

// SortBalanceKeys returns the distinct keys in lock acquisition order.
// Every transaction that locks more than one balance row must lock them in this order.
func SortBalanceKeys(keys ...BalanceKey) []BalanceKey {
	seen := make(map[BalanceKey]struct{}, len(keys))
	out := make([]BalanceKey, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
