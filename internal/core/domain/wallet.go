package domain

import (
	"time"
)

// WalletStatus represents the lifecycle state of a wallet.
type WalletStatus string

const (
	WalletStatusActive  WalletStatus = "ACTIVE"
	WalletStatusBlocked WalletStatus = "BLOCKED"
)

// Wallet is a pseudonymous holder of per-currency balances.
// Only the digest of the bearer secret is ever stored.
type Wallet struct {
	Address      string       `json:"address"`
	SecretDigest string       `json:"-"`
	Status       WalletStatus `json:"status"`
	CreatedAt    time.Time    `json:"created_at"`
}

// IsActive returns true if the wallet may move funds.
func (w *Wallet) IsActive() bool {
	return w.Status == WalletStatusActive
}

// WalletCredentials is the issuance result. Secret is returned to the holder once.
type WalletCredentials struct {
	Address      string
	Secret       string
	SecretDigest string
}
