package dto

import (
	"time"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"
)

// Amounts travel as decimal strings; JSON numbers would be parsed as float64 by most clients.

// DepositRequest is the request body for crediting a wallet.
type DepositRequest struct {
	Currency string `json:"currency" binding:"required,currency_code"`
	Amount   string `json:"amount" binding:"required,decimal_gt0"`
}

// WithdrawRequest is the request body for a withdrawal. Amount is what the holder receives.
type WithdrawRequest struct {
	Currency   string `json:"currency" binding:"required,currency_code"`
	Amount     string `json:"amount" binding:"required,decimal_gt0"`
	PrivateKey string `json:"private_key" binding:"required,max=256"`
}

// ConvertRequest is the request body for a currency conversion. Amount is in FromCurrency.
type ConvertRequest struct {
	FromCurrency string `json:"from_currency" binding:"required,currency_code"`
	ToCurrency   string `json:"to_currency" binding:"required,currency_code"`
	Amount       string `json:"amount" binding:"required,decimal_gt0"`
	PrivateKey   string `json:"private_key" binding:"required,max=256"`
}

// TransferRequest is the request body for a transfer. Amount is what the destination receives.
type TransferRequest struct {
	ToAddress  string `json:"to_address" binding:"required,max=128,safe_id"`
	Currency   string `json:"currency" binding:"required,currency_code"`
	Amount     string `json:"amount" binding:"required,decimal_gt0"`
	PrivateKey string `json:"private_key" binding:"required,max=256"`
}

// WalletResponse is the public view of a wallet.
type WalletResponse struct {
	Address   string `json:"address"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

// CreateWalletResponse is returned once at issuance; the private key is never shown again.
type CreateWalletResponse struct {
	WalletResponse
	PrivateKey string            `json:"private_key"`
	Balances   []BalanceResponse `json:"balances"`
}

// BalanceResponse is one currency balance of a wallet.
type BalanceResponse struct {
	Currency  string `json:"currency"`
	Name      string `json:"name,omitempty"`
	Amount    string `json:"amount"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// MovementResponse is one ledger movement.
type MovementResponse struct {
	ID                  int64   `json:"id"`
	Kind                string  `json:"kind"`
	WalletAddress       string  `json:"wallet_address"`
	CounterpartyAddress *string `json:"counterparty_address,omitempty"`
	Currency            string  `json:"currency"`
	DestCurrency        *string `json:"dest_currency,omitempty"`
	Amount              string  `json:"amount"`
	DestAmount          *string `json:"dest_amount,omitempty"`
	Fee                 string  `json:"fee"`
	FeeRate             string  `json:"fee_rate"`
	Rate                *string `json:"rate,omitempty"`
	CreatedAt           string  `json:"created_at"`
}

// CurrencyResponse is one catalog entry.
type CurrencyResponse struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// QuoteResponse is a snapshot of an exchange rate.
type QuoteResponse struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Rate      string `json:"rate"`
	FetchedAt string `json:"fetched_at"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// NewWalletResponse converts a domain.Wallet.
func NewWalletResponse(w *domain.Wallet) WalletResponse {
	return WalletResponse{
		Address:   w.Address,
		Status:    string(w.Status),
		CreatedAt: formatTime(w.CreatedAt),
	}
}

// NewCreateWalletResponse converts the issuance result.
func NewCreateWalletResponse(cw *ports.CreatedWallet) CreateWalletResponse {
	return CreateWalletResponse{
		WalletResponse: NewWalletResponse(&cw.Wallet),
		PrivateKey:     cw.Secret,
		Balances:       NewBalanceResponses(cw.Balances),
	}
}

// NewBalanceResponses converts balances, never returning nil.
func NewBalanceResponses(balances []domain.Balance) []BalanceResponse {
	out := make([]BalanceResponse, 0, len(balances))
	for _, b := range balances {
		out = append(out, BalanceResponse{
			Currency:  b.CurrencyCode,
			Name:      b.CurrencyName,
			Amount:    b.Amount.String(),
			UpdatedAt: formatTime(b.UpdatedAt),
		})
	}
	return out
}

// NewMovementResponse converts a domain.Movement.
func NewMovementResponse(m *domain.Movement) MovementResponse {
	resp := MovementResponse{
		ID:                  m.ID,
		Kind:                string(m.Kind),
		WalletAddress:       m.WalletAddress,
		CounterpartyAddress: m.CounterpartyAddress,
		Currency:            m.CurrencyCode,
		DestCurrency:        m.DestCurrencyCode,
		Amount:              m.Amount.String(),
		Fee:                 m.Fee.String(),
		FeeRate:             m.FeeRate.String(),
		CreatedAt:           formatTime(m.CreatedAt),
	}
	if m.DestAmount.Valid {
		s := m.DestAmount.Decimal.String()
		resp.DestAmount = &s
	}
	if m.Rate.Valid {
		s := m.Rate.Decimal.String()
		resp.Rate = &s
	}
	return resp
}

// NewMovementResponses converts a page of movements.
func NewMovementResponses(movements []domain.Movement) []MovementResponse {
	out := make([]MovementResponse, 0, len(movements))
	for i := range movements {
		out = append(out, NewMovementResponse(&movements[i]))
	}
	return out
}

// NewQuoteResponse converts a ports.Quote.
func NewQuoteResponse(q *ports.Quote) QuoteResponse {
	return QuoteResponse{
		From:      q.From,
		To:        q.To,
		Rate:      q.Rate.String(),
		FetchedAt: formatTime(q.FetchedAt),
	}
}
