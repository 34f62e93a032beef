package handler

import (
	"strconv"

	"wallet-ledger/internal/adapter/http/dto"
	"wallet-ledger/internal/adapter/http/middleware"
	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/pkg/apperror"
	"wallet-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// LedgerHandler handles the balance-mutating endpoints. The optional
// Idempotency-Key header becomes the operation's idempotency token.
type LedgerHandler struct {
	walletSvc ports.WalletService
}

// NewLedgerHandler creates a new LedgerHandler.
func NewLedgerHandler(walletSvc ports.WalletService) *LedgerHandler {
	return &LedgerHandler{walletSvc: walletSvc}
}

// Deposit handles POST /api/v1/wallets/:address/deposits.
func (h *LedgerHandler) Deposit(c *gin.Context) {
	var req dto.DepositRequest
	if !bindJSON(c, &req) {
		return
	}
	amount, ok := dto.ParseAmount(req.Amount)
	if !ok {
		response.Error(c, apperror.ErrInvalidAmount())
		return
	}

	m, err := h.walletSvc.Deposit(c.Request.Context(), ports.DepositRequest{
		Address:          c.Param("address"),
		Currency:         req.Currency,
		Amount:           amount,
		IdempotencyToken: c.GetString(middleware.CtxIdempotencyToken),
	})
	h.respond(c, m, err)
}

// Withdraw handles POST /api/v1/wallets/:address/withdrawals.
func (h *LedgerHandler) Withdraw(c *gin.Context) {
	var req dto.WithdrawRequest
	if !bindJSON(c, &req) {
		return
	}
	amount, ok := dto.ParseAmount(req.Amount)
	if !ok {
		response.Error(c, apperror.ErrInvalidAmount())
		return
	}

	m, err := h.walletSvc.Withdraw(c.Request.Context(), ports.WithdrawRequest{
		Address:          c.Param("address"),
		Currency:         req.Currency,
		Amount:           amount,
		Secret:           req.PrivateKey,
		IdempotencyToken: c.GetString(middleware.CtxIdempotencyToken),
	})
	h.respond(c, m, err)
}

// Convert handles POST /api/v1/wallets/:address/conversions.
func (h *LedgerHandler) Convert(c *gin.Context) {
	var req dto.ConvertRequest
	if !bindJSON(c, &req) {
		return
	}
	amount, ok := dto.ParseAmount(req.Amount)
	if !ok {
		response.Error(c, apperror.ErrInvalidAmount())
		return
	}

	m, err := h.walletSvc.Convert(c.Request.Context(), ports.ConvertRequest{
		Address:          c.Param("address"),
		FromCurrency:     req.FromCurrency,
		ToCurrency:       req.ToCurrency,
		Amount:           amount,
		Secret:           req.PrivateKey,
		IdempotencyToken: c.GetString(middleware.CtxIdempotencyToken),
	})
	h.respond(c, m, err)
}

// Transfer handles POST /api/v1/wallets/:address/transfers.
func (h *LedgerHandler) Transfer(c *gin.Context) {
	var req dto.TransferRequest
	if !bindJSON(c, &req) {
		return
	}
	amount, ok := dto.ParseAmount(req.Amount)
	if !ok {
		response.Error(c, apperror.ErrInvalidAmount())
		return
	}

	m, err := h.walletSvc.Transfer(c.Request.Context(), ports.TransferRequest{
		FromAddress:      c.Param("address"),
		ToAddress:        req.ToAddress,
		Currency:         req.Currency,
		Amount:           amount,
		Secret:           req.PrivateKey,
		IdempotencyToken: c.GetString(middleware.CtxIdempotencyToken),
	})
	h.respond(c, m, err)
}

func (h *LedgerHandler) respond(c *gin.Context, m *domain.Movement, err error) {
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Set(middleware.CtxResourceID, strconv.FormatInt(m.ID, 10))
	response.Created(c, dto.NewMovementResponse(m))
}
