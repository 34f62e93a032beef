package handler

import (
	"wallet-ledger/internal/adapter/http/dto"
	"wallet-ledger/internal/adapter/http/middleware"
	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/pkg/apperror"
	"wallet-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// WalletHandler handles wallet lifecycle and query endpoints.
type WalletHandler struct {
	walletSvc ports.WalletService
}

// NewWalletHandler creates a new WalletHandler.
func NewWalletHandler(walletSvc ports.WalletService) *WalletHandler {
	return &WalletHandler{walletSvc: walletSvc}
}

// Create handles POST /api/v1/wallets. The private key appears only in this response.
func (h *WalletHandler) Create(c *gin.Context) {
	created, err := h.walletSvc.CreateWallet(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Set(middleware.CtxResourceID, created.Wallet.Address)
	response.Created(c, dto.NewCreateWalletResponse(created))
}

// List handles GET /api/v1/wallets.
func (h *WalletHandler) List(c *gin.Context) {
	params := pageParams(c)
	wallets, total, err := h.walletSvc.ListWallets(c.Request.Context(), params)
	if err != nil {
		response.Error(c, err)
		return
	}
	items := make([]dto.WalletResponse, 0, len(wallets))
	for i := range wallets {
		items = append(items, dto.NewWalletResponse(&wallets[i]))
	}
	response.Paginated(c, items, total, params.Limit, params.Offset)
}

// Get handles GET /api/v1/wallets/:address.
func (h *WalletHandler) Get(c *gin.Context) {
	w, err := h.walletSvc.GetWallet(c.Request.Context(), c.Param("address"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.NewWalletResponse(w))
}

// Block handles DELETE /api/v1/wallets/:address.
func (h *WalletHandler) Block(c *gin.Context) {
	address := c.Param("address")
	w, err := h.walletSvc.BlockWallet(c.Request.Context(), address)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Set(middleware.CtxResourceID, address)
	response.OK(c, dto.NewWalletResponse(w))
}

// Balances handles GET /api/v1/wallets/:address/balances.
func (h *WalletHandler) Balances(c *gin.Context) {
	balances, err := h.walletSvc.GetBalances(c.Request.Context(), c.Param("address"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.NewBalanceResponses(balances))
}

// Movements handles GET /api/v1/wallets/:address/movements?kind=&limit=&offset=.
func (h *WalletHandler) Movements(c *gin.Context) {
	page := pageParams(c)
	params := ports.MovementListParams{
		Address: c.Param("address"),
		Limit:   page.Limit,
		Offset:  page.Offset,
	}
	if k := c.Query("kind"); k != "" {
		kind := domain.MovementKind(k)
		switch kind {
		case domain.MovementKindDeposit, domain.MovementKindWithdrawal, domain.MovementKindConversion, domain.MovementKindTransfer:
		default:
			response.Error(c, apperror.Validation("kind must be one of DEPOSIT, WITHDRAWAL, CONVERSION, TRANSFER"))
			return
		}
		params.Kind = &kind
	}

	movements, total, err := h.walletSvc.ListMovements(c.Request.Context(), params)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Paginated(c, dto.NewMovementResponses(movements), total, params.Limit, params.Offset)
}
