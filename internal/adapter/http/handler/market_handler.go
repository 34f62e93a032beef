package handler

import (
	"wallet-ledger/internal/adapter/http/dto"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/pkg/apperror"
	"wallet-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// MarketHandler serves the currency catalog and exchange-rate quotes.
type MarketHandler struct {
	walletSvc ports.WalletService
}

// NewMarketHandler creates a new MarketHandler.
func NewMarketHandler(walletSvc ports.WalletService) *MarketHandler {
	return &MarketHandler{walletSvc: walletSvc}
}

// Currencies handles GET /api/v1/currencies.
func (h *MarketHandler) Currencies(c *gin.Context) {
	currencies, err := h.walletSvc.ListCurrencies(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	items := make([]dto.CurrencyResponse, 0, len(currencies))
	for _, cur := range currencies {
		items = append(items, dto.CurrencyResponse{Code: cur.Code, Name: cur.Name})
	}
	response.OK(c, items)
}

// Quote handles GET /api/v1/quotes?from=&to=.
func (h *MarketHandler) Quote(c *gin.Context) {
	from, to := c.Query("from"), c.Query("to")
	if from == "" || to == "" {
		response.Error(c, apperror.Validation("query parameters from and to are required"))
		return
	}
	q, err := h.walletSvc.GetQuote(c.Request.Context(), from, to)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.NewQuoteResponse(q))
}
