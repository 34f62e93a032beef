package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type auditRoute struct {
	method string
	route  string
}

var auditedRoutes = map[auditRoute]struct {
	action       domain.AuditAction
	resourceType string
}{
	{http.MethodPost, "/api/v1/wallets"}:                      {domain.AuditActionCreateWallet, "wallet"},
	{http.MethodDelete, "/api/v1/wallets/:address"}:           {domain.AuditActionBlockWallet, "wallet"},
	{http.MethodPost, "/api/v1/wallets/:address/deposits"}:    {domain.AuditActionDeposit, "movement"},
	{http.MethodPost, "/api/v1/wallets/:address/withdrawals"}: {domain.AuditActionWithdrawal, "movement"},
	{http.MethodPost, "/api/v1/wallets/:address/conversions"}: {domain.AuditActionConversion, "movement"},
	{http.MethodPost, "/api/v1/wallets/:address/transfers"}:   {domain.AuditActionTransfer, "movement"},
}

// AuditLog records successful write operations through auditSvc.
// Routes are matched on their registered pattern, not the raw path.
func AuditLog(auditSvc ports.AuditService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		status := c.Writer.Status()
		if status < 200 || status >= 300 {
			return
		}
		entry, ok := auditedRoutes[auditRoute{c.Request.Method, c.FullPath()}]
		if !ok {
			return
		}

		resourceID := c.GetString(CtxResourceID)
		var wallet *string
		if addr := c.Param("address"); addr != "" {
			wallet = &addr
		} else if entry.action == domain.AuditActionCreateWallet && resourceID != "" {
			wallet = &resourceID
		}

		details, _ := json.Marshal(map[string]interface{}{
			"method":         c.Request.Method,
			"path":           c.Request.URL.Path,
			"status":         status,
			"idempotent_key": c.GetHeader(HeaderIdempotencyKey) != "",
		})

		auditSvc.Log(c.Request.Context(), &domain.AuditLog{
			ID:            uuid.New(),
			WalletAddress: wallet,
			Action:        entry.action,
			ResourceType:  entry.resourceType,
			ResourceID:    resourceID,
			IPAddress:     c.ClientIP(),
			RequestID:     c.GetString(response.RequestIDKey),
			Details:       string(details),
			CreatedAt:     time.Now().UTC(),
		})
	}
}
