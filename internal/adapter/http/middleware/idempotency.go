package middleware

import (
	"regexp"

	"wallet-ledger/pkg/apperror"
	"wallet-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"

	// CtxIdempotencyToken holds the validated Idempotency-Key header value.
	CtxIdempotencyToken = "idempotency_token"
)

var idempotencyKeyRe = regexp.MustCompile(`^[A-Za-z0-9\-_.:]{1,128}$`)

// IdempotencyKey validates the optional Idempotency-Key header and stores it
// in the gin context. A malformed key is rejected before reaching the ledger.
func IdempotencyKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if !idempotencyKeyRe.MatchString(key) {
			response.Error(c, apperror.Validation("Idempotency-Key must be 1-128 characters of [A-Za-z0-9-_.:]"))
			c.Abort()
			return
		}
		c.Set(CtxIdempotencyToken, key)
		c.Next()
	}
}
