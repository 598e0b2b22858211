package middlewares

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/creditfield/loan_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	HeaderVerifierId    = "X-Verifier-Id"
	HeaderVerifierName  = "X-Verifier-Name"
	HeaderCorrelationId = "X-Correlation-Id"
)

// CorrelationMiddleware reuses the caller's correlation id or mints one, and
// echoes it on the response.
func CorrelationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		cid := strings.TrimSpace(c.Request.Header.Get(HeaderCorrelationId))
		if cid == "" || len(cid) > 64 {
			cid = uuid.NewString()
		}
		c.Header(HeaderCorrelationId, cid)
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	}
}

// VerifierMiddleware identifies the field verifier acting on the request.
// Authentication happens upstream; this only trusts the forwarded headers.
func VerifierMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.Request.Header.Get(HeaderVerifierId))
		if raw == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "verifier id is required"})
			c.Abort()
			return
		}
		id, err := strconv.Atoi(raw)
		if err != nil || id <= 0 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid verifier id"})
			c.Abort()
			return
		}
		ctx := utils.SetVerifierIdInContext(c.Request.Context(), id)
		if name := strings.TrimSpace(c.Request.Header.Get(HeaderVerifierName)); name != "" {
			ctx = utils.SetVerifierNameInContext(ctx, name)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
