package server

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/etimsbridge/internal/observability/context"
	"github.com/smallbiznis/etimsbridge/internal/ratelimit"
)

const HeaderMerchant = "X-Merchant-ID"

// MerchantContext copies the merchant and document identifiers of the request
// into the context so downstream logs carry them.
func MerchantContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		merchantID := strings.TrimSpace(c.GetHeader(HeaderMerchant))
		if merchantID == "" {
			merchantID = strings.TrimSpace(c.Query("merchant_id"))
		}
		if merchantID != "" {
			ctx = obscontext.WithMerchantID(ctx, merchantID)
		}
		if documentID := strings.TrimSpace(c.Param("id")); documentID != "" {
			ctx = obscontext.WithDocumentID(ctx, documentID)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

type merchantLimiter interface {
	Allow(ctx context.Context, merchantID string) ratelimit.Result
}

// MerchantRateLimit rejects writes once the merchant's token bucket is empty.
func (s *Server) MerchantRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil {
			c.Next()
			return
		}
		ctx := c.Request.Context()
		res := s.limiter.Allow(ctx, obscontext.MerchantIDFromContext(ctx))
		if res.Limit > 0 {
			c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		}
		if !res.Allowed {
			if res.RetryAfter > 0 {
				c.Header("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
			}
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}
