package ratelimit

import (
	"context"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/etimsbridge/internal/config"
	"go.uber.org/zap"
)

const keyMerchantWrites = "etimsbridge:ratelimit:merchant:%s"

// MerchantLimiter throttles document writes per merchant. A nil or disabled
// limiter allows everything.
type MerchantLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
	log    *zap.Logger
}

func NewMerchantLimiter(cfg config.Config, client redis.UniversalClient, log *zap.Logger) (*MerchantLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}
	if client == nil {
		log.Warn("rate limiting enabled without redis; requests are not limited")
		return nil, nil
	}
	if limitCfg.MerchantRate <= 0 || limitCfg.MerchantBurst <= 0 {
		return nil, fmt.Errorf("%w: merchant rate and burst must be positive", ErrInvalidLimit)
	}
	return &MerchantLimiter{
		bucket: NewTokenBucket(client),
		rate:   limitCfg.MerchantRate,
		burst:  limitCfg.MerchantBurst,
		log:    log.Named("ratelimit"),
	}, nil
}

func (l *MerchantLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// Allow takes one token from the merchant's bucket. Redis failures fail open.
func (l *MerchantLimiter) Allow(ctx context.Context, merchantID string) Result {
	if !l.Enabled() {
		return Result{Allowed: true}
	}
	merchantID = strings.TrimSpace(merchantID)
	if merchantID == "" {
		merchantID = "anonymous"
	}
	res, err := l.bucket.Allow(ctx, fmt.Sprintf(keyMerchantWrites, merchantID), l.rate, l.burst)
	if err != nil {
		l.log.Warn("rate limit check failed", zap.String("merchant_id", merchantID), zap.Error(err))
		return Result{Allowed: true, Limit: l.burst}
	}
	return res
}
