package ratelimit

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module provides the per-merchant write limiter. A nil limiter means
// requests are not limited.
var Module = fx.Module("ratelimit",
	fx.Provide(NewMerchantLimiter),
	fx.Invoke(logLimiterMode),
)

func logLimiterMode(l *MerchantLimiter, log *zap.Logger) {
	if !l.Enabled() {
		log.Info("merchant rate limiting disabled")
		return
	}
	log.Info("merchant rate limiting enabled",
		zap.Float64("rate_per_second", l.rate),
		zap.Int("burst", l.burst),
	)
}
