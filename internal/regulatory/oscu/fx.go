package oscu

import (
	"github.com/smallbiznis/etimsbridge/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("regulatory.oscu",
	fx.Provide(NewFromConfig),
)

func NewFromConfig(cfg config.Config, log *zap.Logger) RegulatorAdapter {
	if cfg.OSCU.Adapter == config.AdapterStub {
		log.Warn("oscu stub adapter enabled; submissions are not sent to KRA")
		return &StubAdapter{}
	}
	return NewHTTPAdapter(log, HTTPConfig{
		SandboxBaseURL:    cfg.OSCU.SandboxBaseURL,
		ProductionBaseURL: cfg.OSCU.ProductionBaseURL,
		Timeout:           cfg.OSCU.Timeout,
	}, nil)
}
