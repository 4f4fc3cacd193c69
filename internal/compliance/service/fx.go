package service

import (
	"context"

	"github.com/smallbiznis/etimsbridge/internal/compliance/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("compliance.service",
	fx.Provide(NewService),
	fx.Provide(func(s *Service) domain.Service { return s }),
	fx.Provide(func(s *Service) *Processor { return s.Processor() }),
	fx.Invoke(RegisterProcessor),
)

func RegisterProcessor(lc fx.Lifecycle, p *Processor) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			p.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return p.Stop(ctx)
		},
	})
}
