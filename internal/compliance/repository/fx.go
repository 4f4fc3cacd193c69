package repository

import (
	"github.com/smallbiznis/etimsbridge/internal/compliance/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("compliance.repository",
	fx.Provide(
		fx.Annotate(NewDocumentRepository, fx.As(new(domain.DocumentRepository))),
		fx.Annotate(NewEventRepository, fx.As(new(domain.EventRepository))),
		fx.Annotate(NewItemRepository, fx.As(new(domain.ItemRepository))),
		fx.Annotate(NewConnectionRepository, fx.As(new(domain.ConnectionRepository))),
	),
)
