package compliance

import (
	"github.com/smallbiznis/etimsbridge/internal/compliance/repository"
	"github.com/smallbiznis/etimsbridge/internal/compliance/service"
	"go.uber.org/fx"
)

var Module = fx.Module("compliance",
	repository.Module,
	service.Module,
)
