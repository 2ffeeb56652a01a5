package application

import (
	"go.uber.org/fx"

	"github.com/tukilabs/benefit/internal/application/repository"
	applicationservice "github.com/tukilabs/benefit/internal/application/service"
)

var Module = fx.Module("application.service",
	fx.Provide(repository.Provide),
	fx.Provide(applicationservice.New),
)
