package alteration

import (
	"go.uber.org/fx"

	"github.com/tukilabs/benefit/internal/alteration/repository"
	alterationservice "github.com/tukilabs/benefit/internal/alteration/service"
)

var Module = fx.Module("alteration.service",
	fx.Provide(repository.Provide),
	fx.Provide(alterationservice.New),
)
