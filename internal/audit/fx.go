package audit

import (
	"go.uber.org/fx"

	"github.com/tukilabs/benefit/internal/audit/repository"
	"github.com/tukilabs/benefit/internal/audit/service"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
