package batch

import (
	"go.uber.org/fx"

	"github.com/tukilabs/benefit/internal/batch/repository"
	batchservice "github.com/tukilabs/benefit/internal/batch/service"
)

var Module = fx.Module("batch.service",
	fx.Provide(repository.Provide),
	fx.Provide(batchservice.New),
)
