package ahjo

import (
	"go.uber.org/fx"
)

var Module = fx.Module("ahjo.client",
	fx.Provide(NewClient),
	fx.Provide(NewReportBuilder),
)
