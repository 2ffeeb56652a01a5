package talpa

import (
	"go.uber.org/fx"
)

var Module = fx.Module("talpa.client",
	fx.Provide(NewClient),
)
