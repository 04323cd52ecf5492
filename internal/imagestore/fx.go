package imagestore

import "go.uber.org/fx"

var Module = fx.Module("imagestore",
	fx.Provide(New),
)
