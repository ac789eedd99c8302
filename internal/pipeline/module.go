package pipeline

import (
	"go.uber.org/fx"
)

// Module provides the processing pipeline.
var Module = fx.Module("pipeline",
	fx.Provide(New),
)
