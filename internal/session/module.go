package session

import (
	"go.uber.org/fx"
)

// Module provides the voice session service.
var Module = fx.Module("session",
	fx.Provide(NewService),
)
