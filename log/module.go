package log

import (
	"github.com/bronystylecrazy/reminder/build"
	"github.com/bronystylecrazy/reminder/cfg"
	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("reminder/log",
		cfg.Provide[Config](ConfigKey),
		fx.Provide(NewZapLogger),
		fx.WithLogger(NewEventLogger),
	)
}

// ConfigDefaults picks the default level from the build mode.
func ConfigDefaults() []cfg.Option {
	level := "info"
	if build.IsDevelopment() {
		level = "debug"
	}
	return []cfg.Option{
		cfg.WithDefault(ConfigKey+".level", level),
	}
}
