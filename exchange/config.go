package exchange

import (
	"time"

	"github.com/bronystylecrazy/reminder/cfg"
)

const ConfigKey = "exchange"

const DefaultPrompt = "Enter your message (or 'quit' to exit): "
const DefaultInterval = time.Second
const DefaultServiceTimeout = time.Second

type Config struct {
	BaseTopic string `mapstructure:"base_topic"`
	Prompt    string `mapstructure:"prompt"`
	// Interval is the pause between service steps of the subscriber.
	Interval       time.Duration `mapstructure:"interval"`
	ServiceTimeout time.Duration `mapstructure:"service_timeout"`
	// MaxIterations bounds the subscriber loop; zero runs until cancelled.
	MaxIterations int `mapstructure:"max_iterations"`
}

func ConfigDefaults() []cfg.Option {
	return []cfg.Option{
		cfg.WithDefault(ConfigKey+".base_topic", BaseTopic),
		cfg.WithDefault(ConfigKey+".prompt", DefaultPrompt),
		cfg.WithDefault(ConfigKey+".interval", DefaultInterval.String()),
		cfg.WithDefault(ConfigKey+".service_timeout", DefaultServiceTimeout.String()),
		cfg.WithDefault(ConfigKey+".max_iterations", 0),
	}
}

func (c Config) topics() Topics {
	return NewTopics(c.BaseTopic)
}
