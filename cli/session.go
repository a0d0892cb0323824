package cli

import (
	"github.com/bronystylecrazy/reminder/broker"
	"github.com/bronystylecrazy/reminder/cfg"
	"github.com/bronystylecrazy/reminder/exchange"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// newSession decodes the broker and exchange sections and builds an
// unconnected client for them.
func newSession(v *viper.Viper, log *zap.Logger) (*broker.Client, exchange.Config, error) {
	brokerCfg, err := cfg.Decode[broker.Config](v, broker.ConfigKey)
	if err != nil {
		return nil, exchange.Config{}, err
	}
	exchangeCfg, err := cfg.Decode[exchange.Config](v, exchange.ConfigKey)
	if err != nil {
		return nil, exchange.Config{}, err
	}

	clientCfg, err := brokerCfg.ClientConfig()
	if err != nil {
		return nil, exchange.Config{}, err
	}
	client, err := broker.NewClient(clientCfg, log)
	if err != nil {
		return nil, exchange.Config{}, err
	}
	return client, exchangeCfg, nil
}
