package cli

import (
	"github.com/bronystylecrazy/reminder/broker"
	"github.com/bronystylecrazy/reminder/cfg"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// BrokerCommand runs an embedded broker for local use and tests.
type BrokerCommand struct {
	v   *viper.Viper
	log *zap.Logger
}

func NewBrokerCommand(v *viper.Viper, log *zap.Logger) *BrokerCommand {
	return &BrokerCommand{v: v, log: log}
}

func (c *BrokerCommand) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "broker",
		Short:         "Run a local MQTT broker until interrupted",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return bindFlags(c.v, cmd, map[string]string{
				broker.ServerConfigKey + ".tcp_address":       "tcp-address",
				broker.ServerConfigKey + ".websocket_address": "ws-address",
			})
		},
		RunE: c.Run,
	}
	cmd.Flags().String("tcp-address", ":1883", "TCP listener address")
	cmd.Flags().String("ws-address", "", "websocket listener address (empty disables it)")
	return cmd
}

func (c *BrokerCommand) Run(cmd *cobra.Command, _ []string) (err error) {
	serverCfg, err := cfg.Decode[broker.ServerConfig](c.v, broker.ServerConfigKey)
	if err != nil {
		return err
	}
	server, err := broker.NewServer(serverCfg, c.log)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if err := server.Start(ctx); err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, server.Stop(ctx))
	}()

	c.log.Info("broker listening",
		zap.String("tcp", serverCfg.TCPAddress),
		zap.String("websocket", serverCfg.WebsocketAddress),
	)
	<-ctx.Done()
	c.log.Info("broker shutting down")
	return nil
}
