package cli

import (
	"github.com/bronystylecrazy/reminder/exchange"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type SubscribeCommand struct {
	v   *viper.Viper
	log *zap.Logger
}

func NewSubscribeCommand(v *viper.Viper, log *zap.Logger) *SubscribeCommand {
	return &SubscribeCommand{v: v, log: log}
}

func (c *SubscribeCommand) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "subscribe",
		Aliases:       []string{"sub"},
		Short:         "Print every message delivered on the reminder topic",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return bindFlags(c.v, cmd, map[string]string{
				exchange.ConfigKey + ".interval":       "interval",
				exchange.ConfigKey + ".max_iterations": "max-iterations",
			})
		},
		RunE: c.Run,
	}
	cmd.Flags().Duration("interval", exchange.DefaultInterval, "pause between service steps")
	cmd.Flags().Int("max-iterations", 0, "stop after this many service steps (0 runs until interrupted)")
	return cmd
}

func (c *SubscribeCommand) Run(cmd *cobra.Command, _ []string) error {
	client, exchangeCfg, err := newSession(c.v, c.log)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	c.log.Debug("subscriber starting",
		zap.String("client_id", client.ClientID()),
		zap.String("topic", exchange.NewTopics(exchangeCfg.BaseTopic).Reminder),
	)
	return exchange.NewSubscriber(client, exchangeCfg, exchange.NewPrinter(out), out, c.log).Run(cmd.Context())
}
