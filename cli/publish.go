package cli

import (
	"github.com/bronystylecrazy/reminder/exchange"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type PublishCommand struct {
	v   *viper.Viper
	log *zap.Logger
}

func NewPublishCommand(v *viper.Viper, log *zap.Logger) *PublishCommand {
	return &PublishCommand{v: v, log: log}
}

func (c *PublishCommand) Command() *cobra.Command {
	return &cobra.Command{
		Use:           "publish",
		Aliases:       []string{"pub"},
		Short:         "Read lines from stdin and publish each one to the reminder topic",
		Long:          "Read lines from stdin and publish each one to the reminder topic.\nTyping quit in any letter case ends the session.",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		RunE:          c.Run,
	}
}

func (c *PublishCommand) Run(cmd *cobra.Command, _ []string) error {
	client, exchangeCfg, err := newSession(c.v, c.log)
	if err != nil {
		return err
	}
	c.log.Debug("publisher starting",
		zap.String("client_id", client.ClientID()),
		zap.String("topic", exchange.NewTopics(exchangeCfg.BaseTopic).Reminder),
	)
	return exchange.NewPublisher(client, exchangeCfg, cmd.InOrStdin(), cmd.OutOrStdout(), c.log).Run(cmd.Context())
}
