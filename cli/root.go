package cli

import (
	"fmt"
	"strings"

	"github.com/bronystylecrazy/reminder/broker"
	"github.com/bronystylecrazy/reminder/build"
	"github.com/bronystylecrazy/reminder/exchange"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// ConfigFlag is read before the command tree exists; it is declared on the
// root only so that it parses and shows in help.
const ConfigFlag = "config"

type Root struct {
	*cobra.Command
}

// New builds the root command. Persistent flags are bound to v so that a
// flag set on the command line wins over env and config file values.
func New(v *viper.Viper) (*Root, error) {
	cmd := &cobra.Command{
		Use:           build.Name,
		Short:         "Exchange reminder messages over an MQTT topic",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	flags := cmd.PersistentFlags()
	flags.String("endpoint", broker.DefaultEndpoint, "broker endpoint (tcp://, tls://, ws://, wss://)")
	flags.String("topic-base", exchange.BaseTopic, "base namespace of the reminder topic")
	flags.String(ConfigFlag, "", "path to a toml config file (default ./config.toml)")

	if err := bindFlags(v, cmd, map[string]string{
		broker.ConfigKey + ".endpoint":     "endpoint",
		exchange.ConfigKey + ".base_topic": "topic-base",
	}); err != nil {
		return nil, err
	}

	return &Root{Command: cmd}, nil
}

func (r *Root) Register(commands ...Commander) error {
	for _, command := range commands {
		if err := r.RegisterOne(command); err != nil {
			return err
		}
	}
	return nil
}

func (r *Root) RegisterOne(c Commander) error {
	if r == nil || r.Command == nil {
		return fmt.Errorf("root command is nil")
	}
	if c == nil {
		return fmt.Errorf("commander is nil")
	}
	cmd := c.Command()
	if cmd == nil {
		return fmt.Errorf("command is nil")
	}
	if strings.TrimSpace(cmd.Name()) == "" {
		return fmt.Errorf("command name is empty")
	}
	for _, existing := range r.Commands() {
		if existing.Name() == cmd.Name() {
			return fmt.Errorf("command %q is already registered", cmd.Name())
		}
	}
	r.AddCommand(cmd)
	return nil
}

func bindFlags(v *viper.Viper, cmd *cobra.Command, keys map[string]string) error {
	for key, name := range keys {
		flag := cmd.PersistentFlags().Lookup(name)
		if flag == nil {
			flag = cmd.Flags().Lookup(name)
		}
		if flag == nil {
			return fmt.Errorf("flag %q is not defined on %q", name, cmd.Name())
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("bind flag %q: %w", name, err)
		}
	}
	return nil
}
