package cli

import "go.uber.org/fx"

const CommandersGroupName = "reminder/cli/commanders"

type registerParams struct {
	fx.In

	Root     *Root
	Commands []Commander `group:"reminder/cli/commanders"`
}

// Module wires the root command and every built-in Commander.
func Module(extends ...fx.Option) fx.Option {
	return fx.Module("reminder/cli",
		fx.Provide(New),
		AsCommander(NewPublishCommand),
		AsCommander(NewSubscribeCommand),
		AsCommander(NewBrokerCommand),
		AsCommander(NewVersionCommand),
		fx.Options(extends...),
	)
}

// AsCommander provides constructor's result into the commanders group.
func AsCommander(constructor any) fx.Option {
	return fx.Provide(
		fx.Annotate(
			constructor,
			fx.As(new(Commander)),
			fx.ResultTags(`group:"`+CommandersGroupName+`"`),
		),
	)
}

func RegisterCommands(params registerParams) error {
	return params.Root.Register(params.Commands...)
}
