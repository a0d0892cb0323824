package reminder

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/bronystylecrazy/reminder/broker"
	"github.com/bronystylecrazy/reminder/cfg"
	"github.com/bronystylecrazy/reminder/cli"
	"github.com/bronystylecrazy/reminder/exchange"
	"github.com/bronystylecrazy/reminder/log"
	"go.uber.org/fx"
	"go.uber.org/multierr"
)

const ConfigFile = "config.toml"

// ConfigFileEnv names the variable that points at an alternative config file.
const ConfigFileEnv = cfg.DefaultEnvPrefix + "_CONFIG"

type App struct {
	options []fx.Option
	in      io.Reader
	out     io.Writer
	errOut  io.Writer
}

func New(options ...fx.Option) *App {
	return &App{options: options}
}

// WithIO replaces the standard streams handed to commands. Nil keeps the default.
func (a *App) WithIO(in io.Reader, out io.Writer, errOut io.Writer) *App {
	a.in, a.out, a.errOut = in, out, errOut
	return a
}

func (a *App) Build() fx.Option {
	return a.build("")
}

func (a *App) build(configFile string) fx.Option {
	return fx.Options(
		cfg.Module(ConfigOptions(configFile)...),
		log.Module(),
		cli.Module(),
		fx.Options(a.options...),
		fx.Invoke(cli.RegisterCommands),
	)
}

// Run starts the graph, executes the command selected by args and stops the
// graph again once that command returns.
func (a *App) Run(ctx context.Context, args []string) (err error) {
	var root *cli.Root
	// the config file is read while the graph is built, before cobra parses flags
	app := fx.New(a.build(configFlag(args)), fx.Populate(&root))
	if err := app.Err(); err != nil {
		return err
	}

	if err := app.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), app.StopTimeout())
		defer cancel()
		err = multierr.Append(err, app.Stop(stopCtx))
	}()

	if a.in != nil {
		root.SetIn(a.in)
	}
	if a.out != nil {
		root.SetOut(a.out)
	}
	if a.errOut != nil {
		root.SetErr(a.errOut)
	}
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// ConfigOptions loads file when set, then the file named by ConfigFileEnv,
// then ConfigFile from the working directory.
func ConfigOptions(file string) []cfg.Option {
	if file == "" {
		file = os.Getenv(ConfigFileEnv)
	}
	if file == "" {
		file = ConfigFile
	}

	opts := []cfg.Option{
		cfg.WithSourceFile(file),
		cfg.WithType("toml"),
		cfg.WithOptional(),
		cfg.WithEnvOverride(cfg.DefaultEnvPrefix),
	}
	opts = append(opts, log.ConfigDefaults()...)
	opts = append(opts, broker.ConfigDefaults()...)
	opts = append(opts, exchange.ConfigDefaults()...)
	return opts
}

func configFlag(args []string) string {
	for i, arg := range args {
		switch {
		case arg == "--":
			return ""
		case arg == "--"+cli.ConfigFlag && i+1 < len(args):
			return args[i+1]
		case strings.HasPrefix(arg, "--"+cli.ConfigFlag+"="):
			return strings.TrimPrefix(arg, "--"+cli.ConfigFlag+"=")
		}
	}
	return ""
}
