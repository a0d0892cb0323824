package cfg

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"go.uber.org/fx"
)

const DefaultEnvPrefix = "REMINDER"

type Option interface {
	apply(*configState)
}

type optionFunc func(*configState)

func (f optionFunc) apply(s *configState) { f(s) }

type configState struct {
	sourceFile   string
	configType   string
	envPrefix    string
	keyReplacer  *strings.Replacer
	automaticEnv bool
	optional     bool
	defaults     map[string]any
	hooks        []func(*viper.Viper) error
}

func WithSourceFile(path string) Option {
	return optionFunc(func(s *configState) { s.sourceFile = path })
}

func WithType(kind string) Option {
	return optionFunc(func(s *configState) { s.configType = kind })
}

func WithOptional() Option {
	return optionFunc(func(s *configState) { s.optional = true })
}

func WithEnvPrefix(prefix string) Option {
	return optionFunc(func(s *configState) { s.envPrefix = prefix })
}

func WithEnvOverride(prefix ...string) Option {
	return optionFunc(func(s *configState) {
		if len(prefix) > 0 {
			s.envPrefix = prefix[0]
		}
		s.automaticEnv = true
		if s.keyReplacer == nil {
			s.keyReplacer = strings.NewReplacer(".", "_", "-", "_")
		}
	})
}

func WithNoEnv() Option {
	return optionFunc(func(s *configState) {
		s.automaticEnv = false
		s.envPrefix = ""
	})
}

func WithDefault(key string, value any) Option {
	return optionFunc(func(s *configState) {
		if s.defaults == nil {
			s.defaults = map[string]any{}
		}
		s.defaults[key] = value
	})
}

// WithViper runs fn against the instance after defaults are applied and before
// the config file is read.
func WithViper(fn func(*viper.Viper) error) Option {
	return optionFunc(func(s *configState) {
		if fn != nil {
			s.hooks = append(s.hooks, fn)
		}
	})
}

// Load builds a viper instance. A missing source file is only tolerated when
// WithOptional is set.
func Load(opts ...Option) (*viper.Viper, error) {
	state := configState{}
	for _, opt := range opts {
		if opt != nil {
			opt.apply(&state)
		}
	}
	return load(state)
}

func load(cfg configState) (*viper.Viper, error) {
	v := viper.New()
	if cfg.envPrefix != "" {
		v.SetEnvPrefix(cfg.envPrefix)
	}
	if cfg.keyReplacer != nil {
		v.SetEnvKeyReplacer(cfg.keyReplacer)
	}
	if cfg.automaticEnv {
		v.AutomaticEnv()
	}
	if cfg.sourceFile != "" {
		v.SetConfigFile(cfg.sourceFile)
	}
	if cfg.configType != "" {
		v.SetConfigType(cfg.configType)
	}
	for k, val := range cfg.defaults {
		v.SetDefault(k, val)
	}
	for _, hook := range cfg.hooks {
		if err := hook(v); err != nil {
			return nil, err
		}
	}
	if cfg.sourceFile == "" {
		return v, nil
	}
	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if cfg.optional && (errors.As(err, &nf) || errors.Is(err, os.ErrNotExist)) {
			return v, nil
		}
		return nil, fmt.Errorf("cfg: read %s: %w", cfg.sourceFile, err)
	}
	return v, nil
}

// Decode unmarshals the section under key (or the whole tree when key is empty) into T.
func Decode[T any](v *viper.Viper, key string) (T, error) {
	var out T
	if v == nil {
		return out, errors.New("cfg: viper instance is nil")
	}
	return out, decode(v, key, &out)
}

func decode(v *viper.Viper, key string, out any) error {
	t := reflect.TypeOf(out)
	if t == nil || t.Kind() != reflect.Pointer {
		return fmt.Errorf("config target must be a pointer")
	}

	// AllSettings resolves every leaf through Get, so env and bound flags
	// are merged into nested sections. UnmarshalKey only sees one source.
	var input any = v.AllSettings()
	if key != "" {
		input = section(input, key)
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(input); err != nil {
		return fmt.Errorf("cfg: decode %q: %w", key, err)
	}
	return nil
}

func section(settings any, key string) any {
	current := settings
	for _, part := range strings.Split(strings.ToLower(key), ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = m[part]
	}
	return current
}

// Module provides the shared *viper.Viper built from opts.
func Module(opts ...Option) fx.Option {
	return fx.Module("reminder/cfg",
		fx.Provide(func() (*viper.Viper, error) {
			return Load(opts...)
		}),
	)
}

// Provide decodes the section under key into T when the graph needs it.
func Provide[T any](key string) fx.Option {
	return fx.Provide(func(v *viper.Viper) (T, error) {
		return Decode[T](v, key)
	})
}
