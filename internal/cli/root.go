package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"prompt-tester/internal/config"
	"prompt-tester/internal/llm"
	"prompt-tester/internal/logger"
	"prompt-tester/internal/tester"
)

const (
	appName   = "prompt-tester"
	envPrefix = "PROMPT_TESTER"
)

type Options struct {
	Config   string
	EnvFile  string
	LogLevel string
}

func NewRootCmd() *cobra.Command {
	opts := &Options{}
	root := &cobra.Command{
		Use:           appName,
		Short:         "Compare chat-completion outputs across prompt sets",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(opts)
		},
	}

	root.PersistentFlags().StringVar(
		&opts.Config,
		"config",
		"",
		"config file (default: ./prompt-tester.yaml)",
	)
	root.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file loaded before config")
	root.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	_ = viper.BindPFlag("config", root.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("log.level", root.PersistentFlags().Lookup("log-level"))

	root.AddCommand(newServeCmd())
	root.AddCommand(newRunCmd())
	root.AddCommand(newLLMCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func initConfig(opts *Options) error {
	if err := config.LoadDotEnv(opts.EnvFile); err != nil {
		return err
	}

	v := viper.GetViper()
	config.SetDefaults(v)
	if opts.Config != "" {
		v.SetConfigFile(opts.Config)
	} else {
		v.SetConfigName(appName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/" + appName)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := config.BindEnv(v, envPrefix); err != nil {
		return err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// loadRuntime decodes the configuration and installs the global logger.
func loadRuntime() (config.Config, *logger.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, nil, err
	}
	log := logger.New(cfg.Log, appName)
	logger.SetGlobalLogger(log)
	return cfg, log, nil
}

func newRunner(cfg config.Config, log *logger.Logger, extra ...tester.Option) (*tester.Runner, error) {
	client, err := llm.New(cfg.ClientConfig())
	if err != nil {
		return nil, err
	}
	opts := append([]tester.Option{
		tester.WithRateLimit(cfg.LLM.RateLimit, cfg.LLM.RateBurst),
		tester.WithLogger(log),
	}, extra...)
	return tester.NewRunner(client, opts...), nil
}
