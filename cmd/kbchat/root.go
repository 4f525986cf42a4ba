package main

import (
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/cecil-the-coder/docqa-stream/internal/logging"
	"github.com/cecil-the-coder/docqa-stream/pkg/config"
)

const envPrefix = "KBCHAT"

const rootLongDesc string = `kbchat talks to a document-QA service that answers questions over a
knowledge base and streams the answer back as server-sent events.

Settings are read from a YAML file (--config), then KBCHAT_* environment
variables, then flags. For example KBCHAT_BASE_URL overrides base_url and
KBCHAT_LOG_LEVEL overrides log.level.`

// NewRootCmd builds the kbchat command tree.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "kbchat",
		Short:         "Stream answers from a document-QA service",
		Long:          rootLongDesc,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().String("config", "", "path to a YAML config file")
	cmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	cmd.PersistentFlags().Bool("json-logs", false, "log as JSON")

	cmd.AddCommand(NewAskCmd())
	cmd.AddCommand(NewReplayCmd())

	return cmd
}

// settings is the resolved configuration for one command run.
type settings struct {
	cfg    *config.Config
	logger *log.Logger
}

// loadSettings resolves configuration with precedence flags, environment,
// config file, defaults.
func loadSettings(cmd *cobra.Command) (*settings, error) {
	configFile, _ := cmd.Flags().GetString("config")

	base := config.Default()
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		base = loaded
	}

	v := viper.New()
	setViperDefaults(v, base)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindFlags(v, cmd.Flags(), map[string]string{
		"base_url":  "base-url",
		"log.json":  "json-logs",
		"log.debug": "debug",
	}); err != nil {
		return nil, err
	}

	cfg := *base
	cfg.BaseURL = v.GetString("base_url")
	cfg.StreamPath = v.GetString("stream_path")
	cfg.Timeout = v.GetDuration("timeout")
	cfg.UserAgent = v.GetString("user_agent")
	cfg.ReadBufferSize = v.GetInt("read_buffer_size")
	cfg.RateLimit.RequestsPerSecond = v.GetFloat64("rate_limit.requests_per_second")
	cfg.RateLimit.Burst = v.GetInt("rate_limit.burst")
	cfg.Log.Level = v.GetString("log.level")
	cfg.Log.JSON = v.GetBool("log.json")
	if v.GetBool("log.debug") {
		cfg.Log.Level = "debug"
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		JSON:   cfg.Log.JSON,
		Output: cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, err
	}

	return &settings{cfg: &cfg, logger: logger}, nil
}

// setViperDefaults registers the file (or built-in) values as viper
// defaults so environment and flags layer over them.
func setViperDefaults(v *viper.Viper, cfg *config.Config) {
	v.SetDefault("base_url", cfg.BaseURL)
	v.SetDefault("stream_path", cfg.StreamPath)
	v.SetDefault("timeout", cfg.Timeout)
	v.SetDefault("user_agent", cfg.UserAgent)
	v.SetDefault("read_buffer_size", cfg.ReadBufferSize)
	v.SetDefault("rate_limit.requests_per_second", cfg.RateLimit.RequestsPerSecond)
	v.SetDefault("rate_limit.burst", cfg.RateLimit.Burst)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.json", cfg.Log.JSON)
	v.SetDefault("log.debug", false)
}

// bindFlags binds config keys to the named flags that exist on flags.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) error {
	var errs []error
	for key, name := range keys {
		flag := flags.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			errs = append(errs, fmt.Errorf("binding flag %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
