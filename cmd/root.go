package cmd

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	viperlib "github.com/spf13/viper"

	"github.com/zjrosen/axd/internal/config"
	"github.com/zjrosen/axd/internal/log"
)

var (
	version   = "dev"
	cfgFile   string
	cfg       config.Config
	debugFlag bool

	viper = viperlib.New()
)

var rootCmd = &cobra.Command{
	Use:   "axd",
	Short: "macOS accessibility automation daemon",
	Long: `axd drives and observes graphical macOS applications through the
Accessibility APIs: snapshot element trees, synthesize input, mutate
windows, and stream structured diffs to remote clients.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// SetVersion installs the build version string.
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: .axd/config.yaml, then ~/.config/axd/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false,
		"enable debug mode with logging (also: AXD_DEBUG=1)")
	rootCmd.PersistentFlags().String("listen", "",
		"listen address (overrides config)")

	_ = viper.BindPFlag("server.address", rootCmd.PersistentFlags().Lookup("listen"))
}

func initConfig() {
	defaults := config.Defaults()
	viper.SetDefault("server.address", defaults.Server.Address)
	viper.SetDefault("server.rate_limit_rps", defaults.Server.RateLimitRPS)
	viper.SetDefault("server.rate_limit_burst", defaults.Server.RateLimitBurst)
	viper.SetDefault("observe.max_concurrent", defaults.Observe.MaxConcurrent)
	viper.SetDefault("observe.default_poll_interval", defaults.Observe.DefaultPollInterval)
	viper.SetDefault("observe.min_poll_interval", defaults.Observe.MinPollInterval)
	viper.SetDefault("observe.event_ring_size", defaults.Observe.EventRingSize)
	viper.SetDefault("observe.breaker_window", defaults.Observe.BreakerWindow)
	viper.SetDefault("traversal.max_elements", defaults.Traversal.MaxElements)
	viper.SetDefault("traversal.os_call_timeout", defaults.Traversal.OSCallTimeout)
	viper.SetDefault("traversal.bounds_tolerance", defaults.Traversal.BoundsTolerance)
	viper.SetDefault("pagination.default_page_size", defaults.Pagination.DefaultPageSize)
	viper.SetDefault("pagination.max_page_size", defaults.Pagination.MaxPageSize)
	viper.SetDefault("tracing.enabled", defaults.Tracing.Enabled)
	viper.SetDefault("tracing.exporter", defaults.Tracing.Exporter)
	viper.SetDefault("tracing.service_name", defaults.Tracing.ServiceName)
	viper.SetDefault("tracing.sample_rate", defaults.Tracing.SampleRate)

	// Environment overrides: AXD_SERVER_ADDRESS, AXD_AUDIT_PATH, ...
	viper.SetEnvPrefix("AXD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Config lookup order:
		// 1. .axd/config.yaml (current directory)
		// 2. ~/.config/axd/config.yaml (user config)
		if _, err := os.Stat(".axd/config.yaml"); err == nil {
			viper.SetConfigFile(".axd/config.yaml")
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".config", "axd"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viperlib.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			log.ErrorErr(log.CatConfig, "config read failed", err)
		}
		// No config file anywhere is fine; defaults carry local dev.
	} else {
		log.Info(log.CatConfig, "config loaded", "path", viper.ConfigFileUsed())
	}

	_ = viper.Unmarshal(&cfg)
}
