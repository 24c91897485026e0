// Package cli provides command-line interface commands for netsweep.
// This package implements the Cobra-based CLI structure with commands for
// sweeping targets, discovering adapter subnets, scheduled sweeps and the
// API server.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/anstrom/netsweep/internal/config"
	"github.com/anstrom/netsweep/internal/logging"
)

const (
	defaultConfigName = "netsweep"
	defaultConfigFile = defaultConfigName + ".yaml"
	envPrefix         = "NETSWEEP"
)

var (
	cfgFile      string
	verbose      bool
	outputFormat string
)

// Build information - these will be set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "netsweep",
	Short: "Host discovery and port sweeper",
	Long: `netsweep finds live hosts on a network and reports their open ports,
reverse DNS name, MAC address, vendor and device type.

Targets are addresses, hostnames, dash ranges or CIDR blocks. Without
targets, discover sweeps the subnets of the local network adapters.`,
	Version:       getVersion(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./"+defaultConfigFile+")")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "",
		"output format: table or json (default table on a terminal, json otherwise)")

	bindFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func bindFlag(key string, flag *pflag.Flag) {
	if flag == nil {
		return
	}
	if err := viper.BindPFlag(key, flag); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to bind %s flag: %v\n", flag.Name, err)
	}
}

// initConfig locates the config file and enables NETSWEEP_* overrides.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(defaultConfigName)
	}

	// NETSWEEP_SCANNING_MAX_CONCURRENT overrides scanning.max_concurrent.
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}

	initLogging()
}

// configFilePath returns the config file viper found, or the default name.
func configFilePath() string {
	if path := viper.ConfigFileUsed(); path != "" {
		return path
	}
	return defaultConfigFile
}

// flagKeys maps command flags onto the config keys they override.
var flagKeys = map[string]string{
	"hide-offline": "scanning.hide_offline",
	"concurrency":  "scanning.max_concurrent",
	"ping-timeout": "scanning.ping_timeout",
	"port-timeout": "scanning.port_timeout",
	"port-scanner": "scanning.port_scanner",
	"listen":       "api.listen_addr",
	"port":         "api.port",
}

// loadConfig reads the config file and applies flag and environment
// overrides for cmd. Flags win over the environment, which wins over the file.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if cmd != nil {
		for name, key := range flagKeys {
			bindFlag(key, cmd.Flags().Lookup(name))
		}
	}

	cfg, err := config.Load(configFilePath())
	if err != nil {
		return nil, err
	}

	applyOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyOverrides(cfg *config.Config) {
	if viper.IsSet("scanning.hide_offline") {
		cfg.Scanning.HideOffline = viper.GetBool("scanning.hide_offline")
	}
	if viper.IsSet("scanning.max_concurrent") {
		cfg.Scanning.MaxConcurrent = viper.GetInt("scanning.max_concurrent")
	}
	if viper.IsSet("scanning.ping_timeout") {
		cfg.Scanning.PingTimeout = viper.GetDuration("scanning.ping_timeout")
	}
	if viper.IsSet("scanning.port_timeout") {
		cfg.Scanning.PortTimeout = viper.GetDuration("scanning.port_timeout")
	}
	if viper.IsSet("scanning.port_scanner") {
		cfg.Scanning.PortScanner = viper.GetString("scanning.port_scanner")
	}
	if viper.IsSet("scanning.resolve_hostnames") {
		cfg.Scanning.ResolveHostnames = viper.GetBool("scanning.resolve_hostnames")
	}
	if viper.IsSet("api.listen_addr") {
		cfg.API.ListenAddr = viper.GetString("api.listen_addr")
	}
	if viper.IsSet("api.port") {
		cfg.API.Port = viper.GetInt("api.port")
	}
	if viper.IsSet("logging.level") {
		cfg.Logging.Level = logging.LogLevel(viper.GetString("logging.level"))
	}
	if viper.IsSet("logging.format") {
		cfg.Logging.Format = logging.LogFormat(viper.GetString("logging.format"))
	}
}

// getVersion returns the version string.
func getVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime)
}

// SetVersion sets the version information (called from main).
func SetVersion(v, c, bt string) {
	version = v
	commit = c
	buildTime = bt
	rootCmd.Version = getVersion()
}

// initLogging initializes structured logging based on configuration.
func initLogging() {
	cfg, err := loadConfig(nil)
	if err != nil {
		// Commands report the config error; keep logging usable meanwhile.
		logging.SetDefault(logging.NewDefault())
		return
	}

	logConfig := cfg.Logging
	if verbose {
		logConfig.Level = logging.LevelDebug
	}
	logConfig.AddSource = logConfig.Level == logging.LevelDebug

	logger, err := logging.New(logConfig)
	if err != nil {
		logger = logging.NewDefault()
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logging: %v\n", err)
	}

	logging.SetDefault(logger)

	if verbose {
		logging.Debug("Structured logging initialized", "level", logConfig.Level, "format", logConfig.Format)
	}
}
