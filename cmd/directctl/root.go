package main

import (
	"fmt"
	"strings"

	"github.com/devrev/pairdb/directclient/internal/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Version is the directctl release
const Version = "1.0.0"

var (
	cfg    *config.Config
	logger *zap.Logger

	rootCmd = &cobra.Command{
		Use:   "directctl",
		Short: "direct replica client",
		Long: fmt.Sprintf(`directctl (v%s)

Issues reads and writes straight against partition replicas, honouring the
configured consistency level, quorum rules and retry policy.`, Version),
		SilenceUsage:      true,
		PersistentPreRunE: setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of directctl",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("directctl v%s\n", Version)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().String("config", "", "path to a YAML config file (env: DIRECTCTL_CONFIG)")
	rootCmd.PersistentFlags().String("log-level", "", "override logging.level")
	rootCmd.PersistentFlags().String("topology", "", "override address_cache.topology_file")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(writeCmd)
	rootCmd.AddCommand(probeCmd)
}

// setup loads .env files, the config file and builds the logger
func setup(cmd *cobra.Command, args []string) error {
	if cmd == versionCmd {
		return nil
	}

	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("directctl")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	loaded, err := config.Load(viper.GetString("config"))
	if err != nil {
		return err
	}
	if level := viper.GetString("log-level"); level != "" {
		loaded.Logging.Level = level
	}
	if topology := viper.GetString("topology"); topology != "" {
		loaded.AddressCache.TopologyFile = topology
	}
	cfg = loaded

	logger, err = newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	return nil
}

// newLogger builds a zap logger from the logging section
func newLogger(c config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	switch strings.ToLower(c.Level) {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var zc zap.Config
	if c.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	// stdout carries command output
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}

	return zc.Build()
}
