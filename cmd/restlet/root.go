package restlet

import (
	"fmt"
	"os"

	"github.com/edgeflare/restlet/pkg/config"
	"github.com/edgeflare/restlet/pkg/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var cfgFile string
var logLevel string
var cfg *config.Config
var rootCmd = &cobra.Command{
	Use:   "restlet",
	Short: "restlet serves relational tables as REST resources",
	Long:  `restlet introspects a PostgreSQL or SQLite schema and exposes the declared tables as filterable REST collections`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(viper.GetViper(), cfgFile)
		return err
	},
	Run: func(cmd *cobra.Command, args []string) {
		versionFlag, _ := cmd.Flags().GetBool("version")
		if versionFlag {
			fmt.Println(config.Version)
			return
		}

		// If no subcommand is provided, print help
		cmd.Help()
	},
}

func Main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", util.GetEnvOrDefault("RESTLET_CONFIG", ""), "config file (default is $RESTLET_CONFIG, then $HOME/.config/restlet.yaml)")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "L", "info", "log at this level (debug, info, warn, error, none)")
	rootCmd.Flags().BoolP("version", "v", false, "Print the version number")

	f := rootCmd.PersistentFlags()
	f.String("db.driver", "", "database driver (pgx, sqlite3)")
	f.StringP("db.connString", "c", "", "database connection string or SQLite file")
	viper.BindPFlag("db.driver", f.Lookup("db.driver"))
	viper.BindPFlag("db.connString", f.Lookup("db.connString"))

	rootCmd.AddCommand(serveCmd, routesCmd)
}

// newLogger builds the process logger from --log-level.
func newLogger(level string) (*zap.Logger, error) {
	if level == "none" {
		return zap.NewNop(), nil
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	if lvl == zapcore.DebugLevel {
		zc.Development = true
	}
	return zc.Build()
}
