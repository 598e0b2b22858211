package main

import (
	"fmt"
	"strings"

	"github.com/creditfield/loan_backend/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// newRootCmd builds the command tree. Each call gets its own viper instance
// so tests can run commands side by side.
func newRootCmd() *cobra.Command {
	v := viper.New()
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "fieldcheck",
		Short: "Operator tooling for the field reconciliation engine.",
		Long: `fieldcheck validates section templates, exports discrepancy reports
and runs schema migrations against the investigation database.`,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(v, cfgFile)
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml); env vars override it")
	rootCmd.PersistentFlags().StringP("loglevel", "l", "error", "Set log level. Available: debug, info, warn, error, fatal")
	_ = v.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("loglevel"))

	rootCmd.AddCommand(newReportCmd(v), newTemplateCmd(v), newMigrateCmd(v))
	return rootCmd
}

// initConfig reads the optional config file, then lets the server's env vars
// (DB_HOST, PHONE_REGION, ...) win over it.
func initConfig(v *viper.Viper, cfgFile string) error {
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("db.port", "3306")
	v.SetDefault("phone_region", "GT")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", cfgFile, err)
		}
	}

	level, err := logrus.ParseLevel(v.GetString("log_level"))
	if err != nil {
		return fmt.Errorf("invalid log level %q", v.GetString("log_level"))
	}
	config.GetLogger().SetLevel(level)
	return nil
}

func databaseDSN(v *viper.Viper) string {
	return config.BuildDatabaseDSN(
		v.GetString("db.user"),
		v.GetString("db.password"),
		v.GetString("db.host"),
		v.GetString("db.port"),
		v.GetString("db.name"),
	)
}

// connect fails fast instead of retrying like the server does.
func connect(v *viper.Viper) error {
	if v.GetString("db.host") == "" || v.GetString("db.name") == "" {
		return fmt.Errorf("db.host and db.name are required (config file or DB_HOST/DB_NAME)")
	}
	if err := config.ConnectDatabase(databaseDSN(v)); err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	return nil
}
