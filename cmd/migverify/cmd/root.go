package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile      string
	outputFormat string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "migverify",
	Short: "One-shot verifier for the sessions schema migration",
	Long: `migverify provisions an ephemeral Postgres container, seeds legacy
session rows into the meta table, builds and starts the subject process,
waits for its readiness marker, then verifies that the migration moved
every session into the dedicated sessions table. All resources are torn
down on every exit path, including operator interrupts.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.migverify/config)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output", "table", "output format: table, json or yaml")
}

// initConfig reads in the optional config file; everything it sets can
// also come from MIGVERIFY_* environment variables
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			os.Exit(1)
		}
		viper.AddConfigPath(filepath.Join(home, ".migverify"))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	// Missing config file is fine, the defaults cover a stock run
	_ = viper.ReadInConfig()
}
