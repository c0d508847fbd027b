// Command sharedctl inspects and drives a running sharedhealth server.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/talgya/sharedhealth/internal/control"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "sharedctl",
	Short: "Operate a sharedhealth server",
	Long: `sharedctl talks to the sharedhealth HTTP API: it shows the lifecycle
state, lists worlds and past regenerations, and can start a regeneration.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.sharedctl.yaml)")
	rootCmd.PersistentFlags().String("server", "http://localhost:8080", "server base URL")
	rootCmd.PersistentFlags().String("admin-key", "", "admin bearer token")
	viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	viper.BindPFlag("admin_key", rootCmd.PersistentFlags().Lookup("admin-key"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".sharedctl")
	}

	viper.SetEnvPrefix("SHAREDCTL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func observer() *control.Observer {
	return control.NewObserver(viper.GetString("server"))
}

func actor() (*control.Actor, error) {
	key := viper.GetString("admin_key")
	if key == "" {
		return nil, fmt.Errorf("admin key required (--admin-key, admin_key in config, or SHAREDCTL_ADMIN_KEY)")
	}
	return control.NewActor(viper.GetString("server"), key), nil
}
