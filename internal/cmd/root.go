// Package cmd wires the agentteams CLI: the run command that dispatches
// agent teams and the teams management subcommands.
package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pi-runtime/agentteams/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "agentteams",
	Short: "Parallel agent team orchestrator",
	Long: `Agentteams dispatches a task across one or more agent teams. Each
teammate works the task from its own perspective, optionally exchanges
context with partners over communication rounds, and a final judge
aggregates verdicts and uncertainty across the team.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/agentteams/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("PI_TEAMS")
	// Nested keys map to env vars with underscores, e.g.
	// PI_TEAMS_RUNTIME_STABLE_PROFILE for runtime.stable_profile.
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	_ = viper.ReadInConfig()
}
