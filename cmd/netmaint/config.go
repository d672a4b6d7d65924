package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agent462/netmaint/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the netmaint configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a config file with the default settings",
	Long: `Write the default configuration as YAML.

Without a path the file goes to $XDG_CONFIG_HOME/netmaint/config.yaml
(or ~/.config/netmaint/config.yaml). An existing file is kept unless
--force is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: initConfig,
}

var configPathsCmd = &cobra.Command{
	Use:   "paths",
	Short: "List the locations searched for a config file",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		for _, p := range config.SearchPaths() {
			state := "missing"
			if _, err := os.Stat(p); err == nil {
				state = "found"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", p, state)
		}
	},
}

func init() {
	configInitCmd.Flags().Bool("force", false, "Overwrite an existing file")
	configCmd.AddCommand(configInitCmd, configPathsCmd)
	rootCmd.AddCommand(configCmd)
}

func initConfig(cmd *cobra.Command, args []string) error {
	path := config.DefaultConfigPath()
	if len(args) == 1 {
		path = args[0]
	}
	if path == "" {
		return fmt.Errorf("no home directory, pass a path")
	}

	force, _ := cmd.Flags().GetBool("force")
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	if err := config.Save(path, config.DefaultConfig()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}
