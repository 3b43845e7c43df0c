package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/fluxbase-eu/fluxbundle/cli/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage project configuration",
	Long:  `View and create the fluxbundle.yaml project configuration.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create fluxbundle.yaml with default settings",
	Long: `Write a fluxbundle.yaml with the default settings to the project directory.

Examples:
  fluxbundle config init
  fluxbundle config init -C packages/ui`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

var configViewCmd = &cobra.Command{
	Use:   "view",
	Short: "Display the resolved configuration",
	Long: `Show the configuration after defaults, fluxbundle.yaml, .env files and
FLUXBUNDLE_* environment variables are applied.

Examples:
  fluxbundle config view
  fluxbundle config view --output json`,
	Args: cobra.NoArgs,
	RunE: runConfigView,
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configViewCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	configPath := cfgFile
	if configPath == "" {
		configPath = filepath.Join(projectDir, config.ConfigName+".yaml")
	}

	// Check if config already exists
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists at %s", configPath)
	}

	data, err := yaml.Marshal(config.Default())
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to create config: %w", err)
	}

	GetFormatter().PrintSuccess(fmt.Sprintf("Configuration file created at: %s", configPath))
	return nil
}

func runConfigView(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	formatter := GetFormatter()
	if formatter.IsTable() {
		// Tables don't fit nested settings; show YAML instead
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		formatter.PrintText(string(data))
		return nil
	}
	return formatter.Print(cfg)
}
